package testutil

import (
	"fmt"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Item returns a waiting item that arrived offset after Epoch.
func Item(id, category string, offset time.Duration, factors ...domain.Factor) domain.WaitingItem {
	return domain.WaitingItem{
		ID:        id,
		Category:  domain.Category(category),
		ArrivedAt: Epoch.Add(offset),
		Factors:   factors,
		Status:    domain.StatusWaiting,
	}
}

// Items returns n waiting items of one category arriving a minute apart,
// with IDs "<prefix>-000", "<prefix>-001", ...
func Items(prefix, category string, n int) []domain.WaitingItem {
	out := make([]domain.WaitingItem, n)
	for i := range out {
		out[i] = Item(fmt.Sprintf("%s-%03d", prefix, i), category, time.Duration(i)*time.Minute)
	}
	return out
}

// Worker returns an available worker with the given specializations.
func Worker(id string, specs ...domain.Category) domain.Worker {
	return domain.Worker{
		ID:              id,
		Availability:    domain.AvailabilityAvailable,
		Specializations: specs,
	}
}
