package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestItem creates a waiting item arriving offset minutes after t0.
func createTestItem(id, category string, offset int) domain.WaitingItem {
	return domain.WaitingItem{
		ID:        id,
		Category:  domain.Category(category),
		ArrivedAt: t0.Add(time.Duration(offset) * time.Minute),
		Status:    domain.StatusWaiting,
	}
}

// createTestWorker creates an available worker.
func createTestWorker(id string, specs ...domain.Category) domain.Worker {
	return domain.Worker{
		ID:              id,
		Availability:    domain.AvailabilityAvailable,
		Specializations: specs,
	}
}
