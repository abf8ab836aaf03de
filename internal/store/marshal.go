package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// marshalFactors converts item factors to JSON TEXT for storage.
// Nil and empty both store as "[]".
func marshalFactors(fs []domain.Factor) (string, error) {
	if len(fs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(fs)
	if err != nil {
		return "", fmt.Errorf("marshal factors: %w", err)
	}
	return string(data), nil
}

func unmarshalFactors(data string) ([]domain.Factor, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var fs []domain.Factor
	if err := json.Unmarshal([]byte(data), &fs); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	return fs, nil
}

func marshalSpecializations(cs []domain.Category) (string, error) {
	if len(cs) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(cs)
	if err != nil {
		return "", fmt.Errorf("marshal specializations: %w", err)
	}
	return string(data), nil
}

func unmarshalSpecializations(data string) ([]domain.Category, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var cs []domain.Category
	if err := json.Unmarshal([]byte(data), &cs); err != nil {
		return nil, fmt.Errorf("unmarshal specializations: %w", err)
	}
	return cs, nil
}

// Timestamps are stored as unix nanoseconds and read back in UTC.
func toUnixNano(t time.Time) int64 { return t.UTC().UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
