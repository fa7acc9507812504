package rules

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethersentinel/sentinel/internal/risk"
)

// MemoryHistory is an in-memory HistoryProvider for development and tests.
type MemoryHistory struct {
	mu        sync.RWMutex
	transfers []Transfer
	flagged   map[string]bool
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{flagged: make(map[string]bool)}
}

// Add records transfers.
func (m *MemoryHistory) Add(transfers ...Transfer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range transfers {
		tr.From = strings.ToLower(tr.From)
		tr.To = strings.ToLower(tr.To)
		m.transfers = append(m.transfers, tr)
	}
}

// Flag marks an address as known-bad.
func (m *MemoryHistory) Flag(address string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flagged[strings.ToLower(address)] = true
}

// History returns transfers touching the target within the window.
func (m *MemoryHistory) History(_ context.Context, target risk.Target, windowDays int) ([]Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().AddDate(0, 0, -windowDays)
	var out []Transfer
	for _, tr := range m.transfers {
		if windowDays > 0 && tr.Timestamp.Before(cutoff) {
			continue
		}
		if target.Kind == risk.KindAddress && (tr.From == target.Reference || tr.To == target.Reference) {
			out = append(out, tr)
		}
	}
	return out, nil
}

// IsFlagged reports whether address is on the known-bad list.
func (m *MemoryHistory) IsFlagged(_ context.Context, address string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flagged[strings.ToLower(address)]
}
