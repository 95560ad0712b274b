package store

import (
	"context"
	"sync"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Memory is a Store that lives only as long as the process.
type Memory struct {
	mu      sync.Mutex
	status  *machine.Snapshot
	history []machine.Snapshot
	coffee  []machine.CoffeeRecord
	keep    int
}

// NewMemory creates an empty Memory store. keep bounds the status history;
// zero uses DefaultStatusHistoryKeep.
func NewMemory(keep int) *Memory {
	if keep <= 0 {
		keep = DefaultStatusHistoryKeep
	}
	return &Memory{keep: keep}
}

func (m *Memory) LoadStatus(context.Context) (machine.Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == nil {
		return machine.Snapshot{}, false, nil
	}
	return *m.status, true, nil
}

func (m *Memory) SaveStatus(_ context.Context, snap machine.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = &snap
	m.history = append(m.history, snap)
	if over := len(m.history) - m.keep; over > 0 {
		m.history = append([]machine.Snapshot(nil), m.history[over:]...)
	}
	return nil
}

func (m *Memory) StatusHistory(_ context.Context, limit int) ([]machine.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []machine.Snapshot
	for i := len(m.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

func (m *Memory) SaveCoffee(_ context.Context, rec machine.CoffeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coffee = append(m.coffee, rec)
	return nil
}

func (m *Memory) CoffeeHistory(_ context.Context, limit int) ([]machine.CoffeeRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	start := len(m.coffee) - limit
	if start < 0 {
		start = 0
	}
	return append([]machine.CoffeeRecord(nil), m.coffee[start:]...), nil
}

func (m *Memory) Close() error { return nil }
