package machine

import (
	"fmt"
	"sync"
	"time"
)

// State is the single shared physical state of the machine.
//
// Writers are serialized by the sim supervisor (one running task at a time);
// the RWMutex only makes the fields safe to read from other goroutines.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewState creates a State initialised from snap.
// Pass Default() for a fresh machine or a snapshot loaded from a store.
func NewState(snap Snapshot) *State {
	if snap.Step == "" {
		snap.Step = StepWaiting
	}
	return &State{snap: snap, now: time.Now}
}

// SetNow replaces the time source used for UpdatedAt. Used by tests.
func (s *State) SetNow(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Mutate applies fn to the state and returns the resulting snapshot.
// UpdatedAt is stamped after fn returns.
func (s *State) Mutate(fn func(*Snapshot)) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = s.now()
	return s.snap
}

// ApplyMaintenance resets the reservoir selected by kind.
// Refilling water clears only the water counter; emptying grounds clears only
// the grounds counter. Fails with ErrInvalidOperation while powered off.
func (s *State) ApplyMaintenance(kind Maintenance) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.PoweredOn {
		return s.snap, fmt.Errorf("%s while powered off: %w", kind, ErrInvalidOperation)
	}
	switch kind {
	case RefillWater:
		s.snap.WaterOK = true
		s.snap.CupsSinceFilled = 0
	case EmptyGrounds:
		s.snap.GroundsOK = true
		s.snap.CupsSinceEmpty = 0
	default:
		return s.snap, fmt.Errorf("unknown maintenance %q: %w", kind, ErrInvalidOperation)
	}
	s.snap.Step = StepWaiting
	s.snap.WaterFlow = 0
	s.snap.UpdatedAt = s.now()
	return s.snap, nil
}

// RecordBrew adds amount cups to both counters and recomputes the reservoir
// flags against their capacities.
func (snap *Snapshot) RecordBrew(amount int) {
	snap.CupsSinceEmpty += amount
	snap.CupsSinceFilled += amount
	snap.GroundsOK = snap.CupsSinceEmpty < GroundsCapacity
	snap.WaterOK = snap.CupsSinceFilled < WaterCapacity
}
