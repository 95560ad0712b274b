// Package store persists the machine status and the coffee history.
package store

import (
	"context"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Store is the persistence side channel. Writes never coordinate tasks;
// the supervisor alone decides what runs.
type Store interface {
	// LoadStatus returns the last saved status; ok is false when none exists.
	LoadStatus(ctx context.Context) (snap machine.Snapshot, ok bool, err error)
	// SaveStatus stores snap as the current status and appends it to the
	// status history.
	SaveStatus(ctx context.Context, snap machine.Snapshot) error
	// StatusHistory returns up to limit recent statuses, newest first.
	StatusHistory(ctx context.Context, limit int) ([]machine.Snapshot, error)
	// SaveCoffee appends a record to the coffee history.
	SaveCoffee(ctx context.Context, rec machine.CoffeeRecord) error
	// CoffeeHistory returns up to limit recent records, oldest first.
	CoffeeHistory(ctx context.Context, limit int) ([]machine.CoffeeRecord, error)
	Close() error
}

// Defaults for history sizes.
const (
	DefaultStatusHistoryKeep = 10000
	DefaultHistoryLimit      = 100
)
