package machine

import "errors"

var (
	// ErrInvalidOperation is returned when a command is not allowed in the
	// current state, e.g. maintenance while powered off or while a task runs.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrResourceDepleted is returned when a brew aborts because the water
	// tank is empty or the grounds bin is full.
	ErrResourceDepleted = errors.New("resource depleted")

	// ErrConnectionLost is returned by observers whose connection is gone.
	ErrConnectionLost = errors.New("connection lost")
)
