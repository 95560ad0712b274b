package mqtt

import (
	"sync"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// FakePublisher records published messages for test assertions.
// Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	statuses       []machine.Snapshot
	systemEvents   []SystemEvent
	systemPayloads [][]byte

	// PublishError, if set, is returned by PublishStatus.
	PublishError error
	// PublishSystemError, if set, is returned by PublishSystem.
	PublishSystemError error

	closed    bool
	connected bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true}
}

func (f *FakePublisher) PublishStatus(s machine.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.statuses = append(f.statuses, s)
	return nil
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.systemEvents = append(f.systemEvents, event)
	f.systemPayloads = append(f.systemPayloads, payload)
	return nil
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// IsConnected reports the value set by SetConnected.
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// SetConnected controls IsConnected.
func (f *FakePublisher) SetConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// Statuses returns a copy of the published snapshots.
func (f *FakePublisher) Statuses() []machine.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]machine.Snapshot(nil), f.statuses...)
}

// SystemEvents returns a copy of the published system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// SystemPayloads returns a copy of the system payloads.
func (f *FakePublisher) SystemPayloads() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.systemPayloads...)
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded messages and injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = nil
	f.systemEvents = nil
	f.systemPayloads = nil
	f.PublishError = nil
	f.PublishSystemError = nil
	f.closed = false
	f.connected = true
}
