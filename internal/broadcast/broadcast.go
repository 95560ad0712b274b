// Package broadcast fans machine snapshots out to connected observers.
package broadcast

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Message kinds.
const (
	KindStatus  = "status"
	KindHistory = "coffee_history"
)

// Message is one outgoing frame. Status is set for KindStatus, History for
// KindHistory.
type Message struct {
	Kind    string
	Status  machine.Snapshot
	History []machine.CoffeeRecord
}

// StatusMessage wraps a snapshot.
func StatusMessage(s machine.Snapshot) Message {
	return Message{Kind: KindStatus, Status: s}
}

// HistoryMessage wraps a coffee history.
func HistoryMessage(h []machine.CoffeeRecord) Message {
	return Message{Kind: KindHistory, History: h}
}

// Observer receives messages. Send must not block for long; a returned error
// means the observer is gone and it will be dropped.
type Observer interface {
	ID() string
	Send(Message) error
}

// Broadcaster maintains the set of connected observers.
type Broadcaster struct {
	mu        sync.Mutex
	observers map[string]Observer
	log       zerolog.Logger

	onChange func(n int)
}

// New creates an empty Broadcaster.
func New(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		observers: make(map[string]Observer),
		log:       log.With().Str("component", "broadcast").Logger(),
	}
}

// OnChange registers fn to be called with the observer count whenever it
// changes. Must be set before use.
func (b *Broadcaster) OnChange(fn func(n int)) {
	b.onChange = fn
}

// Join sends the current snapshot to obs and adds it to the set. current is
// read under the broadcast lock, so any later publish is at least as new as
// what obs was sent.
func (b *Broadcaster) Join(obs Observer, current func() machine.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := obs.Send(StatusMessage(current())); err != nil {
		return err
	}
	b.observers[obs.ID()] = obs
	b.changed()
	return nil
}

// Leave removes obs. Unknown observers are ignored.
func (b *Broadcaster) Leave(obs Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.observers[obs.ID()]; ok {
		delete(b.observers, obs.ID())
		b.changed()
	}
}

// Publish sends msg to every observer. Observers whose Send fails are
// removed; delivery to the others continues.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := false
	for id, obs := range b.observers {
		if err := obs.Send(msg); err != nil {
			b.log.Debug().Err(err).Str("observer", id).Msg("dropping observer")
			delete(b.observers, id)
			removed = true
		}
	}
	if removed {
		b.changed()
	}
}

// PublishStatus publishes a status snapshot.
func (b *Broadcaster) PublishStatus(s machine.Snapshot) {
	b.Publish(StatusMessage(s))
}

// SendTo unicasts msg to obs. A failing observer is removed if present.
func (b *Broadcaster) SendTo(obs Observer, msg Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := obs.Send(msg); err != nil {
		if _, ok := b.observers[obs.ID()]; ok {
			delete(b.observers, obs.ID())
			b.changed()
		}
		return err
	}
	return nil
}

// Len returns the number of connected observers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.observers)
}

func (b *Broadcaster) changed() {
	if b.onChange != nil {
		b.onChange(len(b.observers))
	}
}
