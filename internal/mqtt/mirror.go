package mqtt

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Mirror forwards supervisor snapshots to a Publisher, skipping snapshots
// that differ from the previous one only in their timestamp. The idle
// keep-alive would otherwise publish the same retained status every second.
type Mirror struct {
	pub Publisher
	log zerolog.Logger

	mu   sync.Mutex
	last machine.Snapshot
	have bool
}

// NewMirror creates a Mirror writing to pub.
func NewMirror(pub Publisher, log zerolog.Logger) *Mirror {
	return &Mirror{pub: pub, log: log.With().Str("component", "mqtt").Logger()}
}

// PublishStatus implements sim.Publisher.
func (m *Mirror) PublishStatus(s machine.Snapshot) {
	key := s
	key.UpdatedAt = time.Time{}

	m.mu.Lock()
	if m.have && key == m.last {
		m.mu.Unlock()
		return
	}
	m.last, m.have = key, true
	m.mu.Unlock()

	if err := m.pub.PublishStatus(s); err != nil {
		m.log.Warn().Err(err).Msg("status publish failed")
	}
}
