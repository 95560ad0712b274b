// Package status tracks daemon-level state for the status page, the JSON
// endpoint and MQTT lifecycle events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/coffee-machine/internal/machine"
	"github.com/sweeney/coffee-machine/internal/panel"
)

// Config is the configuration shown on the status page.
type Config struct {
	TickMs         int
	StandbyAfterS  int
	CoolDownAfterS int
	HeartbeatS     int
	Broker         string
	HTTPAddr       string
	DBPath         string
	Codecs         []string
	GPIO           bool
}

// Panel is the seat-switch state.
type Panel struct {
	Baselined    bool
	TankSeated   bool
	DrawerSeated bool
	Counts       panel.Counts
}

// Snapshot is a point-in-time view of daemon state. It is a value type.
type Snapshot struct {
	Machine       machine.Snapshot
	Panel         Panel
	Observers     int
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker. now may be nil for wall time.
func NewTracker(startTime time.Time, cfg Config, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		snap: Snapshot{
			Machine:   machine.Default(),
			StartTime: startTime,
			Config:    cfg,
		},
		now: now,
	}
}

// PublishStatus records the latest machine snapshot. It lets the tracker
// sit alongside the broadcaster as a supervisor publisher.
func (t *Tracker) PublishStatus(s machine.Snapshot) {
	t.mu.Lock()
	t.snap.Machine = s
	t.mu.Unlock()
}

// SetPanel records the seat-switch state.
func (t *Tracker) SetPanel(p Panel) {
	t.mu.Lock()
	t.snap.Panel = p
	t.mu.Unlock()
}

// SetObservers records the number of connected observers.
func (t *Tracker) SetObservers(n int) {
	t.mu.Lock()
	t.snap.Observers = n
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a copy of the daemon state with Now set.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Config.Codecs = append([]string(nil), s.Config.Codecs...)
	s.Now = t.now()
	return s
}
