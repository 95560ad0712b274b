// Package panel watches the reservoir seat switches and turns a debounced
// re-seat into the matching maintenance command.
// The detector is pure: time is passed in with every sample.
package panel

import "time"

// Switch names a seat switch.
type Switch string

const (
	SwitchTank   Switch = "water_tank"
	SwitchDrawer Switch = "grounds_drawer"
)

// EventType is a debounced switch transition.
type EventType string

const (
	EventTankRemoved   EventType = "TANK_REMOVED"
	EventTankSeated    EventType = "TANK_SEATED"
	EventDrawerRemoved EventType = "DRAWER_REMOVED"
	EventDrawerSeated  EventType = "DRAWER_SEATED"
)

// Event is a transition plus the stable state of both switches after it.
type Event struct {
	Timestamp    time.Time
	Type         EventType
	TankSeated   bool
	DrawerSeated bool
}

// Input is one timestamped sample.
type Input struct {
	Tank   bool
	Drawer bool
	Time   time.Time
}

// Counts tallies events since startup.
type Counts struct {
	TankSeated    int
	TankRemoved   int
	DrawerSeated  int
	DrawerRemoved int
}

// channel is the debounce state of one switch.
type channel struct {
	stable       bool
	pending      bool
	hasPending   bool
	pendingSince time.Time
	baselined    bool
}

// Detector debounces both switches.
type Detector struct {
	debounce  time.Duration
	tank      channel
	drawer    channel
	baselined bool
	counts    Counts
}

// NewDetector creates a detector that requires a level to hold for
// debounce before it is accepted.
func NewDetector(debounce time.Duration) *Detector {
	return &Detector{debounce: debounce}
}

// Process consumes a sample and returns the resulting events. Nothing is
// emitted until both switches have a stable baseline. When both change in
// the same sample the tank event comes first.
func (d *Detector) Process(in Input) []Event {
	tankChanged := d.step(&d.tank, in.Tank, in.Time)
	drawerChanged := d.step(&d.drawer, in.Drawer, in.Time)

	if !d.baselined {
		d.baselined = d.tank.baselined && d.drawer.baselined
		return nil
	}

	var events []Event
	if tankChanged {
		events = append(events, d.event(in.Time, pick(d.tank.stable, EventTankSeated, EventTankRemoved)))
	}
	if drawerChanged {
		events = append(events, d.event(in.Time, pick(d.drawer.stable, EventDrawerSeated, EventDrawerRemoved)))
	}
	for _, e := range events {
		switch e.Type {
		case EventTankSeated:
			d.counts.TankSeated++
		case EventTankRemoved:
			d.counts.TankRemoved++
		case EventDrawerSeated:
			d.counts.DrawerSeated++
		case EventDrawerRemoved:
			d.counts.DrawerRemoved++
		}
	}
	return events
}

// step advances one channel and reports whether its stable level flipped.
func (d *Detector) step(ch *channel, level bool, now time.Time) bool {
	if ch.baselined && level == ch.stable {
		ch.hasPending = false
		return false
	}
	if !ch.hasPending || ch.pending != level {
		ch.pending = level
		ch.hasPending = true
		ch.pendingSince = now
		return false
	}
	if now.Sub(ch.pendingSince) < d.debounce {
		return false
	}

	ch.stable = level
	ch.hasPending = false
	if !ch.baselined {
		ch.baselined = true
		return false
	}
	return true
}

func (d *Detector) event(at time.Time, t EventType) Event {
	return Event{Timestamp: at, Type: t, TankSeated: d.tank.stable, DrawerSeated: d.drawer.stable}
}

func pick(seated bool, on, off EventType) EventType {
	if seated {
		return on
	}
	return off
}

// IsBaselined reports whether both switches have a stable level.
func (d *Detector) IsBaselined() bool { return d.baselined }

// CurrentState returns the stable levels.
func (d *Detector) CurrentState() (tank, drawer bool) {
	return d.tank.stable, d.drawer.stable
}

// Counts returns the event tallies.
func (d *Detector) Counts() Counts { return d.counts }
