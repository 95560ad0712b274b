// Package watchdog puts an unattended machine into standby and then cools it
// down.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	DefaultPeriod = 10 * time.Second
	DefaultSoft   = 60 * time.Second
	DefaultHard   = 120 * time.Second
)

// Controller is the part of the task supervisor the watchdog drives.
type Controller interface {
	PoweredOn() bool
	Idle() bool
	ForceWaiting()
	// CoolDownIfIdle starts a cool-down only if no task runs and stillIdle
	// holds at the moment of starting.
	CoolDownIfIdle(stillIdle func() bool) (bool, error)
}

// Action is what a check decided to do.
type Action int

const (
	ActionNone Action = iota
	ActionStandby
	ActionCoolDown
)

func (a Action) String() string {
	switch a {
	case ActionStandby:
		return "standby"
	case ActionCoolDown:
		return "cool_down"
	default:
		return "none"
	}
}

// Config holds watchdog settings. Zero durations take the defaults.
type Config struct {
	Period time.Duration
	Soft   time.Duration
	Hard   time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

// Watchdog is the single source of truth for inactivity.
type Watchdog struct {
	ctrl Controller
	cfg  Config
	log  zerolog.Logger

	mu           sync.Mutex
	lastActivity time.Time
	touches      uint64
	standby      bool
	coolingSent  bool
}

// New creates a Watchdog. The idle period starts now.
func New(ctrl Controller, cfg Config) *Watchdog {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Soft <= 0 {
		cfg.Soft = DefaultSoft
	}
	if cfg.Hard <= 0 {
		cfg.Hard = DefaultHard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Watchdog{
		ctrl:         ctrl,
		cfg:          cfg,
		log:          cfg.Logger.With().Str("component", "watchdog").Logger(),
		lastActivity: cfg.Now(),
	}
}

// Touch records activity.
func (w *Watchdog) Touch() {
	w.mu.Lock()
	w.lastActivity = w.cfg.Now()
	w.touches++
	w.standby = false
	w.coolingSent = false
	w.mu.Unlock()
}

// IdleFor returns how long there has been no activity as of now.
func (w *Watchdog) IdleFor(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastActivity)
}

// Check evaluates inactivity at now and acts on the controller.
func (w *Watchdog) Check(now time.Time) Action {
	if !w.ctrl.PoweredOn() || !w.ctrl.Idle() {
		return ActionNone
	}

	w.mu.Lock()
	seen := w.touches
	idle := now.Sub(w.lastActivity)
	action := ActionNone
	switch {
	case idle > w.cfg.Hard && !w.coolingSent:
		action = ActionCoolDown
		w.coolingSent = true
	case idle > w.cfg.Soft && !w.standby:
		action = ActionStandby
		w.standby = true
	}
	w.mu.Unlock()

	switch action {
	case ActionStandby:
		w.log.Info().Dur("idle", idle).Msg("standby")
		w.ctrl.ForceWaiting()
	case ActionCoolDown:
		started, err := w.ctrl.CoolDownIfIdle(func() bool { return w.untouchedSince(seen) })
		if err != nil {
			w.log.Warn().Err(err).Msg("start cool down")
		}
		if !started {
			w.log.Debug().Msg("activity before cool down, skipped")
			return ActionNone
		}
		w.log.Info().Dur("idle", idle).Msg("cooling down after inactivity")
	}
	return action
}

// untouchedSince reports whether Touch has not been called since the
// touch count was seen.
func (w *Watchdog) untouchedSince(seen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.touches == seen
}

// Run checks on every tick until ctx is done. A nil tick uses a ticker with
// the configured period.
func (w *Watchdog) Run(ctx context.Context, tick <-chan time.Time) {
	if tick == nil {
		t := time.NewTicker(w.cfg.Period)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			w.Check(w.cfg.Now())
		}
	}
}
