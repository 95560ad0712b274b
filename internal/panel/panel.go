package panel

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/gpio"
	"github.com/sweeney/coffee-machine/internal/machine"
)

// Maintainer applies a reservoir service command.
type Maintainer interface {
	Maintain(kind machine.Maintenance) (machine.Snapshot, error)
}

// Config configures a Panel.
type Config struct {
	Debounce time.Duration
	Now      func() time.Time
	// OnEvent, if set, sees every debounced transition.
	OnEvent func(Event)
	Logger  zerolog.Logger
}

// Panel polls the switches and services the reservoirs on re-seat.
type Panel struct {
	reader  gpio.Reader
	maint   Maintainer
	det     *Detector
	now     func() time.Time
	onEvent func(Event)
	log     zerolog.Logger
}

// New creates a Panel reading from r.
func New(r gpio.Reader, m Maintainer, cfg Config) *Panel {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Panel{
		reader:  r,
		maint:   m,
		det:     NewDetector(cfg.Debounce),
		now:     cfg.Now,
		onEvent: cfg.OnEvent,
		log:     cfg.Logger,
	}
}

// Run samples on every tick until ctx is done.
func (p *Panel) Run(ctx context.Context, tick <-chan time.Time) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			p.Poll()
		}
	}
}

// Poll takes one sample and acts on the resulting events.
func (p *Panel) Poll() []Event {
	s, err := p.reader.Read()
	if err != nil {
		p.log.Warn().Err(err).Msg("gpio read failed")
		return nil
	}
	events := p.det.Process(Input{Tank: s.TankSeated, Drawer: s.DrawerSeated, Time: p.now()})
	for _, e := range events {
		p.handle(e)
	}
	return events
}

func (p *Panel) handle(e Event) {
	p.log.Info().Str("event", string(e.Type)).Msg("seat switch")
	if p.onEvent != nil {
		p.onEvent(e)
	}

	var kind machine.Maintenance
	switch e.Type {
	case EventTankSeated:
		kind = machine.RefillWater
	case EventDrawerSeated:
		kind = machine.EmptyGrounds
	default:
		return
	}
	if _, err := p.maint.Maintain(kind); err != nil {
		p.log.Info().Err(err).Str("maintenance", string(kind)).Msg("maintenance not applied")
	}
}

// Baselined reports whether the switches have settled since startup.
func (p *Panel) Baselined() bool { return p.det.IsBaselined() }

// Counts returns the event tallies.
func (p *Panel) Counts() Counts { return p.det.Counts() }

// State returns the debounced switch levels.
func (p *Panel) State() (tank, drawer bool) { return p.det.CurrentState() }
