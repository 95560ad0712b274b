// Package protocol interprets the commands an observer sends.
//
// Each connection owns a Session. Sessions are independent: every observer
// walks the menu on its own while all of them see the same machine.
package protocol

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Wire commands accepted in the ready state.
const (
	CmdHeatUp         = "HeatUp"
	CmdBrew           = "Brew"
	CmdWaterFillUp    = "WaterFillUp"
	CmdGroundClearing = "GroundClearing"
	CmdCoolDown       = "CoolDown"
	CmdHistory        = "History"
)

// State is the position of a session in the command menu.
type State int

const (
	StateReady State = iota
	StateAwaitAmount
	StateAwaitCoffeeChoice
)

func (s State) String() string {
	switch s {
	case StateAwaitAmount:
		return "await_amount"
	case StateAwaitCoffeeChoice:
		return "await_coffee_choice"
	default:
		return "ready"
	}
}

// Machine is the task supervisor as seen by a session.
type Machine interface {
	Heat() error
	CoolDown() error
	Brew(r machine.Recipe, amount int) error
	Maintain(kind machine.Maintenance) (machine.Snapshot, error)
}

// History serves the coffee history.
type History interface {
	SendHistory(ctx context.Context) error
	SaveCoffee(ctx context.Context, rec machine.CoffeeRecord) error
}

// Toucher records activity.
type Toucher interface {
	Touch()
}

// Deps are shared by all sessions.
type Deps struct {
	Machine  Machine
	History  History
	Activity Toucher
	Menu     machine.Menu
	Now      func() time.Time
	Logger   zerolog.Logger
}

// Session is the per-connection command state machine. It is not safe for
// concurrent use; each connection feeds its own session from one goroutine.
type Session struct {
	deps   Deps
	log    zerolog.Logger
	state  State
	amount int
}

// NewSession creates a session in the ready state.
func NewSession(observer string, deps Deps) *Session {
	if deps.Menu == nil {
		deps.Menu = machine.DefaultMenu()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Session{
		deps:  deps,
		log:   deps.Logger.With().Str("observer", observer).Logger(),
		state: StateReady,
	}
}

func (s *Session) now() time.Time { return s.deps.Now() }

// State returns the current menu state.
func (s *Session) State() State { return s.state }

// Amount returns the pending cup count chosen in the amount step.
func (s *Session) Amount() int { return s.amount }

// Handle processes one inbound message. Command failures are logged, never
// returned: a bad command must not end the connection.
func (s *Session) Handle(ctx context.Context, msg string) {
	if s.deps.Activity != nil {
		s.deps.Activity.Touch()
	}
	msg = strings.TrimSpace(msg)

	if strings.HasPrefix(msg, "{") {
		rec, err := ParseCoffeeRecord([]byte(msg), s.now())
		switch {
		case err == nil:
			if s.deps.History != nil {
				if err := s.deps.History.SaveCoffee(ctx, rec); err != nil {
					s.log.Warn().Err(err).Msg("save coffee record")
				}
			}
			return
		case !errors.Is(err, ErrNotJSON):
			s.log.Debug().Err(err).Msg("ignoring incomplete record")
			return
		}
	}

	switch s.state {
	case StateAwaitAmount:
		n, err := strconv.Atoi(msg)
		if err != nil || !machine.ValidAmount(n) {
			s.log.Debug().Str("input", msg).Msg("invalid amount")
			s.state = StateReady
			return
		}
		s.amount = n
		s.state = StateAwaitCoffeeChoice

	case StateAwaitCoffeeChoice:
		if r, ok := s.deps.Menu.Lookup(msg); ok {
			if err := s.deps.Machine.Brew(r, s.amount); err != nil {
				s.log.Warn().Err(err).Str("coffee", msg).Msg("brew")
			}
			s.state = StateReady
			return
		}
		s.state = s.dispatch(ctx, msg)

	default:
		s.state = s.dispatch(ctx, msg)
	}
}

// dispatch runs a ready-state command and returns the next state.
func (s *Session) dispatch(ctx context.Context, msg string) State {
	switch msg {
	case CmdHeatUp:
		if err := s.deps.Machine.Heat(); err != nil {
			s.log.Warn().Err(err).Msg("heat up")
		}
	case CmdBrew:
		s.amount = 0
		return StateAwaitAmount
	case CmdWaterFillUp:
		s.maintain(machine.RefillWater)
	case CmdGroundClearing:
		s.maintain(machine.EmptyGrounds)
	case CmdCoolDown:
		if err := s.deps.Machine.CoolDown(); err != nil {
			s.log.Warn().Err(err).Msg("cool down")
		}
	case CmdHistory:
		if s.deps.History != nil {
			if err := s.deps.History.SendHistory(ctx); err != nil {
				s.log.Warn().Err(err).Msg("send history")
			}
		}
	default:
		s.log.Debug().Str("input", msg).Msg("unknown command")
	}
	return StateReady
}

// maintain applies a maintenance command. Rejections are expected while the
// machine is off or busy and are only logged.
func (s *Session) maintain(kind machine.Maintenance) {
	if _, err := s.deps.Machine.Maintain(kind); err != nil {
		s.log.Debug().Err(err).Str("maintenance", string(kind)).Msg("maintenance ignored")
	}
}
