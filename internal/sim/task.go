// Package sim advances the machine state through time-stepped tasks.
package sim

import (
	"fmt"
	"math"

	"github.com/sweeney/coffee-machine/internal/machine"
)

// Kind identifies a task variant.
type Kind string

const (
	KindHeatUp   Kind = "heat_up"
	KindCoolDown Kind = "cool_down"
	KindBrew     Kind = "brew"
)

// Schedule lengths in ticks.
const (
	HeatTicks  = 45
	RinseTicks = 15
	CoolTicks  = 180
)

// Task describes a unit of simulated work. Only the fields relevant to Kind
// are used.
type Task struct {
	Kind   Kind
	Target float64        // HeatUp
	Recipe machine.Recipe // Brew
	Amount int            // Brew
}

// HeatUp returns a task that heats the machine to target.
func HeatUp(target float64) Task {
	return Task{Kind: KindHeatUp, Target: target}
}

// CoolDown returns a task that cools the machine to room temperature and
// powers it off.
func CoolDown() Task {
	return Task{Kind: KindCoolDown}
}

// Brew returns a task that brews amount cups following r.
func Brew(r machine.Recipe, amount int) Task {
	return Task{Kind: KindBrew, Recipe: r, Amount: amount}
}

func (t Task) String() string {
	switch t.Kind {
	case KindHeatUp:
		return fmt.Sprintf("heat_up(%.1f)", t.Target)
	case KindBrew:
		return fmt.Sprintf("brew(%s x%d)", t.Recipe.Name, t.Amount)
	default:
		return string(t.Kind)
	}
}

func (t Task) validate() error {
	switch t.Kind {
	case KindHeatUp:
		if t.Target <= machine.RoomTemp {
			return fmt.Errorf("heat target %.1f not above room temperature: %w", t.Target, machine.ErrInvalidOperation)
		}
	case KindCoolDown:
	case KindBrew:
		if !machine.ValidAmount(t.Amount) {
			return fmt.Errorf("unsupported amount %d: %w", t.Amount, machine.ErrInvalidOperation)
		}
		if t.Recipe.Name == "" {
			return fmt.Errorf("brew without recipe: %w", machine.ErrInvalidOperation)
		}
	default:
		return fmt.Errorf("unknown task kind %q: %w", t.Kind, machine.ErrInvalidOperation)
	}
	return nil
}

type phaseKind int

const (
	phaseHeat phaseKind = iota
	phaseCool
	phaseGrind
	phasePress
	phaseMoisten
	phaseBrew
	phaseReturn
)

// phase is one stretch of ticks sharing a single update rule.
type phase struct {
	kind  phaseKind
	ticks int
	// check reservoirs before the first tick
	check bool
	// heat and cool interpolation
	from, to float64
	// ticks of the nominal schedule already behind us when resuming
	offset int
}

// plan expands t into its phases given the state it starts from.
// An empty plan means the terminal update applies immediately.
func plan(t Task, snap machine.Snapshot) []phase {
	switch t.Kind {
	case KindHeatUp:
		span := t.Target - machine.RoomTemp
		if snap.Temperature >= t.Target {
			return nil
		}
		n := HeatTicks
		if snap.Temperature > machine.RoomTemp {
			n = int(float64(HeatTicks) * (t.Target - snap.Temperature) / span)
		}
		if n <= 0 {
			return nil
		}
		return []phase{{kind: phaseHeat, ticks: n, from: snap.Temperature, to: t.Target, offset: HeatTicks - n}}

	case KindCoolDown:
		if snap.Temperature <= machine.RoomTemp {
			return nil
		}
		span := machine.BrewTemp - machine.RoomTemp
		n := int(float64(CoolTicks) * (snap.Temperature - machine.RoomTemp) / span)
		if n <= 0 {
			return nil
		}
		return []phase{{kind: phaseCool, ticks: n, from: snap.Temperature, to: machine.RoomTemp}}

	case KindBrew:
		r := t.Recipe
		return []phase{
			{kind: phaseGrind, ticks: r.GrindTicks, check: true},
			{kind: phasePress, ticks: r.PressTicks},
			{kind: phaseMoisten, ticks: r.MoistTicks, check: true},
			{kind: phaseBrew, ticks: r.BrewTicks * t.Amount},
			{kind: phaseReturn, ticks: r.ReturnTicks},
		}
	}
	return nil
}

// applyTick applies tick i (1-based) of p to sn.
func applyTick(p phase, i int, sn *machine.Snapshot) {
	switch p.kind {
	case phaseHeat:
		sn.Step = machine.StepHeating
		sn.PoweredOn = true
		sn.Temperature = interpolate(p.from, p.to, i, p.ticks)
		sn.WaterFlow = 0
		if p.offset+i > HeatTicks-RinseTicks {
			sn.WaterFlow = machine.FlowRate
		}
	case phaseCool:
		sn.Step = machine.StepCooling
		sn.PoweredOn = true
		sn.Temperature = interpolate(p.from, p.to, i, p.ticks)
		sn.WaterFlow = 0
	case phaseGrind:
		brewStep(sn, machine.StepGrinding, 0)
	case phasePress:
		brewStep(sn, machine.StepPressing, 0)
	case phaseMoisten:
		brewStep(sn, machine.StepMoistening, machine.FlowRate)
	case phaseBrew:
		brewStep(sn, machine.StepBrewing, machine.FlowRate)
	case phaseReturn:
		brewStep(sn, machine.StepReturning, 0)
	}
}

func brewStep(sn *machine.Snapshot, step machine.Step, flow int) {
	sn.Step = step
	sn.PoweredOn = true
	sn.WaterFlow = flow
}

// applyTerminal applies the completion update of t.
func applyTerminal(t Task, sn *machine.Snapshot) {
	sn.Step = machine.StepWaiting
	sn.WaterFlow = 0
	switch t.Kind {
	case KindHeatUp:
		sn.Temperature = t.Target
		sn.PoweredOn = true
	case KindCoolDown:
		sn.Temperature = machine.RoomTemp
		sn.PoweredOn = false
	case KindBrew:
		sn.RecordBrew(t.Amount)
	}
}

// checkReservoirs reports the blocking step label, water first.
func checkReservoirs(sn machine.Snapshot) (machine.Step, bool) {
	if !sn.WaterOK {
		return machine.StepWaterEmpty, false
	}
	if !sn.GroundsOK {
		return machine.StepGroundsFull, false
	}
	return "", true
}

func interpolate(from, to float64, i, n int) float64 {
	if n <= 0 || i >= n {
		return to
	}
	v := from + (to-from)*float64(i)/float64(n)
	return math.Round(v*10) / 10
}
