// Package machine holds the physical state of the simulated coffee machine.
// This package has NO external dependencies and performs no timing of its own;
// everything that advances the state over time lives in package sim.
package machine

import "time"

// Step labels the activity the machine is currently performing.
type Step string

const (
	StepWaiting     Step = "waiting"
	StepHeating     Step = "heating"
	StepCooling     Step = "cooling"
	StepGrinding    Step = "grinding"
	StepPressing    Step = "pressing"
	StepMoistening  Step = "moistening"
	StepBrewing     Step = "brewing"
	StepReturning   Step = "returning"
	StepWaterEmpty  Step = "water empty"
	StepGroundsFull Step = "grounds full"
)

// Physical limits of the simulation.
const (
	// RoomTemp is the temperature of a cold machine (°C).
	RoomTemp = 22.0
	// BrewTemp is the operating temperature reached by heating (°C).
	BrewTemp = 94.0
	// FlowRate is the water flow while moistening, brewing or rinsing (ml/s).
	FlowRate = 5
	// GroundsCapacity is the number of cups after which the grounds bin is full.
	GroundsCapacity = 3
	// WaterCapacity is the number of cups after which the water tank is empty.
	WaterCapacity = 5
)

// Snapshot is a point-in-time view of the physical state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Temperature     float64
	WaterOK         bool
	GroundsOK       bool
	CupsSinceEmpty  int
	CupsSinceFilled int
	WaterFlow       int
	PoweredOn       bool
	Step            Step
	UpdatedAt       time.Time
}

// Default returns the state of a freshly installed, cold machine.
func Default() Snapshot {
	return Snapshot{
		Temperature: RoomTemp,
		WaterOK:     true,
		GroundsOK:   true,
		Step:        StepWaiting,
	}
}

// Maintenance identifies a reservoir service command.
type Maintenance string

const (
	RefillWater  Maintenance = "refill_water"
	EmptyGrounds Maintenance = "empty_grounds"
)

// CoffeeRecord is one entry of the coffee history.
type CoffeeRecord struct {
	ID        string
	Type      string
	Strength  int
	Amount    int
	Source    string // "machine" for completed brews, "client" for submitted records
	CreatedAt time.Time
}

// Record sources.
const (
	SourceMachine = "machine"
	SourceClient  = "client"
)
