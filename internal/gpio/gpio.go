// Package gpio reads the reservoir seat switches.
// The real implementation uses the Linux GPIO character device;
// the fake replays scripted samples for tests.
package gpio

// Sample is one reading of both switches, already in logical form.
type Sample struct {
	TankSeated   bool
	DrawerSeated bool
}

// Reader reads the seat switches.
type Reader interface {
	// Read returns the current logical switch states.
	// Switches pull the line low when closed, so raw 0 = seated.
	Read() (Sample, error)
	// Close releases GPIO resources.
	Close() error
}

// Pins names the BCM lines the switches are wired to.
type Pins struct {
	Chip   string
	Water  int
	Ground int
}

// DefaultPins matches the reference wiring.
var DefaultPins = Pins{Chip: "gpiochip0", Water: 17, Ground: 27}
