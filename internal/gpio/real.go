//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the switches from the GPIO character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	tank   *gpiocdev.Line
	drawer *gpiocdev.Line
}

// NewRealReader opens both lines as pulled-up inputs.
func NewRealReader(p Pins) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(p.Chip)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", p.Chip, err)
	}

	tank, err := chip.RequestLine(p.Water, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request water tank pin %d: %w", p.Water, err)
	}

	drawer, err := chip.RequestLine(p.Ground, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		tank.Close()
		chip.Close()
		return nil, fmt.Errorf("request grounds drawer pin %d: %w", p.Ground, err)
	}

	return &RealReader{chip: chip, tank: tank, drawer: drawer}, nil
}

func (r *RealReader) Read() (Sample, error) {
	tankRaw, err := r.tank.Value()
	if err != nil {
		return Sample{}, fmt.Errorf("read water tank pin: %w", err)
	}
	drawerRaw, err := r.drawer.Value()
	if err != nil {
		return Sample{}, fmt.Errorf("read grounds drawer pin: %w", err)
	}
	return Sample{TankSeated: tankRaw == 0, DrawerSeated: drawerRaw == 0}, nil
}

// Close returns both lines to pulled-down inputs, the boot default,
// before releasing them.
func (r *RealReader) Close() error {
	var errs []error
	for name, line := range map[string]*gpiocdev.Line{"water tank": r.tank, "grounds drawer": r.drawer} {
		if line == nil {
			continue
		}
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", name, err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
