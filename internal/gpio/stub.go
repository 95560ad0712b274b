//go:build !linux

package gpio

import "errors"

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(Pins) (*RealReader, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

func (r *RealReader) Read() (Sample, error) {
	return Sample{}, errors.New("gpio: not supported")
}

func (r *RealReader) Close() error { return nil }
