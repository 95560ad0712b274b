package gpio

import (
	"errors"
	"sync"
)

// FakeReader replays scripted samples. Safe for concurrent use.
type FakeReader struct {
	mu      sync.Mutex
	samples []Sample
	index   int
	closed  bool
	err     error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...Sample) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next sample, repeating the last one once exhausted.
func (f *FakeReader) Read() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Sample{}, f.err
	}
	if len(f.samples) == 0 {
		return Sample{}, errors.New("no samples configured")
	}
	s := f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return s, nil
}

// Push appends samples to the script.
func (f *FakeReader) Push(samples ...Sample) {
	f.mu.Lock()
	f.samples = append(f.samples, samples...)
	f.mu.Unlock()
}

// Fail makes every subsequent Read return err; nil clears it.
func (f *FakeReader) Fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *FakeReader) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
