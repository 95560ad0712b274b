// Package codec encodes broadcast messages for the wire.
//
// Every codec is lossless for the status fields. JSON is the default and
// carries the {"type":..,"data":..} envelope; CBOR is the binary equivalent;
// CSV and text are line formats for simple clients.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/machine"
)

// ErrUnsupported is returned by codecs that cannot decode.
var ErrUnsupported = errors.New("codec does not support decoding")

// Codec turns messages into frames and back.
type Codec interface {
	Name() string
	// Binary reports whether frames must be sent as binary messages.
	Binary() bool
	Encode(broadcast.Message) ([]byte, error)
	Decode([]byte) (broadcast.Message, error)
}

// Default is the codec used when a client does not ask for one.
const Default = "json"

var registry = map[string]Codec{
	"json": JSON{},
	"cbor": CBOR{},
	"csv":  CSV{},
	"text": Text{},
}

// ByName returns the codec registered under name. An empty name selects
// Default.
func ByName(name string) (Codec, error) {
	if name == "" {
		name = Default
	}
	c, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	return c, nil
}

// Names lists the registered codecs.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

const dateLayout = "02.01.2006"

// statusWire is the wire form of a snapshot.
type statusWire struct {
	Temperature     float64 `json:"temperature" cbor:"temperature"`
	WaterOK         bool    `json:"water_ok" cbor:"water_ok"`
	GroundsOK       bool    `json:"grounds_ok" cbor:"grounds_ok"`
	CupsSinceEmpty  int     `json:"cups_since_empty" cbor:"cups_since_empty"`
	CupsSinceFilled int     `json:"cups_since_filled" cbor:"cups_since_filled"`
	WaterFlow       int     `json:"water_flow" cbor:"water_flow"`
	PoweredOn       bool    `json:"powered_on" cbor:"powered_on"`
	CurrentStep     string  `json:"current_step" cbor:"current_step"`
	LastUpdated     string  `json:"last_updated,omitempty" cbor:"last_updated,omitempty"`
	CurrentDate     string  `json:"current_date,omitempty" cbor:"current_date,omitempty"`
}

// recordWire is the wire form of a coffee record.
type recordWire struct {
	ID          string `json:"id" cbor:"id"`
	Type        string `json:"type" cbor:"type"`
	Strength    int    `json:"strength" cbor:"strength"`
	Amount      int    `json:"amount" cbor:"amount"`
	Source      string `json:"source,omitempty" cbor:"source,omitempty"`
	CreatedDate string `json:"createdDate" cbor:"createdDate"`
}

func toStatusWire(s machine.Snapshot) statusWire {
	w := statusWire{
		Temperature:     s.Temperature,
		WaterOK:         s.WaterOK,
		GroundsOK:       s.GroundsOK,
		CupsSinceEmpty:  s.CupsSinceEmpty,
		CupsSinceFilled: s.CupsSinceFilled,
		WaterFlow:       s.WaterFlow,
		PoweredOn:       s.PoweredOn,
		CurrentStep:     string(s.Step),
	}
	if !s.UpdatedAt.IsZero() {
		w.LastUpdated = s.UpdatedAt.Format(time.RFC3339Nano)
		w.CurrentDate = s.UpdatedAt.Format(dateLayout)
	}
	return w
}

func fromStatusWire(w statusWire) (machine.Snapshot, error) {
	s := machine.Snapshot{
		Temperature:     w.Temperature,
		WaterOK:         w.WaterOK,
		GroundsOK:       w.GroundsOK,
		CupsSinceEmpty:  w.CupsSinceEmpty,
		CupsSinceFilled: w.CupsSinceFilled,
		WaterFlow:       w.WaterFlow,
		PoweredOn:       w.PoweredOn,
		Step:            machine.Step(w.CurrentStep),
	}
	if w.LastUpdated != "" {
		t, err := time.Parse(time.RFC3339Nano, w.LastUpdated)
		if err != nil {
			return s, fmt.Errorf("last_updated: %w", err)
		}
		s.UpdatedAt = t
	}
	return s, nil
}

func toRecordWire(r machine.CoffeeRecord) recordWire {
	return recordWire{
		ID:          r.ID,
		Type:        r.Type,
		Strength:    r.Strength,
		Amount:      r.Amount,
		Source:      r.Source,
		CreatedDate: r.CreatedAt.Format(time.RFC3339Nano),
	}
}

func fromRecordWire(w recordWire) (machine.CoffeeRecord, error) {
	r := machine.CoffeeRecord{
		ID:       w.ID,
		Type:     w.Type,
		Strength: w.Strength,
		Amount:   w.Amount,
		Source:   w.Source,
	}
	t, err := time.Parse(time.RFC3339Nano, w.CreatedDate)
	if err != nil {
		return r, fmt.Errorf("createdDate: %w", err)
	}
	r.CreatedAt = t
	return r, nil
}

func toRecordsWire(h []machine.CoffeeRecord) []recordWire {
	out := make([]recordWire, 0, len(h))
	for _, r := range h {
		out = append(out, toRecordWire(r))
	}
	return out
}

func fromRecordsWire(ws []recordWire) ([]machine.CoffeeRecord, error) {
	out := make([]machine.CoffeeRecord, 0, len(ws))
	for _, w := range ws {
		r, err := fromRecordWire(w)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
