package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/coffee-machine/internal/machine"
)

var (
	// ErrNotJSON means the message is not a JSON object and should be read
	// as a plain command.
	ErrNotJSON = errors.New("not a json object")
	// ErrIncompleteRecord means the object lacks a required key.
	ErrIncompleteRecord = errors.New("incomplete coffee record")
)

var recordKeys = []string{"id", "type", "strength", "createdDate"}

// ParseCoffeeRecord decodes a client-submitted coffee record of the form
// {"id":..,"type":..,"strength":..,"createdDate":..}. id and strength may be
// strings or numbers. An unparseable createdDate is replaced by now.
func ParseCoffeeRecord(data []byte, now time.Time) (machine.CoffeeRecord, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return machine.CoffeeRecord{}, fmt.Errorf("%w: %v", ErrNotJSON, err)
	}
	for _, k := range recordKeys {
		if _, ok := raw[k]; !ok {
			return machine.CoffeeRecord{}, fmt.Errorf("missing %q: %w", k, ErrIncompleteRecord)
		}
	}

	rec := machine.CoffeeRecord{Source: machine.SourceClient, Amount: 1}
	rec.ID = scalar(raw["id"])
	rec.Type = scalar(raw["type"])

	strength, err := strconv.Atoi(scalar(raw["strength"]))
	if err != nil {
		return machine.CoffeeRecord{}, fmt.Errorf("strength: %w", ErrIncompleteRecord)
	}
	rec.Strength = strength

	if a, ok := raw["amount"]; ok {
		if n, err := strconv.Atoi(scalar(a)); err == nil && n > 0 {
			rec.Amount = n
		}
	}

	rec.CreatedAt = now
	if ts, err := time.Parse(time.RFC3339Nano, scalar(raw["createdDate"])); err == nil {
		rec.CreatedAt = ts
	}
	return rec, nil
}

// scalar renders a JSON string or number as plain text.
func scalar(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(v))
}
