package codec

import (
	"encoding/json"
	"fmt"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/machine"
)

// JSON encodes messages as {"type":"status","data":{...}} and
// {"type":"coffee_history","data":[...]}.
type JSON struct{}

func (JSON) Name() string { return "json" }
func (JSON) Binary() bool { return false }

type jsonEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (JSON) Encode(m broadcast.Message) ([]byte, error) {
	var data any
	switch m.Kind {
	case broadcast.KindStatus:
		data = toStatusWire(m.Status)
	case broadcast.KindHistory:
		data = toRecordsWire(m.History)
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Data any    `json:"data"`
	}{m.Kind, data})
}

func (JSON) Decode(b []byte) (broadcast.Message, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return broadcast.Message{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case broadcast.KindStatus:
		var w statusWire
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return broadcast.Message{}, fmt.Errorf("decode status: %w", err)
		}
		s, err := fromStatusWire(w)
		if err != nil {
			return broadcast.Message{}, err
		}
		return broadcast.StatusMessage(s), nil
	case broadcast.KindHistory:
		var ws []recordWire
		if err := json.Unmarshal(env.Data, &ws); err != nil {
			return broadcast.Message{}, fmt.Errorf("decode history: %w", err)
		}
		h, err := fromRecordsWire(ws)
		if err != nil {
			return broadcast.Message{}, err
		}
		return broadcast.HistoryMessage(h), nil
	}
	return broadcast.Message{}, fmt.Errorf("unknown message type %q", env.Type)
}

// KindStatusHistory tags a list of persisted statuses.
const KindStatusHistory = "status_history"

// EncodeStatusHistory encodes snapshots as
// {"type":"status_history","data":[...]} in the status wire form.
func (JSON) EncodeStatusHistory(snaps []machine.Snapshot) ([]byte, error) {
	ws := make([]statusWire, len(snaps))
	for i, s := range snaps {
		ws[i] = toStatusWire(s)
	}
	return json.Marshal(struct {
		Type string       `json:"type"`
		Data []statusWire `json:"data"`
	}{KindStatusHistory, ws})
}
