package codec

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/coffee-machine/internal/broadcast"
	"github.com/sweeney/coffee-machine/internal/machine"
)

func sampleSnapshot() machine.Snapshot {
	return machine.Snapshot{
		Temperature:     79.2,
		WaterOK:         true,
		GroundsOK:       false,
		CupsSinceEmpty:  3,
		CupsSinceFilled: 4,
		WaterFlow:       5,
		PoweredOn:       true,
		Step:            machine.StepBrewing,
		UpdatedAt:       time.Date(2026, 3, 4, 10, 11, 12, 500, time.UTC),
	}
}

func sampleHistory() []machine.CoffeeRecord {
	return []machine.CoffeeRecord{
		{ID: "a1", Type: "Normal", Strength: 2, Amount: 1, Source: machine.SourceMachine, CreatedAt: time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)},
		{ID: "b,2", Type: "Espresso", Strength: 5, Amount: 2, Source: machine.SourceClient, CreatedAt: time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)},
	}
}

func TestLosslessStatus(t *testing.T) {
	for _, name := range []string{"json", "cbor", "csv"} {
		t.Run(name, func(t *testing.T) {
			c, err := ByName(name)
			if err != nil {
				t.Fatalf("ByName: %v", err)
			}
			want := sampleSnapshot()
			frame, err := c.Encode(broadcast.StatusMessage(want))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != broadcast.KindStatus {
				t.Fatalf("Kind: got %q", got.Kind)
			}
			if !got.Status.UpdatedAt.Equal(want.UpdatedAt) {
				t.Errorf("UpdatedAt: got %v, want %v", got.Status.UpdatedAt, want.UpdatedAt)
			}
			got.Status.UpdatedAt = want.UpdatedAt
			if got.Status != want {
				t.Errorf("status: got %+v, want %+v", got.Status, want)
			}
		})
	}
}

func TestLosslessHistory(t *testing.T) {
	for _, name := range []string{"json", "cbor", "csv"} {
		t.Run(name, func(t *testing.T) {
			c, _ := ByName(name)
			want := sampleHistory()
			frame, err := c.Encode(broadcast.HistoryMessage(want))
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := c.Decode(frame)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind != broadcast.KindHistory || len(got.History) != len(want) {
				t.Fatalf("got kind=%q len=%d", got.Kind, len(got.History))
			}
			for i := range want {
				g, w := got.History[i], want[i]
				if g.ID != w.ID || g.Type != w.Type || g.Strength != w.Strength || g.Amount != w.Amount || g.Source != w.Source || !g.CreatedAt.Equal(w.CreatedAt) {
					t.Errorf("record %d: got %+v, want %+v", i, g, w)
				}
			}
		})
	}
}

func TestJSONEnvelope(t *testing.T) {
	frame, err := JSON{}.Encode(broadcast.StatusMessage(sampleSnapshot()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var env struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != "status" {
		t.Errorf("type: got %q, want status", env.Type)
	}
	if got := env.Data["current_date"]; got != "04.03.2026" {
		t.Errorf("current_date: got %v, want 04.03.2026", got)
	}
	if got := env.Data["current_step"]; got != "brewing" {
		t.Errorf("current_step: got %v, want brewing", got)
	}
	if _, ok := env.Data["last_updated"]; !ok {
		t.Error("last_updated missing")
	}
}

func TestJSONOmitsDatesWhenNeverUpdated(t *testing.T) {
	frame, err := JSON{}.Encode(broadcast.StatusMessage(machine.Default()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(string(frame), "last_updated") {
		t.Errorf("unexpected last_updated in %s", frame)
	}
}

func TestTextEncode(t *testing.T) {
	frame, err := Text{}.Encode(broadcast.StatusMessage(sampleSnapshot()))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, want := range []string{"Temperature: 79.2°C", "Grounds: full", "Flow: 5 ml/s", "Step: brewing"} {
		if !strings.Contains(string(frame), want) {
			t.Errorf("missing %q in %q", want, frame)
		}
	}
	if _, err := (Text{}).Decode(frame); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Decode: got %v, want ErrUnsupported", err)
	}
}

func TestByName(t *testing.T) {
	c, err := ByName("")
	if err != nil || c.Name() != Default {
		t.Errorf("empty name: got %v, %v", c, err)
	}
	if _, err := ByName("xml"); err == nil {
		t.Error("expected error for unknown codec")
	}
	if c, _ := ByName("cbor"); !c.Binary() {
		t.Error("cbor should be binary")
	}
	if got := strings.Join(Names(), ","); got != "cbor,csv,json,text" {
		t.Errorf("Names: got %s", got)
	}
}

func TestCSVRejectsShortRow(t *testing.T) {
	if _, err := (CSV{}).Decode([]byte("status,22\n")); err == nil {
		t.Error("expected error for short status row")
	}
}

func TestJSONStatusHistory(t *testing.T) {
	older := sampleSnapshot()
	older.Step = machine.StepHeating
	frame, err := JSON{}.EncodeStatusHistory([]machine.Snapshot{sampleSnapshot(), older})
	if err != nil {
		t.Fatalf("EncodeStatusHistory: %v", err)
	}

	var env struct {
		Type string           `json:"type"`
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != KindStatusHistory || len(env.Data) != 2 {
		t.Fatalf("got type %q with %d entries", env.Type, len(env.Data))
	}
	if env.Data[1]["current_step"] != "heating" {
		t.Errorf("order not kept: %v", env.Data[1])
	}

	empty, _ := JSON{}.EncodeStatusHistory(nil)
	if !strings.Contains(string(empty), `"data":[]`) {
		t.Errorf("empty history should encode as an empty list: %s", empty)
	}
}
