package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sweeney/coffee-machine/internal/broadcast"
)

// Text renders messages for humans. It cannot be decoded.
type Text struct{}

func (Text) Name() string { return "text" }
func (Text) Binary() bool { return false }

func (Text) Encode(m broadcast.Message) ([]byte, error) {
	switch m.Kind {
	case broadcast.KindStatus:
		s := toStatusWire(m.Status)
		updated := s.LastUpdated
		if updated == "" {
			updated = "never"
		}
		return []byte(fmt.Sprintf(
			"Temperature: %s°C, Water: %s, Grounds: %s, Cups since empty: %d, Cups since filled: %d, Flow: %d ml/s, Power: %s, Step: %s, Updated: %s",
			strconv.FormatFloat(s.Temperature, 'f', -1, 64),
			okString(s.WaterOK, "ok", "empty"),
			okString(s.GroundsOK, "ok", "full"),
			s.CupsSinceEmpty,
			s.CupsSinceFilled,
			s.WaterFlow,
			okString(s.PoweredOn, "on", "off"),
			s.CurrentStep,
			updated,
		)), nil

	case broadcast.KindHistory:
		if len(m.History) == 0 {
			return []byte("Coffee history: empty"), nil
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Coffee history (%d):", len(m.History))
		for _, r := range toRecordsWire(m.History) {
			fmt.Fprintf(&b, "\n  %s %s x%d strength %d (%s) at %s", r.ID, r.Type, r.Amount, r.Strength, r.Source, r.CreatedDate)
		}
		return []byte(b.String()), nil
	}
	return nil, fmt.Errorf("unknown message kind %q", m.Kind)
}

func (Text) Decode([]byte) (broadcast.Message, error) {
	return broadcast.Message{}, ErrUnsupported
}

func okString(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
