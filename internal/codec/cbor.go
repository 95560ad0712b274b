package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sweeney/coffee-machine/internal/broadcast"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder mode: %v", err))
	}
}

// CBOR is the binary form of the JSON envelope.
type CBOR struct{}

func (CBOR) Name() string { return "cbor" }
func (CBOR) Binary() bool { return true }

type cborEnvelope struct {
	Type    string       `cbor:"type"`
	Status  *statusWire  `cbor:"status,omitempty"`
	History []recordWire `cbor:"history,omitempty"`
}

func (CBOR) Encode(m broadcast.Message) ([]byte, error) {
	env := cborEnvelope{Type: m.Kind}
	switch m.Kind {
	case broadcast.KindStatus:
		w := toStatusWire(m.Status)
		env.Status = &w
	case broadcast.KindHistory:
		env.History = toRecordsWire(m.History)
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}
	return encMode.Marshal(env)
}

func (CBOR) Decode(b []byte) (broadcast.Message, error) {
	var env cborEnvelope
	if err := decMode.Unmarshal(b, &env); err != nil {
		return broadcast.Message{}, fmt.Errorf("decode cbor: %w", err)
	}
	switch env.Type {
	case broadcast.KindStatus:
		if env.Status == nil {
			return broadcast.Message{}, fmt.Errorf("status frame without status")
		}
		s, err := fromStatusWire(*env.Status)
		if err != nil {
			return broadcast.Message{}, err
		}
		return broadcast.StatusMessage(s), nil
	case broadcast.KindHistory:
		h, err := fromRecordsWire(env.History)
		if err != nil {
			return broadcast.Message{}, err
		}
		return broadcast.HistoryMessage(h), nil
	}
	return broadcast.Message{}, fmt.Errorf("unknown message type %q", env.Type)
}
