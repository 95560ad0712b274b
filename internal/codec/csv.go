package codec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/sweeney/coffee-machine/internal/broadcast"
)

// CSV encodes a status as one record:
//
//	status,temperature,water_ok,grounds_ok,cups_since_empty,cups_since_filled,water_flow,powered_on,current_step,last_updated,current_date
//
// and a history as a "coffee_history,<n>" header followed by n records of
// id,type,strength,amount,source,createdDate.
type CSV struct{}

func (CSV) Name() string { return "csv" }
func (CSV) Binary() bool { return false }

func (CSV) Encode(m broadcast.Message) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	switch m.Kind {
	case broadcast.KindStatus:
		s := toStatusWire(m.Status)
		if err := w.Write([]string{
			broadcast.KindStatus,
			strconv.FormatFloat(s.Temperature, 'f', -1, 64),
			strconv.FormatBool(s.WaterOK),
			strconv.FormatBool(s.GroundsOK),
			strconv.Itoa(s.CupsSinceEmpty),
			strconv.Itoa(s.CupsSinceFilled),
			strconv.Itoa(s.WaterFlow),
			strconv.FormatBool(s.PoweredOn),
			s.CurrentStep,
			s.LastUpdated,
			s.CurrentDate,
		}); err != nil {
			return nil, err
		}
	case broadcast.KindHistory:
		if err := w.Write([]string{broadcast.KindHistory, strconv.Itoa(len(m.History))}); err != nil {
			return nil, err
		}
		for _, r := range toRecordsWire(m.History) {
			if err := w.Write([]string{
				r.ID, r.Type, strconv.Itoa(r.Strength), strconv.Itoa(r.Amount), r.Source, r.CreatedDate,
			}); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unknown message kind %q", m.Kind)
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (CSV) Decode(b []byte) (broadcast.Message, error) {
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return broadcast.Message{}, fmt.Errorf("decode csv: %w", err)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return broadcast.Message{}, fmt.Errorf("empty csv frame")
	}

	switch rows[0][0] {
	case broadcast.KindStatus:
		return decodeStatusRow(rows[0])
	case broadcast.KindHistory:
		return decodeHistoryRows(rows)
	}
	return broadcast.Message{}, fmt.Errorf("unknown message type %q", rows[0][0])
}

func decodeStatusRow(row []string) (broadcast.Message, error) {
	if len(row) != 11 {
		return broadcast.Message{}, fmt.Errorf("status row has %d fields, want 11", len(row))
	}
	var (
		w    statusWire
		errs []error
	)
	parseBool := func(s string) bool {
		v, err := strconv.ParseBool(s)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	parseInt := func(s string) int {
		v, err := strconv.Atoi(s)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	t, err := strconv.ParseFloat(row[1], 64)
	if err != nil {
		errs = append(errs, err)
	}
	w.Temperature = t
	w.WaterOK = parseBool(row[2])
	w.GroundsOK = parseBool(row[3])
	w.CupsSinceEmpty = parseInt(row[4])
	w.CupsSinceFilled = parseInt(row[5])
	w.WaterFlow = parseInt(row[6])
	w.PoweredOn = parseBool(row[7])
	w.CurrentStep = row[8]
	w.LastUpdated = row[9]
	w.CurrentDate = row[10]
	if len(errs) > 0 {
		return broadcast.Message{}, fmt.Errorf("decode status row: %w", errs[0])
	}

	s, err := fromStatusWire(w)
	if err != nil {
		return broadcast.Message{}, err
	}
	return broadcast.StatusMessage(s), nil
}

func decodeHistoryRows(rows [][]string) (broadcast.Message, error) {
	if len(rows[0]) != 2 {
		return broadcast.Message{}, fmt.Errorf("malformed history header")
	}
	n, err := strconv.Atoi(rows[0][1])
	if err != nil || n != len(rows)-1 {
		return broadcast.Message{}, fmt.Errorf("history header announces %s rows, got %d", rows[0][1], len(rows)-1)
	}

	ws := make([]recordWire, 0, n)
	for i, row := range rows[1:] {
		if len(row) != 6 {
			return broadcast.Message{}, fmt.Errorf("history row %d has %d fields, want 6", i, len(row))
		}
		strength, err := strconv.Atoi(row[2])
		if err != nil {
			return broadcast.Message{}, fmt.Errorf("history row %d strength: %w", i, err)
		}
		amount, err := strconv.Atoi(row[3])
		if err != nil {
			return broadcast.Message{}, fmt.Errorf("history row %d amount: %w", i, err)
		}
		ws = append(ws, recordWire{ID: row[0], Type: row[1], Strength: strength, Amount: amount, Source: row[4], CreatedDate: row[5]})
	}

	h, err := fromRecordsWire(ws)
	if err != nil {
		return broadcast.Message{}, err
	}
	return broadcast.HistoryMessage(h), nil
}
