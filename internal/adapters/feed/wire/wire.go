// Package wire defines the JSON shapes exchanged with the upstream table feed
// and converts them to domain patches.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/livetables/internal/domain/model"
)

// Frame types on the streaming endpoint.
const (
	FrameConnected = "connected"
	FrameUpdate    = "update"
	FrameHeartbeat = "heartbeat"
)

// Envelope is one streaming frame.
type Envelope struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"` // upstream event id, usable as a resume cursor
	Data json.RawMessage `json:"data,omitempty"`
}

// Table is an entity snapshot as published upstream. Absent fields are left
// untouched when applied.
type Table struct {
	ID      string   `json:"id"`
	Name    *string  `json:"name,omitempty"`
	IsOpen  *bool    `json:"is_open,omitempty"`
	Numbers []Number `json:"numbers,omitempty"`
}

// Number is one outcome with its upstream timestamp.
type Number struct {
	Number    int       `json:"number"`
	Timestamp Timestamp `json:"timestamp"`
}

// InvalidNumber marks an outcome whose number could not be read.
const InvalidNumber = -1

// UnmarshalJSON implements json.Unmarshaler. A number or timestamp that cannot
// be read decodes as an invalid outcome rather than failing the payload, so
// the deduplicator drops and counts it.
func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{Number: InvalidNumber}

	var raw struct {
		Number    json.RawMessage `json:"number"`
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}

	var v int
	if len(raw.Number) == 0 || json.Unmarshal(raw.Number, &v) != nil {
		return nil
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return nil
	}

	n.Number, n.Timestamp = v, Timestamp(ts)
	return nil
}

// Timestamp decodes RFC 3339 strings, numeric strings and unix milliseconds.
type Timestamp time.Time

// Time returns t as a time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

// MarshalJSON encodes t as RFC 3339 with nanoseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	ts, err := parseTimestamp(b)
	if err != nil {
		return err
	}
	*t = Timestamp(ts)
	return nil
}

func parseTimestamp(b []byte) (time.Time, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return time.Time{}, nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrBadTimestamp, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts, nil
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
		}
		return time.UnixMilli(ms).UTC(), nil
	}

	ms, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrBadTimestamp, b)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// DecodeTables accepts a single table object, an array of tables, or an
// object wrapping them as {"tables": [...]}. Only syntactically broken JSON
// fails the payload. A table whose fields have the wrong shape decodes as an
// empty table, which carries no id and is ignored downstream.
func DecodeTables(data []byte) ([]Table, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedPayload)
	}

	switch data[0] {
	case '[':
		return decodeEach(data)
	case '{':
		var wrapped struct {
			Tables json.RawMessage `json:"tables"`
		}
		if err := json.Unmarshal(data, &wrapped); err == nil {
			if list := bytes.TrimSpace(wrapped.Tables); len(list) > 0 && list[0] == '[' {
				return decodeEach(list)
			}
		}
		return []Table{decodeOne(data)}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformedPayload, data[0])
	}
}

func decodeEach(data []byte) ([]Table, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	tables := make([]Table, len(items))
	for i, raw := range items {
		tables[i] = decodeOne(raw)
	}
	return tables, nil
}

func decodeOne(raw []byte) Table {
	var t Table
	if err := json.Unmarshal(raw, &t); err != nil {
		return Table{}
	}
	return t
}

// Patch converts t to a domain patch. Validation is left to the deduplicator.
func (t Table) Patch() model.EntityPatch {
	p := model.EntityPatch{ID: t.ID, Name: t.Name, IsOpen: t.IsOpen}
	if len(t.Numbers) > 0 {
		p.Observations = make([]model.Observation, len(t.Numbers))
		for i, n := range t.Numbers {
			p.Observations[i] = model.Observation{Value: n.Number, ObservedAt: n.Timestamp.Time()}
		}
	}
	return p
}

// Batch decodes data and wraps the patches in an UpdateBatch.
func Batch(data []byte, source model.Source, receivedAt time.Time, cursor string) (model.UpdateBatch, error) {
	tables, err := DecodeTables(data)
	if err != nil {
		return model.UpdateBatch{}, err
	}
	b := model.UpdateBatch{Source: source, ReceivedAt: receivedAt, Cursor: cursor}
	b.Entities = make([]model.EntityPatch, len(tables))
	for i, t := range tables {
		b.Entities[i] = t.Patch()
	}
	return b, nil
}

// FromEntity builds the full upstream representation of e.
func FromEntity(e model.Entity) Table {
	name, open := e.Name, e.IsOpen
	t := Table{ID: e.ID, Name: &name, IsOpen: &open}
	t.Numbers = make([]Number, len(e.History))
	for i, o := range e.History {
		t.Numbers[i] = Number{Number: o.Value, Timestamp: Timestamp(o.ObservedAt)}
	}
	return t
}
