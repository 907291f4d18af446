package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
)

// ErrEventNotObject is returned when an event payload is not a JSON object.
var ErrEventNotObject = errors.New("event must be a JSON object")

// Event is a producer-defined record in a room's log. Only the envelope
// (ID, TS) is interpreted; every other field is kept verbatim in Attrs.
type Event struct {
	ID    string                     `json:"id"`
	TS    int64                      `json:"ts"` // Unix ms
	Attrs map[string]json.RawMessage `json:"-"`

	tsSet bool
}

// HasTimestamp reports whether the decoded payload carried a numeric ts.
func (e *Event) HasTimestamp() bool {
	return e.tsSet
}

// SetTimestamp sets the event timestamp.
func (e *Event) SetTimestamp(ts int64) {
	e.TS = ts
	e.tsSet = true
}

// MarshalJSON flattens envelope and attributes into a single object.
func (e Event) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(e.Attrs)+2)
	for k, v := range e.Attrs {
		fields[k] = v
	}
	id, err := json.Marshal(e.ID)
	if err != nil {
		return nil, err
	}
	fields["id"] = id
	fields["ts"] = json.RawMessage(strconv.FormatInt(e.TS, 10))
	return json.Marshal(fields)
}

// UnmarshalJSON splits a flat object into envelope and attributes.
// A non-numeric ts or a non-scalar id is treated as absent.
func (e *Event) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrEventNotObject
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return err
	}

	*e = Event{}
	if raw, ok := fields["id"]; ok {
		e.ID = scalarID(raw)
		delete(fields, "id")
	}
	if raw, ok := fields["ts"]; ok {
		if ts, ok := numericTS(raw); ok {
			e.TS = ts
			e.tsSet = true
		}
		delete(fields, "ts")
	}
	if len(fields) > 0 {
		e.Attrs = fields
	}
	return nil
}

func scalarID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if f, err := n.Float64(); err == nil && f != 0 {
			return n.String()
		}
	}
	return ""
}

func numericTS(raw json.RawMessage) (int64, bool) {
	// json.Number also accepts quoted numbers; a string ts is not a timestamp.
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return 0, false
	}
	return int64(math.Trunc(f)), true
}
