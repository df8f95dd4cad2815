package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// pythonISOFormat matches timestamps written without a zone offset, which is
// how older data files recorded created_at and last_sync.
const pythonISOFormat = "2006-01-02T15:04:05.999999"

// Timestamp is a point in time that reads both RFC3339 and zone-less ISO-8601
// values and always writes RFC3339.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t
func NewTimestamp(t time.Time) *Timestamp {
	return &Timestamp{Time: t}
}

// MarshalJSON implements json.Marshaler
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Format(time.RFC3339))
}

// UnmarshalJSON implements json.Unmarshaler
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	ts.Time = parsed
	return nil
}

// ParseTimestamp parses RFC3339 first and falls back to the zone-less form,
// interpreted in local time.
func ParseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(pythonISOFormat, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}
