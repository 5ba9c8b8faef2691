// Package models provides data models for the referral ledger.
package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// DateLayout is the calendar-day layout used for transaction dates
const DateLayout = "2006-01-02"

// Timestamp is a point in time that tolerates malformed stored values.
// It has three states: unset, valid, and invalid. An unparseable value decodes
// to an invalid Timestamp (keeping the raw text) instead of failing the whole
// snapshot, so engines can detect and skip it.
type Timestamp struct {
	t     time.Time
	raw   string
	valid bool
}

// NewTimestamp wraps a time value
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), valid: true}
}

// InvalidTimestamp builds a timestamp holding unparseable text
func InvalidTimestamp(raw string) Timestamp {
	return Timestamp{raw: raw}
}

// Day returns the UTC midnight of t
func Day(t time.Time) Timestamp {
	u := t.UTC()
	return NewTimestamp(time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC))
}

// Time returns the wrapped time; zero when unset or invalid
func (ts Timestamp) Time() time.Time { return ts.t }

// Valid reports whether the timestamp holds a parseable time
func (ts Timestamp) Valid() bool { return ts.valid }

// IsSet reports whether any value, valid or not, was stored
func (ts Timestamp) IsSet() bool { return ts.valid || ts.raw != "" }

// SameDay reports whether both timestamps are valid and fall on the same UTC day
func (ts Timestamp) SameDay(other Timestamp) bool {
	if !ts.valid || !other.valid {
		return false
	}
	return ts.t.Format(DateLayout) == other.t.Format(DateLayout)
}

// Ptr returns a pointer to the wrapped time, nil unless valid
func (ts Timestamp) Ptr() *time.Time {
	if !ts.valid {
		return nil
	}
	t := ts.t
	return &t
}

func (ts Timestamp) String() string {
	if ts.valid {
		return ts.t.Format(time.RFC3339)
	}
	return ts.raw
}

// MarshalJSON writes RFC3339 for valid values, the raw text for invalid ones and null when unset
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.IsSet() {
		return []byte("null"), nil
	}
	return json.Marshal(ts.String())
}

// UnmarshalJSON accepts RFC3339, RFC3339Nano or a bare date; anything else becomes invalid
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*ts = InvalidTimestamp(string(data))
		return nil
	}

	*ts = ParseTimestamp(s)
	return nil
}

// ParseTimestamp parses text into a Timestamp without ever failing
func ParseTimestamp(s string) Timestamp {
	if s == "" {
		return Timestamp{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t)
		}
	}
	return InvalidTimestamp(s)
}
