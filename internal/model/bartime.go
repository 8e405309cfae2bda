package model

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// dateLayout is the wire format for daily and coarser candle times.
const dateLayout = "2006-01-02"

// BarTime is the bucket timestamp of a candle. The backend uses two
// representations depending on interval class: epoch seconds for intraday
// candles, a calendar-date string for daily and coarser candles. A candle
// session uses exactly one representation for its whole lifetime; BarTime
// round-trips whichever form it was built from.
type BarTime struct {
	sec    int64  // Epoch seconds; UTC midnight for date-form times
	date   string // "2006-01-02", empty for epoch-form times
	isDate bool
}

// NewBarTime builds an epoch-second BarTime.
func NewBarTime(sec int64) BarTime {
	return BarTime{sec: sec}
}

// NewBarDate builds a calendar-date BarTime from a "2006-01-02" string.
func NewBarDate(date string) (BarTime, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return BarTime{}, fmt.Errorf("parse bar date %q: %w", date, err)
	}
	return BarTime{sec: t.Unix(), date: date, isDate: true}, nil
}

// IsDate reports whether the time carries the calendar-date representation.
func (t BarTime) IsDate() bool {
	return t.isDate
}

// Key returns a totally ordered value for sorting and equality: epoch seconds
// for both representations (UTC midnight for dates).
func (t BarTime) Key() int64 {
	return t.sec
}

// Equal reports whether two times name the same bucket in the same
// representation.
func (t BarTime) Equal(o BarTime) bool {
	return t.isDate == o.isDate && t.sec == o.sec
}

// Text returns the wire form of the time: the date string, or the epoch
// seconds in decimal. Used for the history request `to` bound.
func (t BarTime) Text() string {
	if t.isDate {
		return t.date
	}
	return strconv.FormatInt(t.sec, 10)
}

// String implements fmt.Stringer.
func (t BarTime) String() string {
	return t.Text()
}

// MarshalJSON emits the representation the time was built from.
func (t BarTime) MarshalJSON() ([]byte, error) {
	if t.isDate {
		return json.Marshal(t.date)
	}
	return json.Marshal(t.sec)
}

// UnmarshalJSON accepts either a JSON number (epoch seconds) or a JSON
// string (calendar date).
func (t *BarTime) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		bt, err := NewBarDate(s)
		if err != nil {
			return err
		}
		*t = bt
		return nil
	}

	var sec int64
	if err := json.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("parse bar time: %w", err)
	}
	*t = NewBarTime(sec)
	return nil
}
