package model

// -----------------------------------------------------------------------------
// Price Types
// -----------------------------------------------------------------------------

// PriceTick is the latest priced observation for one symbol.
type PriceTick struct {
	Symbol      string  // Instrument symbol (e.g., "AAPL")
	LTP         float64 // Last traded price, major currency units
	PrevLTP     float64 // Previous reference price, major currency units
	TimestampMs int64   // Exchange timestamp (ms since epoch)
}

// Direction classifies a tick relative to its previous reference price.
type Direction string

const (
	Up      Direction = "up"
	Down    Direction = "down"
	Neutral Direction = "neutral"
)

// Direction returns the price movement of the tick. A zero LTP or PrevLTP
// means the symbol has not been fully initialized yet and is reported as
// Neutral, never as a real gain or loss.
func (t PriceTick) Direction() Direction {
	if t.LTP == 0 || t.PrevLTP == 0 {
		return Neutral
	}
	switch {
	case t.LTP > t.PrevLTP:
		return Up
	case t.LTP < t.PrevLTP:
		return Down
	}
	return Neutral
}

// FromMinorUnits converts a wire price in integer minor units (paise, cents)
// to major currency units. The stream always sends minor units.
func FromMinorUnits(v int64) float64 {
	return float64(v) / 100
}

// -----------------------------------------------------------------------------
// Candle Types
// -----------------------------------------------------------------------------

// Interval identifies a candle bucket width.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1mo Interval = "1mo"
)

// IsIntraday reports whether candles of this interval carry epoch-second
// times on the wire. Daily and coarser intervals carry calendar-date strings.
func (i Interval) IsIntraday() bool {
	switch i {
	case Interval1d, Interval1w, Interval1mo:
		return false
	}
	return true
}

// Valid reports whether the interval is one the backend serves.
func (i Interval) Valid() bool {
	switch i {
	case Interval1m, Interval5m, Interval15m, Interval1h,
		Interval1d, Interval1w, Interval1mo:
		return true
	}
	return false
}

// Candle is one OHLC bar for a fixed time bucket of a given interval.
type Candle struct {
	Time  BarTime `json:"time"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}
