package stream

import (
	"encoding/json"
	"fmt"

	"github.com/anvilabs/marketpipe/internal/model"
)

// snapshotWire is the wire format for snapshot messages: the full current
// state for the subscribed set, keyed by symbol, prices in integer minor
// units.
type snapshotWire struct {
	Type string `json:"type"`
	Data map[string]struct {
		LTP       int64 `json:"ltp"`
		PrevLTP   int64 `json:"prev_ltp"`
		Timestamp int64 `json:"timestamp"`
	} `json:"data"`
}

// deltaWire is the wire format for delta messages: only symbols whose price
// changed since the last push. prevLtp may be omitted.
type deltaWire struct {
	Type    string `json:"type"`
	Updates []struct {
		Symbol    string `json:"symbol"`
		LTP       int64  `json:"ltp"`
		PrevLTP   *int64 `json:"prevLtp"`
		Timestamp int64  `json:"timestamp"`
	} `json:"updates"`
}

// parseSnapshot parses a snapshot message into normalized ticks.
func parseSnapshot(data []byte) ([]model.PriceTick, error) {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	ticks := make([]model.PriceTick, 0, len(wire.Data))
	for symbol, entry := range wire.Data {
		ticks = append(ticks, model.PriceTick{
			Symbol:      symbol,
			LTP:         model.FromMinorUnits(entry.LTP),
			PrevLTP:     model.FromMinorUnits(entry.PrevLTP),
			TimestampMs: entry.Timestamp,
		})
	}
	return ticks, nil
}

// parseDelta parses a delta message into normalized ticks. When an update
// omits prevLtp, the symbol's previously stored price is carried forward via
// prevLookup so movement direction stays meaningful.
func parseDelta(data []byte, prevLookup func(symbol string) (float64, bool)) ([]model.PriceTick, error) {
	var wire deltaWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("parse delta: %w", err)
	}

	ticks := make([]model.PriceTick, 0, len(wire.Updates))
	for _, u := range wire.Updates {
		tick := model.PriceTick{
			Symbol:      u.Symbol,
			LTP:         model.FromMinorUnits(u.LTP),
			TimestampMs: u.Timestamp,
		}
		if u.PrevLTP != nil {
			tick.PrevLTP = model.FromMinorUnits(*u.PrevLTP)
		} else if prev, ok := prevLookup(u.Symbol); ok {
			tick.PrevLTP = prev
		}
		ticks = append(ticks, tick)
	}
	return ticks, nil
}
