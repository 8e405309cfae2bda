// Package chart bridges the candle accumulator to a rendering surface. The
// renderer is an external collaborator: it receives candle arrays and live
// bars, and raises near-edge scroll signals.
package chart

import (
	"context"
	"log/slog"

	"github.com/anvilabs/marketpipe/internal/candles"
	"github.com/anvilabs/marketpipe/internal/model"
)

// Renderer is the drawing surface the bridge feeds.
type Renderer interface {
	// SetSeries replaces the rendered series outright. Used for initial
	// load and pagination merges, where prepending shifts every bar.
	SetSeries(candles []model.Candle)

	// UpdateBar patches a single changed or added bar.
	UpdateBar(c model.Candle)
}

// Bridge relays accumulator state to the renderer and renderer scroll
// signals back into pagination.
type Bridge struct {
	acc      *candles.Accumulator
	renderer Renderer
	logger   *slog.Logger
}

// NewBridge wires the accumulator's change notifications to the renderer.
func NewBridge(acc *candles.Accumulator, renderer Renderer, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Bridge{
		acc:      acc,
		renderer: renderer,
		logger:   logger,
	}
	acc.SetListener(b)
	return b
}

// SeriesReplaced implements candles.Listener.
func (b *Bridge) SeriesReplaced(cs []model.Candle) {
	b.renderer.SetSeries(cs)
}

// BarUpserted implements candles.Listener.
func (b *Bridge) BarUpserted(c model.Candle) {
	b.renderer.UpdateBar(c)
}

// SessionFailed implements candles.Listener. The chart renders empty when
// there is nothing to show.
func (b *Bridge) SessionFailed(err error) {
	b.logger.Warn("chart session failed", "error", err)
	b.renderer.SetSeries(nil)
}

// NearLeftEdge handles the renderer's "visible range approaches the oldest
// loaded bar" signal. The accumulator's in-flight flag debounces it: a
// fast-scrolling user cannot stack overlapping fetches.
func (b *Bridge) NearLeftEdge(ctx context.Context) {
	if b.acc.LoadMoreHistory(ctx) {
		b.logger.Debug("loading older history")
	}
}
