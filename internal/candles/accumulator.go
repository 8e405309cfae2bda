// Package candles owns the backing data for one chart: the ordered candle
// sequence for a (symbol, interval) session, backward pagination into
// history, and forward live-bar upserts.
package candles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/anvilabs/marketpipe/internal/metrics"
	"github.com/anvilabs/marketpipe/internal/model"
)

// Errors
var (
	// ErrNoData means the initial load returned zero candles; the session
	// is failed and the chart has nothing to render.
	ErrNoData = errors.New("no candle data")

	// ErrMixedTimes means a page carried the wrong time representation for
	// the session's interval class.
	ErrMixedTimes = errors.New("candle time representation does not match interval")
)

// Fetcher fetches one page of candle history, ascending by time. A non-nil
// to bound requests candles strictly older than it. Empty page = exhausted.
type Fetcher interface {
	Candles(ctx context.Context, symbol string, interval model.Interval, to *model.BarTime) ([]model.Candle, error)
}

// Listener receives accumulator change notifications. The chart bridge
// implements this to feed its renderer.
type Listener interface {
	// SeriesReplaced delivers the full sequence after initial load or a
	// pagination merge; prepending shifts every bar, so these are full
	// resends, never patches.
	SeriesReplaced(candles []model.Candle)

	// BarUpserted delivers the single bar changed or added by a live
	// update.
	BarUpserted(c model.Candle)

	// SessionFailed reports an initial load that produced nothing to
	// render.
	SessionFailed(err error)
}

// session is the working set for one (symbol, interval) pair. Replaced
// wholesale on symbol or interval change; the uuid is the stale-response
// guard for fetches that resolve after replacement.
type session struct {
	id       uuid.UUID
	symbol   string
	interval model.Interval

	candles  []model.Candle
	earliest model.BarTime
	hasMore  bool
	loading  bool
	failed   bool
}

// Accumulator owns the candle sequence for the currently open chart session.
type Accumulator struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	session  *session
	listener Listener

	wg sync.WaitGroup
}

// Option configures an Accumulator.
type Option func(*Accumulator)

// WithMetrics sets the metrics collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Accumulator) {
		a.metrics = m
	}
}

// New creates an Accumulator that loads pages via fetcher.
func New(fetcher Fetcher, logger *slog.Logger, opts ...Option) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}

	a := &Accumulator{
		fetcher: fetcher,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New()
	}
	return a
}

// SetListener registers the change listener. Must be set before the first
// load if the consumer wants the initial series event.
func (a *Accumulator) SetListener(l Listener) {
	a.mu.Lock()
	a.listener = l
	a.mu.Unlock()
}

// OpenSession discards any prior session outright and loads the most recent
// candle window for (symbol, interval). Prior state never leaks into the
// new session: a 1d series must not contaminate a 1m series for the same
// symbol. Returns ErrNoData when the server has nothing for the pair.
func (a *Accumulator) OpenSession(ctx context.Context, symbol string, interval model.Interval) error {
	s := &session{
		id:       uuid.New(),
		symbol:   symbol,
		interval: interval,
	}

	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	a.metrics.HistoryFetches.Inc()
	page, err := a.fetcher.Candles(ctx, symbol, interval, nil)

	a.mu.Lock()
	if a.session == nil || a.session.id != s.id {
		// The session was replaced or closed while the fetch was in
		// flight; its result must not touch the new state.
		a.mu.Unlock()
		return nil
	}

	if err == nil && len(page) == 0 {
		err = ErrNoData
	}
	if err == nil {
		err = validatePage(page, interval)
	}
	if err != nil {
		s.failed = true
		listener := a.listener
		a.mu.Unlock()

		a.metrics.HistoryFailures.Inc()
		a.logger.Warn("initial candle load failed", "symbol", symbol, "interval", interval, "error", err)
		if listener != nil {
			listener.SessionFailed(err)
		}
		if errors.Is(err, ErrNoData) {
			return err
		}
		return fmt.Errorf("initial candle load: %w", err)
	}

	sortByTime(page)
	s.candles = page
	s.earliest = page[0].Time
	s.hasMore = true
	snapshot := snapshotOf(s.candles)
	listener := a.listener
	a.mu.Unlock()

	a.metrics.HistoryCandles.Add(float64(len(page)))
	if listener != nil {
		listener.SeriesReplaced(snapshot)
	}
	return nil
}

// LoadMoreHistory requests candles strictly older than the earliest loaded
// bar. It is a no-op while a load is already in flight (a fast-scrolling
// user cannot stack overlapping fetches) and once a prior call established
// that history is exhausted. Returns whether a fetch was started.
func (a *Accumulator) LoadMoreHistory(ctx context.Context) bool {
	a.mu.Lock()
	s := a.session
	if s == nil || s.failed || s.loading || !s.hasMore || len(s.candles) == 0 {
		a.mu.Unlock()
		return false
	}
	s.loading = true
	id, symbol, interval, to := s.id, s.symbol, s.interval, s.earliest
	a.mu.Unlock()

	a.wg.Add(1)
	go a.fetchOlder(ctx, id, symbol, interval, to)
	return true
}

// fetchOlder runs one pagination fetch and merges the result, unless the
// session changed underneath it.
func (a *Accumulator) fetchOlder(ctx context.Context, id uuid.UUID, symbol string, interval model.Interval, to model.BarTime) {
	defer a.wg.Done()

	a.metrics.HistoryFetches.Inc()
	page, err := a.fetcher.Candles(ctx, symbol, interval, &to)

	a.mu.Lock()
	s := a.session
	if s == nil || s.id != id {
		// Stale response: the chart moved on. Discard, never apply.
		a.mu.Unlock()
		return
	}
	s.loading = false

	if err == nil {
		err = validatePage(page, interval)
	}
	if err != nil {
		// No distinct "retry, maybe more later" state exists: a failed
		// page stops backward scrolling the same way an empty one does.
		s.hasMore = false
		a.mu.Unlock()

		a.metrics.HistoryFailures.Inc()
		a.logger.Warn("history page load failed", "symbol", symbol, "interval", interval, "error", err)
		return
	}

	if len(page) == 0 {
		s.hasMore = false
		a.mu.Unlock()
		return
	}

	sortByTime(page)
	s.candles = mergeOlder(page, s.candles)
	s.earliest = s.candles[0].Time
	snapshot := snapshotOf(s.candles)
	listener := a.listener
	a.mu.Unlock()

	a.metrics.HistoryCandles.Add(float64(len(page)))
	if listener != nil {
		listener.SeriesReplaced(snapshot)
	}
}

// ApplyLiveCandle folds a live bar into the sequence: a bar whose time
// matches the last stored bar replaces it in place (the forming bucket got
// new trades); a newer time appends a fresh bar. Bars older than the last
// stored bar are dropped.
func (a *Accumulator) ApplyLiveCandle(c model.Candle) {
	a.mu.Lock()
	s := a.session
	if s == nil || s.failed {
		a.mu.Unlock()
		return
	}

	if c.Time.IsDate() == s.interval.IsIntraday() {
		a.mu.Unlock()
		a.logger.Warn("live candle time representation mismatch, dropped",
			"symbol", s.symbol, "interval", s.interval)
		return
	}

	if len(s.candles) == 0 {
		s.candles = append(s.candles, c)
		s.earliest = c.Time
	} else {
		last := &s.candles[len(s.candles)-1]
		switch {
		case c.Time.Key() == last.Time.Key():
			*last = c
		case c.Time.Key() > last.Time.Key():
			s.candles = append(s.candles, c)
		default:
			a.mu.Unlock()
			a.logger.Debug("late live candle dropped", "symbol", s.symbol)
			return
		}
	}

	listener := a.listener
	a.mu.Unlock()

	if listener != nil {
		listener.BarUpserted(c)
	}
}

// Candles returns a copy of the current sequence.
func (a *Accumulator) Candles() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil
	}
	return snapshotOf(a.session.candles)
}

// Earliest returns the earliest loaded time, if any candles are loaded.
func (a *Accumulator) Earliest() (model.BarTime, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil || len(a.session.candles) == 0 {
		return model.BarTime{}, false
	}
	return a.session.earliest, true
}

// HasMore reports whether older history may still be available.
func (a *Accumulator) HasMore() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil && a.session.hasMore
}

// Loading reports whether a pagination fetch is in flight.
func (a *Accumulator) Loading() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session != nil && a.session.loading
}

// Close discards the session. In-flight fetches resolve as stale no-ops;
// they never crash into a dead session.
func (a *Accumulator) Close() {
	a.mu.Lock()
	a.session = nil
	a.mu.Unlock()
	a.wg.Wait()
}

// validatePage checks that every candle carries the representation the
// interval class demands: epoch seconds intraday, calendar dates daily+.
func validatePage(page []model.Candle, interval model.Interval) error {
	for _, c := range page {
		if c.Time.IsDate() == interval.IsIntraday() {
			return ErrMixedTimes
		}
	}
	return nil
}

// sortByTime orders a page ascending by time.
func sortByTime(page []model.Candle) {
	sort.Slice(page, func(i, j int) bool {
		return page[i].Time.Key() < page[j].Time.Key()
	})
}

// mergeOlder prepends an older page. Duplicate times across the pagination
// boundary are not expected from the backend, but when they appear the new
// page's value wins over the previously stored bar.
func mergeOlder(page, existing []model.Candle) []model.Candle {
	seen := make(map[int64]struct{}, len(page))
	for _, c := range page {
		seen[c.Time.Key()] = struct{}{}
	}

	merged := make([]model.Candle, 0, len(page)+len(existing))
	merged = append(merged, page...)
	for _, c := range existing {
		if _, dup := seen[c.Time.Key()]; dup {
			continue
		}
		merged = append(merged, c)
	}
	return merged
}

// snapshotOf copies a candle slice for handing outside the lock.
func snapshotOf(candles []model.Candle) []model.Candle {
	out := make([]model.Candle, len(candles))
	copy(out, candles)
	return out
}
