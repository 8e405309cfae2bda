package candles

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/anvilabs/marketpipe/internal/model"
)

// fakeFetcher serves scripted candle pages and counts requests. An optional
// gate blocks responses until released so tests can hold a fetch in flight.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	pages [][]model.Candle
	err   error
	gate  chan struct{}

	lastTo *model.BarTime
}

func (f *fakeFetcher) Candles(ctx context.Context, symbol string, interval model.Interval, to *model.BarTime) ([]model.Candle, error) {
	f.mu.Lock()
	f.calls++
	f.lastTo = to
	var page []model.Candle
	if len(f.pages) > 0 {
		page = f.pages[0]
		f.pages = f.pages[1:]
	}
	err := f.err
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func bar(sec int64, close float64) model.Candle {
	return model.Candle{Time: model.NewBarTime(sec), Open: close, High: close, Low: close, Close: close}
}

func dateBar(t *testing.T, date string, close float64) model.Candle {
	t.Helper()
	bt, err := model.NewBarDate(date)
	if err != nil {
		t.Fatalf("NewBarDate(%s): %v", date, err)
	}
	return model.Candle{Time: bt, Open: close, High: close, Low: close, Close: close}
}

// recordingListener captures accumulator notifications.
type recordingListener struct {
	mu     sync.Mutex
	series [][]model.Candle
	bars   []model.Candle
	fails  []error
}

func (l *recordingListener) SeriesReplaced(cs []model.Candle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.series = append(l.series, cs)
}

func (l *recordingListener) BarUpserted(c model.Candle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bars = append(l.bars, c)
}

func (l *recordingListener) SessionFailed(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fails = append(l.fails, err)
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAccumulator_OpenSession(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(160, 2), bar(100, 1)}, // out of order on purpose
	}}
	acc := New(fetcher, nil)

	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	got := acc.Candles()
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2", len(got))
	}
	// Pages are sorted ascending before storage.
	if got[0].Time.Key() != 100 || got[1].Time.Key() != 160 {
		t.Errorf("times = %d,%d, want 100,160", got[0].Time.Key(), got[1].Time.Key())
	}

	earliest, ok := acc.Earliest()
	if !ok || earliest.Key() != 100 {
		t.Errorf("earliest = %v/%v, want 100", earliest, ok)
	}
	if !acc.HasMore() {
		t.Error("HasMore = false after successful initial load")
	}
}

func TestAccumulator_OpenSession_Empty(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{{}}}
	listener := &recordingListener{}
	acc := New(fetcher, nil)
	acc.SetListener(listener)

	err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m)
	if !errors.Is(err, ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}

	if len(listener.fails) != 1 {
		t.Errorf("SessionFailed notifications = %d, want 1", len(listener.fails))
	}
	// A failed session stays inert.
	if acc.LoadMoreHistory(context.Background()) {
		t.Error("LoadMoreHistory started on a failed session")
	}
}

func TestAccumulator_PaginationPrepends(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{bar(50, 0.5)},
	}}
	listener := &recordingListener{}
	acc := New(fetcher, nil)
	acc.SetListener(listener)

	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if !acc.LoadMoreHistory(context.Background()) {
		t.Fatal("LoadMoreHistory did not start")
	}

	waitFor(t, func() bool { return !acc.Loading() }, "pagination never finished")

	got := acc.Candles()
	if len(got) != 2 || got[0].Time.Key() != 50 || got[1].Time.Key() != 100 {
		t.Fatalf("sequence = %v, want [50 100]", got)
	}
	earliest, _ := acc.Earliest()
	if earliest.Key() != 50 {
		t.Errorf("earliest = %d, want 50", earliest.Key())
	}

	// The page request carried the exclusive upper bound.
	fetcher.mu.Lock()
	to := fetcher.lastTo
	fetcher.mu.Unlock()
	if to == nil || to.Key() != 100 {
		t.Errorf("pagination to = %v, want 100", to)
	}

	// Both the initial load and the merge were full series resends.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.series) != 2 {
		t.Errorf("series notifications = %d, want 2", len(listener.series))
	}
}

func TestAccumulator_PaginationSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{
		pages: [][]model.Candle{
			{bar(100, 1)},
			{bar(50, 0.5)},
		},
	}
	acc := New(fetcher, nil)
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// Hold the next fetch in flight.
	fetcher.mu.Lock()
	fetcher.gate = gate
	fetcher.mu.Unlock()

	if !acc.LoadMoreHistory(context.Background()) {
		t.Fatal("first LoadMoreHistory did not start")
	}
	// Rapid second and third calls while the first is unresolved: dropped.
	if acc.LoadMoreHistory(context.Background()) {
		t.Error("second LoadMoreHistory started while first in flight")
	}
	if acc.LoadMoreHistory(context.Background()) {
		t.Error("third LoadMoreHistory started while first in flight")
	}

	close(gate)
	waitFor(t, func() bool { return !acc.Loading() }, "pagination never finished")

	if got := fetcher.callCount(); got != 2 { // initial + exactly one page
		t.Errorf("fetches = %d, want 2", got)
	}
}

func TestAccumulator_EmptyPageExhaustsHistory(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{}, // exhaustion
	}}
	acc := New(fetcher, nil)
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	if !acc.LoadMoreHistory(context.Background()) {
		t.Fatal("LoadMoreHistory did not start")
	}
	waitFor(t, func() bool { return !acc.HasMore() }, "empty page did not exhaust history")

	// Exhaustion is permanent for the session: no further requests go out.
	before := fetcher.callCount()
	if acc.LoadMoreHistory(context.Background()) {
		t.Error("LoadMoreHistory started after exhaustion")
	}
	if fetcher.callCount() != before {
		t.Error("request issued after exhaustion")
	}
}

func TestAccumulator_DuplicateBoundaryPreferNewPage(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{bar(50, 0.5), bar(100, 9)}, // 100 duplicated, fresher value
	}}
	acc := New(fetcher, nil)
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	acc.LoadMoreHistory(context.Background())
	waitFor(t, func() bool { return !acc.Loading() }, "pagination never finished")

	got := acc.Candles()
	if len(got) != 2 {
		t.Fatalf("sequence length = %d, want 2 (overwrite, not additive)", len(got))
	}
	if got[1].Time.Key() != 100 || got[1].Close != 9 {
		t.Errorf("boundary bar = %+v, want new page's value", got[1])
	}
}

func TestAccumulator_ApplyLiveCandle(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
	}}
	listener := &recordingListener{}
	acc := New(fetcher, nil)
	acc.SetListener(listener)
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// Same bucket: replace in place, length unchanged.
	acc.ApplyLiveCandle(bar(100, 1.5))
	got := acc.Candles()
	if len(got) != 1 || got[0].Close != 1.5 {
		t.Errorf("after same-bucket update: %v, want single bar close=1.5", got)
	}

	// New bucket: append, length +1.
	acc.ApplyLiveCandle(bar(160, 2))
	got = acc.Candles()
	if len(got) != 2 || got[1].Time.Key() != 160 {
		t.Errorf("after new-bucket update: %v, want appended bar at 160", got)
	}

	// Older than the last bar: dropped, length never shrinks.
	acc.ApplyLiveCandle(bar(40, 9))
	if got = acc.Candles(); len(got) != 2 {
		t.Errorf("late bar changed sequence length to %d", len(got))
	}

	// Live updates are single-bar notifications, not series resends.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.bars) != 2 {
		t.Errorf("bar notifications = %d, want 2", len(listener.bars))
	}
	if len(listener.series) != 1 {
		t.Errorf("series notifications = %d, want 1 (initial load only)", len(listener.series))
	}
}

func TestAccumulator_SessionReplacementDiscardsState(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{dateBar(t, "2024-01-10", 1), dateBar(t, "2024-01-11", 2)}, // 1d session
		{bar(100, 5)}, // 1m session
	}}
	acc := New(fetcher, nil)

	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1d); err != nil {
		t.Fatalf("open 1d: %v", err)
	}
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("open 1m: %v", err)
	}

	got := acc.Candles()
	if len(got) != 1 || got[0].Time.Key() != 100 {
		t.Fatalf("sequence = %v, want only the 1m bar", got)
	}
	for _, c := range got {
		if c.Time.IsDate() {
			t.Error("1d candle leaked into the 1m session")
		}
	}
}

func TestAccumulator_StaleResponseDiscarded(t *testing.T) {
	gate := make(chan struct{})
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{bar(50, 0.5)}, // will resolve after the session is gone
	}}
	acc := New(fetcher, nil)
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	fetcher.mu.Lock()
	fetcher.gate = gate
	fetcher.mu.Unlock()
	if !acc.LoadMoreHistory(context.Background()) {
		t.Fatal("LoadMoreHistory did not start")
	}

	// The chart unmounts while the fetch is in flight.
	fetcher.mu.Lock()
	fetcher.gate = nil
	fetcher.mu.Unlock()
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(gate)
	}()
	acc.Close()

	// The stale response was a no-op, not a crash, and left nothing behind.
	if got := acc.Candles(); got != nil {
		t.Errorf("candles after Close = %v, want none", got)
	}
}

func TestAccumulator_MixedRepresentationRejected(t *testing.T) {
	fetcher := &fakeFetcher{pages: [][]model.Candle{
		{bar(100, 1)}, // epoch-form page for a daily session
	}}
	acc := New(fetcher, nil)

	err := acc.OpenSession(context.Background(), "AAPL", model.Interval1d)
	if !errors.Is(err, ErrMixedTimes) {
		t.Fatalf("err = %v, want ErrMixedTimes", err)
	}

	// Live candles in the wrong representation are likewise dropped.
	fetcher2 := &fakeFetcher{pages: [][]model.Candle{{bar(100, 1)}}}
	acc2 := New(fetcher2, nil)
	if err := acc2.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	acc2.ApplyLiveCandle(dateBar(t, "2024-01-15", 2))
	if got := acc2.Candles(); len(got) != 1 {
		t.Errorf("date-form live bar applied to intraday session: %v", got)
	}
}
