package chart

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/anvilabs/marketpipe/internal/candles"
	"github.com/anvilabs/marketpipe/internal/model"
)

// fakeRenderer records what the bridge pushes at it.
type fakeRenderer struct {
	mu     sync.Mutex
	series [][]model.Candle
	bars   []model.Candle
}

func (r *fakeRenderer) SetSeries(cs []model.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.series = append(r.series, cs)
}

func (r *fakeRenderer) UpdateBar(c model.Candle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, c)
}

func (r *fakeRenderer) counts() (series, bars int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.series), len(r.bars)
}

// pageFetcher serves scripted pages.
type pageFetcher struct {
	mu    sync.Mutex
	calls int
	pages [][]model.Candle
}

func (f *pageFetcher) Candles(ctx context.Context, symbol string, interval model.Interval, to *model.BarTime) ([]model.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.pages) == 0 {
		return nil, nil
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

func (f *pageFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func bar(sec int64, close float64) model.Candle {
	return model.Candle{Time: model.NewBarTime(sec), Open: close, High: close, Low: close, Close: close}
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

func TestBridge_FullResendVsPatch(t *testing.T) {
	fetcher := &pageFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{bar(50, 0.5)},
	}}
	acc := candles.New(fetcher, nil)
	renderer := &fakeRenderer{}
	bridge := NewBridge(acc, renderer, nil)

	// Initial load: one full series resend.
	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	series, bars := renderer.counts()
	if series != 1 || bars != 0 {
		t.Fatalf("after initial load: series=%d bars=%d, want 1/0", series, bars)
	}

	// Live update: a single-bar patch, no series resend.
	acc.ApplyLiveCandle(bar(160, 2))
	series, bars = renderer.counts()
	if series != 1 || bars != 1 {
		t.Fatalf("after live update: series=%d bars=%d, want 1/1", series, bars)
	}

	// Pagination merge: full resend again, every bar's position shifted.
	bridge.NearLeftEdge(context.Background())
	waitFor(t, func() bool { s, _ := renderer.counts(); return s == 2 }, "no series resend after pagination")

	renderer.mu.Lock()
	final := renderer.series[1]
	renderer.mu.Unlock()
	if len(final) != 3 || final[0].Time.Key() != 50 {
		t.Errorf("merged series = %v, want [50 100 160]", final)
	}
}

func TestBridge_NearLeftEdgeDebounced(t *testing.T) {
	fetcher := &pageFetcher{pages: [][]model.Candle{
		{bar(100, 1)},
		{}, // exhaustion
	}}
	acc := candles.New(fetcher, nil)
	bridge := NewBridge(acc, &fakeRenderer{}, nil)

	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err != nil {
		t.Fatalf("OpenSession: %v", err)
	}

	// A burst of edge signals while one fetch is in flight collapses to a
	// single request.
	for i := 0; i < 5; i++ {
		bridge.NearLeftEdge(context.Background())
	}
	waitFor(t, func() bool { return !acc.HasMore() }, "exhaustion never recorded")

	if got := fetcher.callCount(); got != 2 { // initial + one page
		t.Errorf("fetches = %d, want 2", got)
	}

	// After exhaustion the edge signal is inert.
	bridge.NearLeftEdge(context.Background())
	time.Sleep(10 * time.Millisecond)
	if got := fetcher.callCount(); got != 2 {
		t.Errorf("fetches after exhaustion = %d, want 2", got)
	}
}

func TestBridge_SessionFailedClearsChart(t *testing.T) {
	fetcher := &pageFetcher{pages: [][]model.Candle{{}}}
	acc := candles.New(fetcher, nil)
	renderer := &fakeRenderer{}
	NewBridge(acc, renderer, nil)

	if err := acc.OpenSession(context.Background(), "AAPL", model.Interval1m); err == nil {
		t.Fatal("expected ErrNoData")
	}

	renderer.mu.Lock()
	defer renderer.mu.Unlock()
	if len(renderer.series) != 1 || renderer.series[0] != nil {
		t.Errorf("renderer series = %v, want one nil (empty) series", renderer.series)
	}
}
