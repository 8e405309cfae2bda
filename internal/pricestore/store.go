package pricestore

import (
	"sync"

	"github.com/anvilabs/marketpipe/internal/model"
)

// Store is the single source of truth for the latest known price per symbol.
// It is written exclusively by the stream client and read by any number of
// consumers; readers get copies, never references into the map.
type Store struct {
	mu        sync.RWMutex
	ticks     map[string]model.PriceTick
	connected bool

	watchMu  sync.Mutex
	watchers []chan struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		ticks: make(map[string]model.PriceTick),
	}
}

// UpdatePrice upserts one tick. The prior value for the symbol is replaced
// entirely; there is no partial merge.
func (s *Store) UpdatePrice(symbol string, tick model.PriceTick) {
	s.mu.Lock()
	s.ticks[symbol] = tick
	s.mu.Unlock()

	s.notify()
}

// UpdatePrices upserts a batch of ticks under one lock so readers observe
// the whole batch together. A single stream message can carry dozens of
// symbols; partial visibility would flicker the UI.
func (s *Store) UpdatePrices(ticks []model.PriceTick) {
	if len(ticks) == 0 {
		return
	}

	s.mu.Lock()
	for _, tick := range ticks {
		s.ticks[tick.Symbol] = tick
	}
	s.mu.Unlock()

	s.notify()
}

// GetPrice returns the latest tick for a symbol. Absence of a symbol is the
// only failure mode and is reported via the second return value.
func (s *Store) GetPrice(symbol string) (model.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tick, ok := s.ticks[symbol]
	return tick, ok
}

// GetPriceChange returns the movement direction for a symbol. Unknown
// symbols and not-yet-initialized prices are Neutral.
func (s *Store) GetPriceChange(symbol string) model.Direction {
	tick, ok := s.GetPrice(symbol)
	if !ok {
		return model.Neutral
	}
	return tick.Direction()
}

// Len returns the number of tracked symbols.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ticks)
}

// SetConnected records the stream's liveness. Stale prices remain readable
// while disconnected; last-known price stays meaningful for a bounded window.
func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if changed {
		s.notify()
	}
}

// Connected reports the stream's last recorded liveness.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Clear drops all prices (e.g., on logout).
func (s *Store) Clear() {
	s.mu.Lock()
	s.ticks = make(map[string]model.PriceTick)
	s.mu.Unlock()

	s.notify()
}

// Watch returns a channel that receives a signal whenever the store changes.
// Signals are coalesced: a slow reader sees at least one signal for any
// burst of updates and re-reads the current state.
func (s *Store) Watch() <-chan struct{} {
	ch := make(chan struct{}, 1)

	s.watchMu.Lock()
	s.watchers = append(s.watchers, ch)
	s.watchMu.Unlock()

	return ch
}

// notify signals all watchers without blocking.
func (s *Store) notify() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
