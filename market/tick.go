package market

import (
	"errors"
	"sync"
	"time"
)

// Tick is one observed price for a symbol.
type Tick struct {
	Symbol string
	Time   time.Time
	Bid    float64
	Ask    float64
}

func (t Tick) Mid() float64 {
	if t.Bid == 0 && t.Ask == 0 {
		return 0
	}
	return (t.Bid + t.Ask) / 2
}

func (t Tick) Spread() float64 {
	return t.Ask - t.Bid
}

var ErrNoPrice = errors.New("no price for symbol")

// TickStore holds the latest tick per symbol.
type TickStore struct {
	mu    sync.RWMutex
	ticks map[string]Tick
}

func NewTickStore() *TickStore {
	return &TickStore{ticks: make(map[string]Tick)}
}

func (s *TickStore) Set(t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[t.Symbol] = t
}

func (s *TickStore) Get(symbol string) (Tick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ticks[symbol]
	if !ok {
		return Tick{}, ErrNoPrice
	}
	return t, nil
}
