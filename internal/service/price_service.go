package service

import (
	"sort"
	"sync"
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceService keeps the latest trade tick per outcome token.
type PriceService struct {
	mu     sync.RWMutex
	latest map[string]domain.PriceTick
}

// NewPriceService creates a new PriceService instance
func NewPriceService() *PriceService {
	return &PriceService{
		latest: make(map[string]domain.PriceTick),
	}
}

// Update stores tick unless a newer one is already held for its token.
func (s *PriceService) Update(tick domain.PriceTick) {
	if tick.Symbol == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.latest[tick.Symbol]; ok && tick.Timestamp.Before(cur.Timestamp) {
		return
	}
	s.latest[tick.Symbol] = tick
}

// Latest returns the newest tick for a token.
func (s *PriceService) Latest(symbol string) (domain.PriceTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tick, ok := s.latest[symbol]
	return tick, ok
}

// Price returns the latest price if it is at most maxAge old at now.
// maxAge <= 0 disables the age check.
func (s *PriceService) Price(symbol string, now time.Time, maxAge time.Duration) (decimal.Decimal, bool) {
	tick, ok := s.Latest(symbol)
	if !ok {
		return decimal.Zero, false
	}
	if maxAge > 0 && now.Sub(tick.Timestamp) > maxAge {
		return decimal.Zero, false
	}
	return tick.Price, true
}

// GetAllData returns all latest ticks sorted by symbol
func (s *PriceService) GetAllData() []domain.PriceTick {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PriceTick, 0, len(s.latest))
	for _, tick := range s.latest {
		result = append(result, tick)
	}

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})

	return result
}

// Overround returns up + down - 1 from the latest ticks of a market's
// two tokens. Positive values mean the pair trades above parity.
func (s *PriceService) Overround(upToken, downToken string) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	up, okUp := s.latest[upToken]
	down, okDown := s.latest[downToken]
	if !okUp || !okDown {
		return decimal.Zero, false
	}
	return up.Price.Add(down.Price).Sub(decimal.NewFromInt(1)), true
}

// Forget drops ticks for tokens whose markets have rotated out.
func (s *PriceService) Forget(symbols ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sym := range symbols {
		delete(s.latest, sym)
	}
}

// Len returns the number of tracked tokens.
func (s *PriceService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.latest)
}
