// services/treasury_service.go
package services

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
)

const treasuryCacheTTL = 10 * time.Second

// TreasuryStats is the cached on-chain view of the treasury.
type TreasuryStats struct {
	TreasuryBalance float64 `json:"treasuryBalance"`
	TotalSupply     float64 `json:"totalSupply"`
	Percentage      float64 `json:"percentage"`
	IsLive          bool    `json:"isLive"`
}

// TreasuryService caches treasury balance and token supply behind a TTL so
// the abuse guard and the stats endpoint do not hammer the RPC node. On RPC
// failure it serves the last good snapshot, flagged as not live.
type TreasuryService struct {
	Ledger Ledger
	TTL    time.Duration
	Now    func() time.Time

	mu        sync.Mutex
	cached    *TreasuryStats
	fetchedAt time.Time
}

func NewTreasuryService(ledger Ledger) *TreasuryService {
	return &TreasuryService{
		Ledger: ledger,
		TTL:    treasuryCacheTTL,
		Now:    time.Now,
	}
}

// Stats returns the cached snapshot, refreshing it when the TTL has lapsed.
func (s *TreasuryService) Stats(ctx context.Context) TreasuryStats {
	s.mu.Lock()
	if s.cached != nil && s.Now().Sub(s.fetchedAt) < s.TTL {
		stats := *s.cached
		s.mu.Unlock()
		return stats
	}
	s.mu.Unlock()

	if err := s.Refresh(ctx); err != nil {
		log.Printf("⚠️  [TREASURY] refresh failed: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return *s.cached
	}
	return TreasuryStats{}
}

// Refresh fetches a fresh snapshot from the ledger, replacing the cache on
// success and marking the stale snapshot not-live on failure.
func (s *TreasuryService) Refresh(ctx context.Context) error {
	balance, err := s.Ledger.TreasuryBalance(ctx)
	if err != nil {
		s.markStale()
		return err
	}
	supply, err := s.Ledger.TokenSupply(ctx)
	if err != nil {
		s.markStale()
		return err
	}

	pct := 0.0
	if supply > 0 {
		pct = math.Round(balance/supply*1000) / 10
	}

	s.mu.Lock()
	s.cached = &TreasuryStats{
		TreasuryBalance: balance,
		TotalSupply:     supply,
		Percentage:      pct,
		IsLive:          true,
	}
	s.fetchedAt = s.Now()
	s.mu.Unlock()
	return nil
}

func (s *TreasuryService) markStale() {
	s.mu.Lock()
	if s.cached != nil {
		s.cached.IsLive = false
	}
	s.mu.Unlock()
}

// Balance reports the treasury balance and whether it is actually known.
// The abuse guard must not enforce the floor on a value it never fetched.
func (s *TreasuryService) Balance(ctx context.Context) (float64, bool) {
	stats := s.Stats(ctx)
	if stats.TotalSupply == 0 && stats.TreasuryBalance == 0 && !stats.IsLive {
		return 0, false
	}
	return stats.TreasuryBalance, true
}

// GetStats serves GET /treasury/stats.
func (s *TreasuryService) GetStats(c *fiber.Ctx) error {
	return c.JSON(s.Stats(c.Context()))
}
