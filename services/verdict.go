// services/verdict.go
package services

import (
	"math/rand"
	"sync"
	"time"

	"wish-payout-system/models"
)

// WorthyThreshold is the authoritative score gate for a WORTHY verdict. The
// oracle's own rubric treats 30 as "fundable effort", but the engine pays
// nothing below 40 regardless of what the oracle recommends.
const WorthyThreshold = 40

// Payout bands per tier (closed intervals, token units).
type payoutBand struct {
	tier models.PayoutTier
	min  int64
	max  int64
}

var payoutBands = []payoutBand{
	{models.TierCommon, 40_000, 60_000},
	{models.TierRare, 200_000, 300_000},
	{models.TierLegendary, 800_000, 1_200_000},
	{models.TierMythic, 4_000_000, 6_000_000},
}

// VerdictResult is the pure mapping of score -> payout decision.
type VerdictResult struct {
	Verdict   models.Verdict
	Tier      models.PayoutTier
	Amount    int64
	IsJackpot bool
}

// VerdictCalculator maps scores to verdicts and randomized in-band payout
// amounts. The random source is injected so tests get reproducible draws.
type VerdictCalculator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewVerdictCalculator(rng *rand.Rand) *VerdictCalculator {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &VerdictCalculator{rng: rng}
}

// Calculate returns the verdict and payout for a score. Verdict and tier are
// deterministic per score; only the amount is randomized within the band.
func (c *VerdictCalculator) Calculate(score int) VerdictResult {
	if score < WorthyThreshold {
		return VerdictResult{Verdict: models.VerdictUnworthy}
	}

	var band payoutBand
	isJackpot := false
	switch {
	case score >= 99:
		band = payoutBands[3]
		isJackpot = true
	case score >= 90:
		band = payoutBands[2]
	case score >= 70:
		band = payoutBands[1]
	default:
		band = payoutBands[0]
	}

	c.mu.Lock()
	amount := band.min + c.rng.Int63n(band.max-band.min+1)
	c.mu.Unlock()

	return VerdictResult{
		Verdict:   models.VerdictWorthy,
		Tier:      band.tier,
		Amount:    amount,
		IsJackpot: isJackpot,
	}
}
