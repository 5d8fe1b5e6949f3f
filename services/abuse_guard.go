// services/abuse_guard.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"wish-payout-system/models"
)

const (
	// SubmissionCooldown is the minimum wait between submissions per wallet
	// and per caller IP.
	SubmissionCooldown = 5 * time.Minute

	// TreasuryFloor halts payouts once reserves cannot absorb two more
	// mythic-tier wins (up to 6,000,000 each).
	TreasuryFloor = 7_000_000

	// Circuit breaker: if WORTHY payouts in the trailing window reach one
	// jackpot's worth, freeze payouts for BreakerCooldown measured from the
	// record that crossed the threshold.
	BreakerWindow   = 5 * time.Minute
	BreakerLimit    = 5_000_000
	BreakerCooldown = 2 * time.Minute
)

// RejectionReason tags why the guard refused a submission.
type RejectionReason string

const (
	ReasonCooldown       RejectionReason = "cooldown"
	ReasonTreasuryFloor  RejectionReason = "treasury_floor"
	ReasonCircuitBreaker RejectionReason = "circuit_breaker"
)

// Rejection is a policy gate result, not a fault. Message is the user-facing
// text; solvency rejections deliberately reveal nothing about balances.
type Rejection struct {
	Reason     RejectionReason
	RetryAfter time.Duration
	Message    string
}

// BalanceProvider reports the treasury balance when it is known.
type BalanceProvider interface {
	Balance(ctx context.Context) (float64, bool)
}

// AbuseGuard gates judgments with per-identity cooldowns, the treasury
// floor, and the global circuit breaker. It only reads; audit persistence
// for rejections is the judgment service's job.
type AbuseGuard struct {
	DB       *gorm.DB
	Treasury BalanceProvider
	Now      func() time.Time
}

func NewAbuseGuard(db *gorm.DB, treasury BalanceProvider) *AbuseGuard {
	return &AbuseGuard{DB: db, Treasury: treasury, Now: time.Now}
}

// CheckEligibility runs the guard checks in order, short-circuiting on the
// first failure. A nil Rejection means the submission may proceed.
func (g *AbuseGuard) CheckEligibility(ctx context.Context, walletAddress string, ip *string) (*Rejection, error) {
	if rej, err := g.checkCooldowns(ctx, walletAddress, ip); rej != nil || err != nil {
		return rej, err
	}
	if rej := g.checkTreasuryFloor(ctx); rej != nil {
		return rej, nil
	}
	return g.checkCircuitBreaker(ctx)
}

func (g *AbuseGuard) checkCooldowns(ctx context.Context, walletAddress string, ip *string) (*Rejection, error) {
	cutoff := g.Now().Add(-SubmissionCooldown)

	latest, err := g.latestSubmission(ctx, "wallet_address = ?", walletAddress, cutoff)
	if err != nil {
		return nil, err
	}

	// IP cooldown is defense-in-depth only; skipped when no IP was
	// detected. The more restrictive (later) of the two wins.
	if ip != nil && *ip != "" {
		ipLatest, err := g.latestSubmission(ctx, "ip_address = ?", *ip, cutoff)
		if err != nil {
			return nil, err
		}
		if ipLatest != nil && (latest == nil || ipLatest.After(*latest)) {
			latest = ipLatest
		}
	}

	if latest == nil {
		return nil, nil
	}

	remaining := latest.Add(SubmissionCooldown).Sub(g.Now())
	if remaining <= 0 {
		return nil, nil
	}
	mins := int(remaining.Minutes())
	secs := int(remaining.Seconds()) - mins*60
	msg := fmt.Sprintf("Patience, mortal. Return in %ds.", secs)
	if mins > 0 {
		msg = fmt.Sprintf("Patience, mortal. Return in %dm %ds.", mins, secs)
	}
	return &Rejection{Reason: ReasonCooldown, RetryAfter: remaining, Message: msg}, nil
}

func (g *AbuseGuard) latestSubmission(ctx context.Context, cond string, value string, cutoff time.Time) (*time.Time, error) {
	var wish models.Wish
	err := g.DB.WithContext(ctx).
		Where(cond, value).
		Where("created_at >= ?", cutoff).
		Order("created_at desc").
		First(&wish).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cooldown lookup failed: %w", err)
	}
	return &wish.CreatedAt, nil
}

func (g *AbuseGuard) checkTreasuryFloor(ctx context.Context) *Rejection {
	balance, known := g.Treasury.Balance(ctx)
	if !known || balance <= 0 {
		return nil
	}
	if balance < TreasuryFloor {
		log.Printf("🛑 [GUARD] Treasury floor triggered: %.0f < %d", balance, TreasuryFloor)
		return &Rejection{
			Reason:  ReasonTreasuryFloor,
			Message: "The Hoard is nearly empty. The cycle must refill.",
		}
	}
	return nil
}

func (g *AbuseGuard) checkCircuitBreaker(ctx context.Context) (*Rejection, error) {
	now := g.Now()
	var recent []models.Wish
	err := g.DB.WithContext(ctx).
		Where("verdict = ? AND payout_amount IS NOT NULL", models.VerdictWorthy).
		Where("created_at >= ?", now.Add(-BreakerWindow)).
		Order("created_at asc").
		Find(&recent).Error
	if err != nil {
		return nil, fmt.Errorf("circuit breaker lookup failed: %w", err)
	}

	var running int64
	for _, w := range recent {
		running += *w.PayoutAmount
		if running < BreakerLimit {
			continue
		}
		// This record crossed the threshold; the freeze is measured from
		// its timestamp, independent of per-wallet cooldowns.
		cooldownEnd := w.CreatedAt.Add(BreakerCooldown)
		if now.Before(cooldownEnd) {
			remaining := cooldownEnd.Sub(now)
			log.Printf("🔥 [GUARD] Circuit breaker active, %s remaining", remaining.Round(time.Second))
			return &Rejection{
				Reason:     ReasonCircuitBreaker,
				RetryAfter: remaining,
				Message:    "⚠️ HEAT WARNING: Treasury Overheated. Cooldown Active.",
			}, nil
		}
		return nil, nil
	}
	return nil, nil
}
