// services/claim_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"wish-payout-system/models"
)

const (
	maxClaimAttempts         = 3
	priorityFeeMicroLamports = 150_000

	defaultConfirmTimeout = 30 * time.Second
	defaultPollInterval   = time.Second
	defaultBackoffStep    = 200 * time.Millisecond
	defaultMaxJitter      = 500 * time.Millisecond

	// The token carries 6 decimals; payout amounts are whole tokens.
	tokenDecimalsFactor = 1_000_000
)

// Transient failure classes worth a fresh blockhash and another attempt.
// Anything else aborts immediately (insufficient funds, invalid account).
var retryableErrorPatterns = []string{
	"blockhashnotfound",
	"accountinuse",
	"transactionexpired",
	"blockhash not found",
	"block height exceeded",
	"timeout",
	"rate limit",
	"429",
	"502",
	"503",
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ClaimError is a terminal claim failure with its HTTP rendering.
type ClaimError struct {
	Status    int
	Message   string
	Retryable bool
}

func (e *ClaimError) Error() string { return e.Message }

// ClaimResult is a successful claim: the transfer proof for the wish.
type ClaimResult struct {
	TxSignature    string `json:"tx_signature"`
	Amount         int64  `json:"amount"`
	AlreadyClaimed bool   `json:"already_claimed,omitempty"`
}

// ClaimService executes the one-time on-chain transfer for a judged WORTHY
// wish. Idempotency rests on the wish's tx_signature column: the presence
// check up front makes repeated claims cheap, and the conditional write at
// the end guarantees a single proof even when two claims race.
type ClaimService struct {
	DB     *gorm.DB
	Ledger Ledger

	// Timing knobs, defaulted by NewClaimService; tests shrink them.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	BackoffStep    time.Duration
	MaxJitter      time.Duration
}

func NewClaimService(db *gorm.DB, ledger Ledger) *ClaimService {
	return &ClaimService{
		DB:             db,
		Ledger:         ledger,
		ConfirmTimeout: defaultConfirmTimeout,
		PollInterval:   defaultPollInterval,
		BackoffStep:    defaultBackoffStep,
		MaxJitter:      defaultMaxJitter,
	}
}

// ClaimReward serves POST /wishes/claim.
func (s *ClaimService) ClaimReward(c *fiber.Ctx) error {
	var req struct {
		WishID        string `json:"wishId"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.WishID == "" || req.WalletAddress == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing wishId or walletAddress"})
	}

	result, err := s.Claim(c.Context(), req.WishID, req.WalletAddress)
	if err != nil {
		var ce *ClaimError
		if errors.As(err, &ce) {
			body := fiber.Map{"error": ce.Message}
			if ce.Retryable {
				body["retryable"] = true
			}
			return c.Status(ce.Status).JSON(body)
		}
		log.Printf("❌ [CLAIM] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Claim failed"})
	}

	resp := fiber.Map{
		"success":      true,
		"tx_signature": result.TxSignature,
		"amount":       result.Amount,
	}
	if result.AlreadyClaimed {
		resp["already_claimed"] = true
	}
	return c.JSON(resp)
}

// Claim runs the transfer state machine for one wish: PENDING ->
// TRANSFERRING -> CONFIRMED, or back to claimable on failure. It never
// marks a record permanently failed; an unconfirmed wish stays claimable.
func (s *ClaimService) Claim(ctx context.Context, wishID, walletAddress string) (ClaimResult, error) {
	var wish models.Wish
	err := s.DB.WithContext(ctx).
		Where("id = ? AND wallet_address = ? AND verdict = ?", wishID, walletAddress, models.VerdictWorthy).
		First(&wish).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ClaimResult{}, &ClaimError{Status: fiber.StatusNotFound, Message: "Wish not found or not eligible for claim"}
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("failed to fetch wish: %w", err)
	}

	// Repeated claims (double-clicks, client retries) are success, not error.
	if wish.TxSignature != nil {
		log.Printf("✅ [CLAIM] wish %s already claimed: %s", wish.ID, *wish.TxSignature)
		return ClaimResult{TxSignature: *wish.TxSignature, Amount: derefAmount(wish.PayoutAmount), AlreadyClaimed: true}, nil
	}

	if wish.PayoutAmount == nil || *wish.PayoutAmount <= 0 {
		return ClaimResult{}, &ClaimError{Status: fiber.StatusBadRequest, Message: "No payout amount for this wish"}
	}

	recipient, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return ClaimResult{}, &ClaimError{Status: fiber.StatusBadRequest, Message: "Invalid wallet address"}
	}

	treasuryAcct, err := s.Ledger.TreasuryTokenAccount(ctx)
	if err != nil {
		log.Printf("❌ [CLAIM] treasury token account unavailable: %v", err)
		return ClaimResult{}, &ClaimError{
			Status:  fiber.StatusServiceUnavailable,
			Message: "Treasury not funded. The lamp needs oil before it can grant wishes.",
		}
	}

	recipientAcct, err := s.Ledger.ResolveTokenAccount(ctx, recipient)
	if err != nil {
		log.Printf("❌ [CLAIM] recipient token account failed: %v", err)
		return ClaimResult{}, &ClaimError{
			Status:    fiber.StatusInternalServerError,
			Message:   "Failed to create token account for your wallet. Please try again.",
			Retryable: true,
		}
	}

	amount := uint64(*wish.PayoutAmount) * tokenDecimalsFactor
	transferIx := s.Ledger.BuildTransfer(treasuryAcct, recipientAcct, amount)
	feeIx := s.Ledger.BuildPriorityFee(priorityFeeMicroLamports)
	instrs := []solana.Instruction{feeIx, transferIx}

	log.Printf("💰 [CLAIM] wish %s: transferring %d tokens to %s", wish.ID, *wish.PayoutAmount, truncateWallet(walletAddress))

	signature, lastErr := s.submitWithRetries(ctx, wish.ID, instrs)
	if signature == "" {
		if lastErr != nil && !isRetryableError(lastErr) {
			// Needs an operator: insufficient funds and friends do not fix
			// themselves on retry, but the record stays claimable.
			log.Printf("💀 [CLAIM] wish %s non-retryable failure: %v", wish.ID, lastErr)
			return ClaimResult{}, &ClaimError{
				Status:  fiber.StatusInternalServerError,
				Message: "Transfer failed. The treasury keeper has been notified.",
			}
		}
		log.Printf("❌ [CLAIM] wish %s: all %d attempts failed: %v", wish.ID, maxClaimAttempts, lastErr)
		return ClaimResult{}, &ClaimError{
			Status:    fiber.StatusInternalServerError,
			Message:   "Transaction failed after multiple attempts. Please try again.",
			Retryable: true,
		}
	}

	applied, err := models.SetTxSignatureOnce(s.DB.WithContext(ctx), wish.ID, signature)
	if err != nil {
		// The transfer confirmed but the proof write failed; the signature
		// is recoverable from chain history, so surface it rather than
		// telling the caller to pay again.
		log.Printf("🚨 [CLAIM] wish %s: confirmed %s but proof write failed: %v", wish.ID, signature, err)
		return ClaimResult{TxSignature: signature, Amount: *wish.PayoutAmount}, nil
	}
	if !applied {
		// Lost the proof race to a concurrent claim; its signature is the
		// canonical proof, never overwrite it.
		var current models.Wish
		if err := s.DB.WithContext(ctx).First(&current, "id = ?", wish.ID).Error; err == nil && current.TxSignature != nil {
			log.Printf("⚠️  [CLAIM] wish %s: proof already set by concurrent claim", wish.ID)
			return ClaimResult{TxSignature: *current.TxSignature, Amount: *wish.PayoutAmount, AlreadyClaimed: true}, nil
		}
		return ClaimResult{TxSignature: signature, Amount: *wish.PayoutAmount}, nil
	}

	s.recordAuditSignature(ctx, wish.ID, signature)
	log.Printf("✅ [CLAIM] wish %s confirmed: %s", wish.ID, signature)
	return ClaimResult{TxSignature: signature, Amount: *wish.PayoutAmount}, nil
}

// submitWithRetries runs the bounded retry loop: fresh blockhash per
// attempt, jittered backoff between retryable failures, immediate abort on
// anything else.
func (s *ClaimService) submitWithRetries(ctx context.Context, wishID string, instrs []solana.Instruction) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		sig, err := s.submitAndConfirm(ctx, instrs)
		if err == nil {
			if attempt > 1 {
				log.Printf("🔄 [CLAIM] wish %s confirmed on attempt %d", wishID, attempt)
			}
			return sig, nil
		}
		lastErr = err
		log.Printf("❌ [CLAIM] wish %s attempt %d/%d failed: %v", wishID, attempt, maxClaimAttempts, err)

		if !isRetryableError(err) {
			break
		}
		if attempt < maxClaimAttempts {
			delay := s.backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return "", lastErr
}

// submitAndConfirm is one attempt: fetch a fresh blockhash (a stale one is
// the classic "blockhash not found" source), broadcast without preflight,
// then poll status until confirmed or the per-attempt ceiling.
func (s *ClaimService) submitAndConfirm(ctx context.Context, instrs []solana.Instruction) (string, error) {
	blockhash, err := s.Ledger.LatestBlockhash(ctx)
	if err != nil {
		return "", err
	}

	sig, err := s.Ledger.Submit(ctx, instrs, blockhash)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(s.ConfirmTimeout)
	for time.Now().Before(deadline) {
		status, err := s.Ledger.Status(ctx, sig)
		if err == nil {
			if status.Err != nil {
				return "", status.Err
			}
			if status.Confirmed {
				return sig.String(), nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(s.PollInterval):
		}
	}
	return "", fmt.Errorf("transaction confirmation timeout")
}

// backoffDelay: random(0, MaxJitter) + attempt*BackoffStep.
func (s *ClaimService) backoffDelay(attempt int) time.Duration {
	jitter := time.Duration(0)
	if s.MaxJitter > 0 {
		jitter = time.Duration(rand.Int63n(int64(s.MaxJitter)))
	}
	return jitter + time.Duration(attempt)*s.BackoffStep
}

// recordAuditSignature mirrors the proof onto the wish's audit row.
// Best-effort: the wish row is the source of truth.
func (s *ClaimService) recordAuditSignature(ctx context.Context, wishID, signature string) {
	err := s.DB.WithContext(ctx).
		Model(&models.WishAuditLog{}).
		Where("wish_id = ?", wishID).
		Update("tx_signature", signature).Error
	if err != nil {
		log.Printf("⚠️  [CLAIM] audit signature update failed for wish %s: %v", wishID, err)
	}
}

func derefAmount(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
