// services/judgment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"wish-payout-system/models"
)

const (
	minWishLength = 10
	maxWishLength = 200

	// Fallback when the oracle is unavailable or returns garbage. 30 sits
	// below the worthy threshold, so a broken oracle never pays out.
	oracleFallbackScore   = 30
	oracleFallbackMessage = "The Oracle's wisdom is clouded. Try again, mortal."

	oracleHistoryLimit = 10

	// Operator verification codes. Only honored when the service runs with
	// operator codes enabled; see NewJudgmentService.
	operatorTestCode = "1919191919"
	operatorDevCode  = "193675193675"
	operatorTestPay  = int64(100)
)

var walletAddressPattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

// ValidationError rejects malformed input before any record is written.
type ValidationError struct{ Message string }

func (e *ValidationError) Error() string { return e.Message }

// JudgmentResponse is the claim handle returned to the caller.
type JudgmentResponse struct {
	Verdict           models.Verdict     `json:"verdict"`
	Score             int                `json:"score"`
	Message           string             `json:"message"`
	PayoutAmount      *int64             `json:"payout_amount"`
	PayoutTier        *models.PayoutTier `json:"payout_tier"`
	IsJackpot         bool               `json:"is_jackpot"`
	WishID            string             `json:"wish_id,omitempty"`
	CooldownRemaining int64              `json:"cooldown_remaining,omitempty"` // ms
}

// JudgmentService orchestrates judging: guard, oracle, verdict calculator,
// persistence.
type JudgmentService struct {
	DB                   *gorm.DB
	Guard                *AbuseGuard
	Oracle               ScoringOracle
	Calculator           *VerdictCalculator
	OperatorCodesEnabled bool
}

func NewJudgmentService(db *gorm.DB, guard *AbuseGuard, oracle ScoringOracle, calc *VerdictCalculator, operatorCodes bool) *JudgmentService {
	return &JudgmentService{
		DB:                   db,
		Guard:                guard,
		Oracle:               oracle,
		Calculator:           calc,
		OperatorCodesEnabled: operatorCodes,
	}
}

// JudgeWish serves POST /wishes/judge.
func (s *JudgmentService) JudgeWish(c *fiber.Ctx) error {
	var req struct {
		Wish          string `json:"wish"`
		WalletAddress string `json:"walletAddress"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	var ip *string
	if v, ok := c.Locals("client_ip").(string); ok && v != "" {
		ip = &v
	}

	resp, err := s.Judge(c.Context(), req.WalletAddress, req.Wish, ip)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Message})
		}
		log.Printf("❌ [JUDGE] %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Judgment failed"})
	}
	return c.JSON(resp)
}

// Judge runs the full decision pipeline for one submission. Every resolved
// submission (including guard rejections) leaves an audit row; cooldown
// rejections leave no wish row so hammering retries cannot extend the
// cooldown they are waiting out.
func (s *JudgmentService) Judge(ctx context.Context, walletAddress, wishText string, ip *string) (JudgmentResponse, error) {
	wishText = strings.TrimSpace(wishText)
	if err := validateInput(walletAddress, wishText); err != nil {
		return JudgmentResponse{}, err
	}

	rejection, err := s.Guard.CheckEligibility(ctx, walletAddress, ip)
	if err != nil {
		return JudgmentResponse{}, err
	}
	if rejection != nil {
		return s.rejectSubmission(ctx, walletAddress, wishText, ip, rejection)
	}

	if s.OperatorCodesEnabled {
		if resp, handled, err := s.handleOperatorCode(ctx, walletAddress, wishText, ip); handled {
			return resp, err
		}
	}

	winners, err := s.recentWinningTexts(ctx)
	if err != nil {
		return JudgmentResponse{}, err
	}

	judgment, oracleErr := s.Oracle.Judge(ctx, wishText, winners)
	if oracleErr != nil {
		// Never leave a submission unresolved: degrade to a conservative
		// UNWORTHY judgment and still persist the record.
		log.Printf("⚠️  [JUDGE] oracle degraded: %v", oracleErr)
		raw := judgment.Raw
		if raw == "" {
			raw = fmt.Sprintf("oracle error: %v", oracleErr)
		}
		judgment = OracleJudgment{
			Score:   oracleFallbackScore,
			Message: oracleFallbackMessage,
			Raw:     raw,
		}
	}

	result := s.Calculator.Calculate(judgment.Score)
	wish := s.buildWish(walletAddress, wishText, ip, judgment.Score, result)

	if err := s.persist(ctx, &wish, nil, &judgment.Raw); err != nil {
		return JudgmentResponse{}, err
	}

	message := judgment.Message
	if message == "" {
		message = "The Oracle has spoken."
	}
	log.Printf("⚖️  [JUDGE] wish %s: %s score=%d tier=%v", wish.ID, wish.Verdict, wish.Score, wish.PayoutTier)

	return JudgmentResponse{
		Verdict:      wish.Verdict,
		Score:        wish.Score,
		Message:      message,
		PayoutAmount: wish.PayoutAmount,
		PayoutTier:   wish.PayoutTier,
		IsJackpot:    wish.IsJackpot,
		WishID:       wish.ID,
	}, nil
}

func validateInput(walletAddress, wishText string) error {
	if wishText == "" {
		return &ValidationError{Message: "Missing or invalid wish"}
	}
	if len(wishText) < minWishLength || len(wishText) > maxWishLength {
		return &ValidationError{Message: fmt.Sprintf("Wish must be between %d and %d characters", minWishLength, maxWishLength)}
	}
	if !walletAddressPattern.MatchString(walletAddress) {
		return &ValidationError{Message: "Missing or invalid wallet address"}
	}
	return nil
}

// rejectSubmission resolves a guard rejection: cooldowns get an audit row
// only, solvency gates additionally write an UNWORTHY wish row (matching
// what cooldown checks will later count).
func (s *JudgmentService) rejectSubmission(ctx context.Context, walletAddress, wishText string, ip *string, rej *Rejection) (JudgmentResponse, error) {
	var wishPtr *models.Wish
	if rej.Reason != ReasonCooldown {
		wish := models.Wish{
			ID:            uuid.NewString(),
			WalletAddress: walletAddress,
			WishText:      wishText,
			IPAddress:     ip,
			Verdict:       models.VerdictUnworthy,
			Score:         0,
		}
		wishPtr = &wish
	}

	reason := string(rej.Reason)
	if err := s.persistRejection(ctx, wishPtr, walletAddress, wishText, ip, reason); err != nil {
		return JudgmentResponse{}, err
	}

	resp := JudgmentResponse{
		Verdict: models.VerdictUnworthy,
		Score:   0,
		Message: rej.Message,
	}
	if rej.Reason == ReasonCooldown {
		resp.CooldownRemaining = rej.RetryAfter.Milliseconds()
	}
	return resp, nil
}

func (s *JudgmentService) handleOperatorCode(ctx context.Context, walletAddress, wishText string, ip *string) (JudgmentResponse, bool, error) {
	switch wishText {
	case operatorTestCode:
		log.Printf("🧪 [JUDGE] operator test code from %s", truncateWallet(walletAddress))
		amount := operatorTestPay
		tier := models.TierTest
		wish := models.Wish{
			ID:            uuid.NewString(),
			WalletAddress: walletAddress,
			WishText:      wishText,
			IPAddress:     ip,
			Verdict:       models.VerdictWorthy,
			Score:         50,
			PayoutAmount:  &amount,
			PayoutTier:    &tier,
		}
		raw := `{"operator_code":"test"}`
		if err := s.persist(ctx, &wish, nil, &raw); err != nil {
			return JudgmentResponse{}, true, err
		}
		return JudgmentResponse{
			Verdict:      models.VerdictWorthy,
			Score:        50,
			Message:      "Test mode activated. Claim to receive.",
			PayoutAmount: wish.PayoutAmount,
			PayoutTier:   wish.PayoutTier,
			WishID:       wish.ID,
		}, true, nil

	case operatorDevCode:
		log.Printf("🎰 [JUDGE] operator dev code from %s", truncateWallet(walletAddress))
		result := s.Calculator.Calculate(99)
		wish := s.buildWish(walletAddress, wishText, ip, 99, result)
		raw := `{"operator_code":"dev"}`
		if err := s.persist(ctx, &wish, nil, &raw); err != nil {
			return JudgmentResponse{}, true, err
		}
		return JudgmentResponse{
			Verdict:      wish.Verdict,
			Score:        wish.Score,
			Message:      "The Oracle recognizes its creator.",
			PayoutAmount: wish.PayoutAmount,
			PayoutTier:   wish.PayoutTier,
			IsJackpot:    wish.IsJackpot,
			WishID:       wish.ID,
		}, true, nil
	}
	return JudgmentResponse{}, false, nil
}

func (s *JudgmentService) buildWish(walletAddress, wishText string, ip *string, score int, result VerdictResult) models.Wish {
	wish := models.Wish{
		ID:            uuid.NewString(),
		WalletAddress: walletAddress,
		WishText:      wishText,
		IPAddress:     ip,
		Verdict:       result.Verdict,
		Score:         score,
		IsJackpot:     result.IsJackpot,
	}
	if result.Verdict == models.VerdictWorthy {
		amount := result.Amount
		tier := result.Tier
		wish.PayoutAmount = &amount
		wish.PayoutTier = &tier
	}
	return wish
}

func (s *JudgmentService) recentWinningTexts(ctx context.Context) ([]string, error) {
	var wishes []models.Wish
	err := s.DB.WithContext(ctx).
		Where("verdict = ?", models.VerdictWorthy).
		Order("created_at desc").
		Limit(oracleHistoryLimit).
		Find(&wishes).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load winning history: %w", err)
	}
	texts := make([]string, 0, len(wishes))
	for _, w := range wishes {
		texts = append(texts, w.WishText)
	}
	return texts, nil
}

// persist writes the wish row plus its audit row in one transaction.
func (s *JudgmentService) persist(ctx context.Context, wish *models.Wish, rejectionReason, rawOracle *string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(wish).Error; err != nil {
			return fmt.Errorf("failed to save wish: %w", err)
		}
		audit := models.WishAuditLog{
			ID:                uuid.NewString(),
			WishID:            &wish.ID,
			WalletAddress:     wish.WalletAddress,
			WishText:          wish.WishText,
			IPAddress:         wish.IPAddress,
			Verdict:           wish.Verdict,
			Score:             wish.Score,
			PayoutTier:        wish.PayoutTier,
			PayoutAmount:      wish.PayoutAmount,
			RejectionReason:   rejectionReason,
			RawOracleResponse: rawOracle,
		}
		if err := tx.Create(&audit).Error; err != nil {
			return fmt.Errorf("failed to save audit log: %w", err)
		}
		return nil
	})
}

func (s *JudgmentService) persistRejection(ctx context.Context, wish *models.Wish, walletAddress, wishText string, ip *string, reason string) error {
	if wish != nil {
		return s.persist(ctx, wish, &reason, nil)
	}
	audit := models.WishAuditLog{
		ID:              uuid.NewString(),
		WalletAddress:   walletAddress,
		WishText:        wishText,
		IPAddress:       ip,
		Verdict:         models.VerdictUnworthy,
		Score:           0,
		RejectionReason: &reason,
	}
	if err := s.DB.WithContext(ctx).Create(&audit).Error; err != nil {
		return fmt.Errorf("failed to save audit log: %w", err)
	}
	return nil
}

// GetRecentWishes serves GET /wishes/recent — the public verdict feed the
// winners ledger renders. Wallets are truncated; no IPs leave the service.
func (s *JudgmentService) GetRecentWishes(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var wishes []models.Wish
	err := s.DB.WithContext(c.Context()).
		Order("created_at desc").
		Limit(limit).
		Find(&wishes).Error
	if err != nil {
		log.Printf("❌ [JUDGE] recent wishes query failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load wishes"})
	}

	type entry struct {
		ID           string             `json:"id"`
		Wallet       string             `json:"wallet"`
		WishText     string             `json:"wish_text"`
		Verdict      models.Verdict     `json:"verdict"`
		PayoutAmount *int64             `json:"payout_amount,omitempty"`
		PayoutTier   *models.PayoutTier `json:"payout_tier,omitempty"`
		IsJackpot    bool               `json:"is_jackpot"`
		Claimed      bool               `json:"claimed"`
		CreatedAt    string             `json:"created_at"`
	}
	out := make([]entry, 0, len(wishes))
	for _, w := range wishes {
		out = append(out, entry{
			ID:           w.ID,
			Wallet:       truncateWallet(w.WalletAddress),
			WishText:     w.WishText,
			Verdict:      w.Verdict,
			PayoutAmount: w.PayoutAmount,
			PayoutTier:   w.PayoutTier,
			IsJackpot:    w.IsJackpot,
			Claimed:      w.TxSignature != nil,
			CreatedAt:    w.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return c.JSON(fiber.Map{"wishes": out})
}

func truncateWallet(addr string) string {
	if len(addr) <= 8 {
		return addr
	}
	return addr[:4] + "..." + addr[len(addr)-4:]
}
