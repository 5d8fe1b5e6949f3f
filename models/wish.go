// models/wish.go
package models

import (
	"time"

	"gorm.io/gorm"
)

// Verdict is the judgment outcome for a submitted wish.
type Verdict string

const (
	VerdictWorthy   Verdict = "WORTHY"
	VerdictUnworthy Verdict = "UNWORTHY"
)

// PayoutTier is the payout band assigned to a WORTHY wish.
type PayoutTier string

const (
	TierCommon    PayoutTier = "COMMON"
	TierRare      PayoutTier = "RARE"
	TierLegendary PayoutTier = "LEGENDARY"
	TierMythic    PayoutTier = "MYTHIC"
	TierTest      PayoutTier = "TEST" // operator verification payouts only
)

// Wish is one judged submission. Created once per judgment (rejected ones
// included, so cooldown checks see consistent history). The only mutation
// after creation is the single write of TxSignature by the claim flow.
type Wish struct {
	ID            string      `gorm:"primaryKey;type:uuid" json:"id"`
	WalletAddress string      `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	WishText      string      `gorm:"type:text;not null" json:"wish_text"`
	IPAddress     *string     `gorm:"type:varchar(64);index" json:"-"`
	Verdict       Verdict     `gorm:"type:varchar(16);not null;index" json:"verdict"`
	Score         int         `gorm:"not null" json:"score"`
	PayoutAmount  *int64      `json:"payout_amount,omitempty"`
	PayoutTier    *PayoutTier `gorm:"type:varchar(16)" json:"payout_tier,omitempty"`
	IsJackpot     bool        `gorm:"not null;default:false" json:"is_jackpot"`
	TxSignature   *string     `gorm:"type:varchar(128)" json:"tx_signature,omitempty"`
	CreatedAt     time.Time   `gorm:"index" json:"created_at"`
}

// SetTxSignatureOnce records the transfer proof for a wish, but only if no
// proof has been set yet. Returns true when this call won the write. A false
// return with nil error means another claim already set the signature — the
// caller must read back the stored value instead of overwriting it.
func SetTxSignatureOnce(db *gorm.DB, wishID string, signature string) (bool, error) {
	res := db.Model(&Wish{}).
		Where("id = ? AND tx_signature IS NULL", wishID).
		Update("tx_signature", signature)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
