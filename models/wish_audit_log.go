// models/wish_audit_log.go
package models

import "time"

// WishAuditLog is the operator-facing record of every judgment, including
// guard rejections that never produce a payable wish. Rows carry the raw
// oracle response for dispute review and are archived to object storage by
// the audit archive worker.
type WishAuditLog struct {
	ID                string      `gorm:"primaryKey;type:uuid" json:"id"`
	WishID            *string     `gorm:"type:uuid;index" json:"wish_id,omitempty"`
	WalletAddress     string      `gorm:"type:varchar(64);not null;index" json:"wallet_address"`
	WishText          string      `gorm:"type:text;not null" json:"wish_text"`
	IPAddress         *string     `gorm:"type:varchar(64)" json:"ip_address,omitempty"`
	Verdict           Verdict     `gorm:"type:varchar(16);not null" json:"verdict"`
	Score             int         `gorm:"not null" json:"score"`
	PayoutTier        *PayoutTier `gorm:"type:varchar(16)" json:"payout_tier,omitempty"`
	PayoutAmount      *int64      `json:"payout_amount,omitempty"`
	RejectionReason   *string     `gorm:"type:varchar(32);index" json:"rejection_reason,omitempty"`
	RawOracleResponse *string     `gorm:"type:text" json:"raw_oracle_response,omitempty"`
	TxSignature       *string     `gorm:"type:varchar(128)" json:"tx_signature,omitempty"`
	CreatedAt         time.Time   `gorm:"index" json:"created_at"`
}
