package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvestmentPending   = "pending"
	InvestmentConfirmed = "confirmed"
	InvestmentFailed    = "failed"
)

// Investment is produced once per allocated deal per successful execution attempt.
type Investment struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SubscriptionID uint64 `gorm:"not null;index" json:"subscription_id"`
	AttemptID      string `gorm:"type:varchar(36);not null;index" json:"attempt_id"`
	DealID         uint64 `gorm:"not null;index" json:"deal_id"`
	SPVID          uint64 `gorm:"column:spv_id;not null" json:"spv_id"`
	OwnerAccountID string `gorm:"type:varchar(100);not null;index" json:"owner_account_id"`
	BillingPeriod  string `gorm:"type:varchar(20);not null" json:"billing_period"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	Shares int64           `gorm:"not null;default:0" json:"shares"`
	Status string          `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (Investment) TableName() string {
	return "investments"
}
