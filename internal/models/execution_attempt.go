package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	AttemptInProgress = "in_progress"
	AttemptSucceeded  = "succeeded"
	AttemptFailed     = "failed"
)

// ExecutionAttempt gates at-most-once processing of a (subscription, billing period) pair.
// The unique index on the pair is the idempotency gate; the row ID doubles as the
// ledger idempotency key for the wallet debit.
type ExecutionAttempt struct {
	ID             string `gorm:"type:varchar(36);primaryKey" json:"id"`
	SubscriptionID uint64 `gorm:"not null;uniqueIndex:ux_attempt_subscription_period,priority:1" json:"subscription_id"`
	BillingPeriod  string `gorm:"type:varchar(20);not null;uniqueIndex:ux_attempt_subscription_period,priority:2" json:"billing_period"`

	Status        string                      `gorm:"type:varchar(20);not null;index" json:"status"`
	Amount        decimal.Decimal             `gorm:"type:numeric(30,10);not null;default:0" json:"amount"`
	InvestmentIDs datatypes.JSONSlice[uint64] `json:"investment_ids"`

	FailureCode    string `gorm:"type:varchar(50)" json:"failure_code,omitempty"`
	FailureMessage string `gorm:"type:text" json:"failure_message,omitempty"`

	Attempts int   `gorm:"not null;default:1" json:"attempts"`
	Version  int64 `gorm:"not null;default:0" json:"version"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ExecutionAttempt) TableName() string {
	return "execution_attempts"
}
