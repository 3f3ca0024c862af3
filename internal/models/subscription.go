package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubscriptionActive    = "active"
	SubscriptionPaused    = "paused"
	SubscriptionCancelled = "cancelled"
	SubscriptionCompleted = "completed"
)

const (
	CycleMonthly = "monthly"
	CycleWeekly  = "weekly"
	CycleDaily   = "daily"
)

// Subscription is a standing instruction to invest MonthlyAmount into a bundle every cycle.
type Subscription struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerAccountID string `gorm:"type:varchar(100);not null;index" json:"owner_account_id"`
	BundleID       uint64 `gorm:"not null;index" json:"bundle_id"`

	// MonthlyAmount is the fixed per-cycle amount and never changes after creation.
	MonthlyAmount decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"monthly_amount"`
	CycleUnit     string          `gorm:"type:varchar(20);not null;default:'monthly'" json:"cycle_unit"`
	TotalCycles   *int            `json:"total_cycles,omitempty"`

	CyclesCompleted int             `gorm:"not null;default:0" json:"cycles_completed"`
	InvestedTotal   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"invested_total"`
	CumulativeValue decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"cumulative_value"`
	AutoCompound    bool            `gorm:"not null;default:false" json:"auto_compound"`

	Status      string     `gorm:"type:varchar(20);not null;default:'active';index:idx_subscriptions_due,priority:1" json:"status"`
	NextDueAt   *time.Time `gorm:"index:idx_subscriptions_due,priority:2" json:"next_due_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	PauseReason string     `gorm:"type:varchar(50)" json:"pause_reason,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ConsecutiveFailures int        `gorm:"not null;default:0" json:"consecutive_failures"`
	LastOutcome         string     `gorm:"type:varchar(20)" json:"last_outcome,omitempty"`
	LastOutcomeReason   string     `gorm:"type:varchar(50)" json:"last_outcome_reason,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`

	Version   int64     `gorm:"not null;default:0" json:"version"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// Terminal reports whether no further transition is possible.
func (s Subscription) Terminal() bool {
	return s.Status == SubscriptionCancelled || s.Status == SubscriptionCompleted
}

// CommitmentReached reports whether the committed number of cycles has been invested.
func (s Subscription) CommitmentReached() bool {
	return s.TotalCycles != nil && *s.TotalCycles > 0 && s.CyclesCompleted >= *s.TotalCycles
}
