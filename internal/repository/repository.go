package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"sipengine/internal/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrConflict means a guarded update matched no row because another writer got there first.
	ErrConflict = errors.New("concurrent update conflict")
)

// LedgerStore holds wallet balances. Debits and credits are idempotent on their key.
type LedgerStore interface {
	GetWallet(ctx context.Context, accountID string) (*models.Wallet, error)
	GetAvailableBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	Debit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) error
	DebitTx(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, idempotencyKey string) error
	Credit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) error
}

// BundleMember is one row of a bundle composition.
type BundleMember struct {
	DealID        uint64
	AllocationPct decimal.Decimal
	IsCore        bool
	Position      int
}

// CatalogStore holds deals, SPVs, bundles and the investments made into them.
type CatalogStore interface {
	CreateSPV(ctx context.Context, item *models.SPV) error
	GetSPV(ctx context.Context, id uint64) (*models.SPV, error)
	CreateDeal(ctx context.Context, item *models.Deal) error
	GetDeal(ctx context.Context, id uint64) (*models.Deal, error)
	GetDealMinTicket(ctx context.Context, dealID uint64) (decimal.Decimal, error)
	ListDealsByIDs(ctx context.Context, ids []uint64) ([]models.Deal, error)

	CreateBundle(ctx context.Context, item *models.Bundle) error
	GetBundle(ctx context.Context, id uint64) (*models.Bundle, error)
	GetBundleComposition(ctx context.Context, bundleID uint64) ([]BundleMember, error)
	ReplaceBundleComposition(ctx context.Context, bundleID uint64, items []models.BundleDeal) error

	CreateInvestmentTx(ctx context.Context, tx *gorm.DB, item *models.Investment) (uint64, error)
	IncrementDealAggregatesTx(ctx context.Context, tx *gorm.DB, dealID uint64, amount decimal.Decimal) error
	IncrementSPVIssuedSharesTx(ctx context.Context, tx *gorm.DB, spvID uint64, shares int64) error
	ListInvestments(ctx context.Context, params ListInvestmentsParams) ([]models.Investment, error)
	CountInvestments(ctx context.Context, params ListInvestmentsParams) (int64, error)
}

type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, item *models.Subscription) error
	GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	// UpdateSubscriptionGuarded applies updates only if status and version still match.
	UpdateSubscriptionGuarded(ctx context.Context, id uint64, status string, version int64, updates map[string]any) error
	UpdateSubscriptionGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, status string, version int64, updates map[string]any) error
	// RecordSubscriptionFailure bumps the consecutive failure counter and returns the new value.
	RecordSubscriptionFailure(ctx context.Context, id uint64, reason string, at time.Time) (int, error)
	// RecordSubscriptionOutcome sets the last outcome fields only; the failure counter is untouched.
	RecordSubscriptionOutcome(ctx context.Context, id uint64, outcome, reason string, at time.Time) error
}

type ClaimOutcome string

const (
	// ClaimAcquired: a fresh attempt row was inserted by this caller.
	ClaimAcquired ClaimOutcome = "acquired"
	// ClaimReclaimed: a failed or stale attempt was flipped back to in_progress by this caller.
	ClaimReclaimed ClaimOutcome = "reclaimed"
	// ClaimAlreadySucceeded: the period has been processed.
	ClaimAlreadySucceeded ClaimOutcome = "already_succeeded"
	// ClaimHeld: another worker owns a fresh in_progress attempt.
	ClaimHeld ClaimOutcome = "held"
	// ClaimLost: a reclaim compare-and-swap lost to another worker.
	ClaimLost ClaimOutcome = "lost"
)

type ClaimResult struct {
	Outcome ClaimOutcome
	Attempt models.ExecutionAttempt
}

// Owned reports whether the caller may proceed with side effects.
func (r ClaimResult) Owned() bool {
	return r.Outcome == ClaimAcquired || r.Outcome == ClaimReclaimed
}

// AttemptStore is the run ledger: one execution attempt per (subscription, billing period).
type AttemptStore interface {
	ClaimAttempt(ctx context.Context, subscriptionID uint64, period string, now time.Time, staleAfter time.Duration) (ClaimResult, error)
	// LockAttemptTx re-checks ownership inside a transaction and locks the row until commit.
	LockAttemptTx(ctx context.Context, tx *gorm.DB, id string, version int64) error
	MarkAttemptSucceededTx(ctx context.Context, tx *gorm.DB, id string, version int64, amount decimal.Decimal, investmentIDs []uint64, at time.Time) error
	MarkAttemptFailed(ctx context.Context, id string, version int64, code string, message string, at time.Time) error
	GetAttempt(ctx context.Context, subscriptionID uint64, period string) (*models.ExecutionAttempt, error)
	ListAttempts(ctx context.Context, params ListAttemptsParams) ([]models.ExecutionAttempt, error)
	CountAttempts(ctx context.Context, params ListAttemptsParams) (int64, error)
}

type SettingsStore interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
}

// Repository is everything the scheduler, state machine and handlers need from storage.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	LedgerStore
	CatalogStore
	SubscriptionStore
	AttemptStore
	SettingsStore
}

type ListAttemptsParams struct {
	Limit          int
	Offset         int
	SubscriptionID *uint64
	Status         *string
	OrderBy        string
	Asc            *bool
}

type ListInvestmentsParams struct {
	Limit          int
	Offset         int
	SubscriptionID *uint64
	DealID         *uint64
	AttemptID      *string
	OrderBy        string
	Asc            *bool
}
