package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"sipengine/internal/models"
	"sipengine/internal/repository"
)

var (
	ErrInvalidStateTransition = errors.New("invalid subscription state transition")
	ErrInvalidSubscription    = errors.New("invalid subscription")
)

// InvalidTransitionError reports a transition the state machine does not allow.
type InvalidTransitionError struct {
	SubscriptionID uint64
	From           string
	To             string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("subscription %d: cannot move from %s to %s", e.SubscriptionID, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}

const (
	PauseReasonUser = "user"
)

var transitions = map[string][]string{
	models.SubscriptionActive: {models.SubscriptionPaused, models.SubscriptionCancelled, models.SubscriptionCompleted},
	models.SubscriptionPaused: {models.SubscriptionActive, models.SubscriptionCancelled},
}

func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Repo is the storage the state machine needs.
type Repo interface {
	GetBundle(ctx context.Context, id uint64) (*models.Bundle, error)
	CreateSubscription(ctx context.Context, item *models.Subscription) error
	GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error)
	ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	UpdateSubscriptionGuarded(ctx context.Context, id uint64, status string, version int64, updates map[string]any) error
	UpdateSubscriptionGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, status string, version int64, updates map[string]any) error
}

// Machine owns every subscription status change. Transitions are compare-and-swap
// updates on (status, version), so a lost race surfaces as repository.ErrConflict
// and never as a partial write.
type Machine struct {
	Repo   Repo
	Logger *zap.Logger
	Now    func() time.Time
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Machine) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

type CreateParams struct {
	OwnerAccountID string
	BundleID       uint64
	Amount         decimal.Decimal
	CycleUnit      string
	TotalCycles    *int
	AutoCompound   bool
	// StartAt is the first due time; zero means now.
	StartAt time.Time
}

func (m *Machine) Create(ctx context.Context, params CreateParams) (*models.Subscription, error) {
	if m == nil || m.Repo == nil {
		return nil, fmt.Errorf("subscription machine not configured")
	}
	if params.OwnerAccountID == "" {
		return nil, fmt.Errorf("%w: owner account required", ErrInvalidSubscription)
	}
	if !params.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidSubscription)
	}
	if params.TotalCycles != nil && *params.TotalCycles <= 0 {
		return nil, fmt.Errorf("%w: total_cycles must be positive", ErrInvalidSubscription)
	}
	unit, err := NormalizeCycleUnit(params.CycleUnit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSubscription, err)
	}
	bundle, err := m.Repo.GetBundle(ctx, params.BundleID)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, fmt.Errorf("bundle %d: %w", params.BundleID, repository.ErrNotFound)
	}
	if !bundle.Active {
		return nil, fmt.Errorf("%w: bundle %d is inactive", ErrInvalidSubscription, params.BundleID)
	}

	due := params.StartAt.UTC()
	if params.StartAt.IsZero() {
		due = m.now()
	}
	item := &models.Subscription{
		OwnerAccountID:  params.OwnerAccountID,
		BundleID:        params.BundleID,
		MonthlyAmount:   params.Amount,
		CycleUnit:       unit,
		TotalCycles:     params.TotalCycles,
		InvestedTotal:   decimal.Zero,
		CumulativeValue: decimal.Zero,
		AutoCompound:    params.AutoCompound,
		Status:          models.SubscriptionActive,
		NextDueAt:       &due,
	}
	if err := m.Repo.CreateSubscription(ctx, item); err != nil {
		return nil, err
	}
	m.logger().Info("subscription created",
		zap.Uint64("subscription_id", item.ID),
		zap.Uint64("bundle_id", item.BundleID),
		zap.String("amount", item.MonthlyAmount.String()),
		zap.String("cycle_unit", unit),
	)
	return item, nil
}

func (m *Machine) Get(ctx context.Context, id uint64) (*models.Subscription, error) {
	sub, err := m.Repo.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("subscription %d: %w", id, repository.ErrNotFound)
	}
	return sub, nil
}

func (m *Machine) ListDue(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	return m.Repo.ListDueSubscriptions(ctx, now.UTC(), limit)
}

// Pause keeps NextDueAt so the schedule is visible; the scan skips paused rows.
func (m *Machine) Pause(ctx context.Context, id uint64) (*models.Subscription, error) {
	return m.transition(ctx, id, models.SubscriptionPaused, func(_ *models.Subscription, now time.Time) map[string]any {
		return map[string]any{
			"paused_at":    now,
			"pause_reason": PauseReasonUser,
		}
	})
}

// AutoPause is Pause on behalf of the scheduler after repeated business failures.
func (m *Machine) AutoPause(ctx context.Context, id uint64, reason string) (*models.Subscription, error) {
	sub, err := m.transition(ctx, id, models.SubscriptionPaused, func(_ *models.Subscription, now time.Time) map[string]any {
		return map[string]any{
			"paused_at":    now,
			"pause_reason": reason,
		}
	})
	if err == nil {
		m.logger().Warn("subscription auto-paused", zap.Uint64("subscription_id", id), zap.String("reason", reason))
	}
	return sub, err
}

// Resume schedules the next run one cycle from now. Cycles missed while paused are
// skipped, not back-filled.
func (m *Machine) Resume(ctx context.Context, id uint64) (*models.Subscription, error) {
	return m.transition(ctx, id, models.SubscriptionActive, func(sub *models.Subscription, now time.Time) map[string]any {
		return map[string]any{
			"next_due_at":          NextDue(now, sub.CycleUnit),
			"paused_at":            nil,
			"pause_reason":         "",
			"consecutive_failures": 0,
		}
	})
}

func (m *Machine) Cancel(ctx context.Context, id uint64) (*models.Subscription, error) {
	return m.transition(ctx, id, models.SubscriptionCancelled, func(_ *models.Subscription, now time.Time) map[string]any {
		return map[string]any{
			"next_due_at":  nil,
			"cancelled_at": now,
		}
	})
}

func (m *Machine) transition(ctx context.Context, id uint64, to string, build func(sub *models.Subscription, now time.Time) map[string]any) (*models.Subscription, error) {
	sub, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(sub.Status, to) {
		return nil, &InvalidTransitionError{SubscriptionID: id, From: sub.Status, To: to}
	}
	updates := build(sub, m.now())
	updates["status"] = to
	if err := m.Repo.UpdateSubscriptionGuarded(ctx, id, sub.Status, sub.Version, updates); err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

// Advance builds the update that records one successful cycle of amount. The second
// result reports whether the commitment is now fulfilled, in which case the update
// also completes the subscription.
func Advance(sub models.Subscription, amount decimal.Decimal, at time.Time) (map[string]any, bool) {
	due := at.UTC()
	if sub.NextDueAt != nil {
		due = *sub.NextDueAt
	}
	cycles := sub.CyclesCompleted + 1
	updates := map[string]any{
		"next_due_at":          NextDue(due, sub.CycleUnit),
		"cycles_completed":     cycles,
		"invested_total":       gorm.Expr("invested_total + ?", amount),
		"cumulative_value":     gorm.Expr("cumulative_value + ?", amount),
		"consecutive_failures": 0,
		"last_outcome":         "succeeded",
		"last_outcome_reason":  "",
		"last_run_at":          at.UTC(),
	}
	done := sub.TotalCycles != nil && cycles >= *sub.TotalCycles
	if done {
		updates["status"] = models.SubscriptionCompleted
		updates["next_due_at"] = nil
		updates["completed_at"] = at.UTC()
	}
	return updates, done
}

// AdvanceTx applies Advance inside the execution transaction. It only succeeds while
// the subscription is still active at the version the scheduler read.
func (m *Machine) AdvanceTx(ctx context.Context, tx *gorm.DB, sub models.Subscription, amount decimal.Decimal, at time.Time) (bool, error) {
	updates, done := Advance(sub, amount, at)
	if err := m.Repo.UpdateSubscriptionGuardedTx(ctx, tx, sub.ID, models.SubscriptionActive, sub.Version, updates); err != nil {
		return false, err
	}
	return done, nil
}
