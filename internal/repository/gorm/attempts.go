package gormrepository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sipengine/internal/models"
	"sipengine/internal/repository"
)

// ClaimAttempt is the idempotency gate. The insert relies on the unique index over
// (subscription_id, billing_period): exactly one caller can create the row, everyone
// else observes it and decides from its status.
func (s *Store) ClaimAttempt(ctx context.Context, subscriptionID uint64, period string, now time.Time, staleAfter time.Duration) (repository.ClaimResult, error) {
	if s == nil || s.db == nil {
		return repository.ClaimResult{}, nil
	}
	period = strings.TrimSpace(period)
	if subscriptionID == 0 || period == "" {
		return repository.ClaimResult{}, fmt.Errorf("claim attempt: subscription and period required")
	}
	now = now.UTC()

	item := models.ExecutionAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: subscriptionID,
		BillingPeriod:  period,
		Status:         models.AttemptInProgress,
		Amount:         decimal.Zero,
		InvestmentIDs:  datatypes.NewJSONSlice([]uint64{}),
		Attempts:       1,
		Version:        0,
		StartedAt:      now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "billing_period"}},
		DoNothing: true,
	}).Create(&item)
	if res.Error != nil {
		return repository.ClaimResult{}, res.Error
	}
	if res.RowsAffected == 1 {
		return repository.ClaimResult{Outcome: repository.ClaimAcquired, Attempt: item}, nil
	}

	existing, err := s.GetAttempt(ctx, subscriptionID, period)
	if err != nil {
		return repository.ClaimResult{}, err
	}
	if existing == nil {
		// Inserted and removed between our two statements; nothing removes attempts, so
		// treat it as someone else's.
		return repository.ClaimResult{Outcome: repository.ClaimLost}, nil
	}

	switch existing.Status {
	case models.AttemptSucceeded:
		return repository.ClaimResult{Outcome: repository.ClaimAlreadySucceeded, Attempt: *existing}, nil
	case models.AttemptInProgress:
		staleBefore := now.Add(-staleAfter)
		// Stale means strictly older than the threshold, matching the reclaim predicate.
		if !existing.StartedAt.Before(staleBefore) {
			return repository.ClaimResult{Outcome: repository.ClaimHeld, Attempt: *existing}, nil
		}
		return s.reclaim(ctx, *existing, now, &staleBefore)
	default:
		return s.reclaim(ctx, *existing, now, nil)
	}
}

// reclaim flips a failed or stale attempt back to in_progress. The version check makes
// it a compare-and-swap; for stale rows the staleness is re-verified in the same statement.
func (s *Store) reclaim(ctx context.Context, existing models.ExecutionAttempt, now time.Time, staleBefore *time.Time) (repository.ClaimResult, error) {
	query := s.db.WithContext(ctx).
		Model(&models.ExecutionAttempt{}).
		Where("id = ?", existing.ID).
		Where("version = ?", existing.Version).
		Where("status = ?", existing.Status)
	if staleBefore != nil {
		query = query.Where("started_at < ?", *staleBefore)
	}
	res := query.Updates(map[string]any{
		"status":          models.AttemptInProgress,
		"version":         gorm.Expr("version + 1"),
		"attempts":        gorm.Expr("attempts + 1"),
		"started_at":      now,
		"completed_at":    nil,
		"failure_code":    "",
		"failure_message": "",
		"updated_at":      now,
	})
	if res.Error != nil {
		return repository.ClaimResult{}, res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ClaimResult{Outcome: repository.ClaimLost, Attempt: existing}, nil
	}
	existing.Status = models.AttemptInProgress
	existing.Version++
	existing.Attempts++
	existing.StartedAt = now
	existing.CompletedAt = nil
	existing.FailureCode = ""
	existing.FailureMessage = ""
	return repository.ClaimResult{Outcome: repository.ClaimReclaimed, Attempt: existing}, nil
}

func (s *Store) LockAttemptTx(ctx context.Context, tx *gorm.DB, id string, version int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.conn(ctx, tx).
		Model(&models.ExecutionAttempt{}).
		Where("id = ?", id).
		Where("version = ?", version).
		Where("status = ?", models.AttemptInProgress).
		Update("updated_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attempt %s: %w", id, repository.ErrConflict)
	}
	return nil
}

func (s *Store) MarkAttemptSucceededTx(ctx context.Context, tx *gorm.DB, id string, version int64, amount decimal.Decimal, investmentIDs []uint64, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if investmentIDs == nil {
		investmentIDs = []uint64{}
	}
	res := s.conn(ctx, tx).
		Model(&models.ExecutionAttempt{}).
		Where("id = ?", id).
		Where("version = ?", version).
		Where("status = ?", models.AttemptInProgress).
		Updates(map[string]any{
			"status":         models.AttemptSucceeded,
			"amount":         amount,
			"investment_ids": datatypes.NewJSONSlice(investmentIDs),
			"completed_at":   at.UTC(),
			"updated_at":     at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("attempt %s: %w", id, repository.ErrConflict)
	}
	return nil
}

// MarkAttemptFailed is a no-op when the attempt has since been reclaimed by someone else.
func (s *Store) MarkAttemptFailed(ctx context.Context, id string, version int64, code string, message string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	if len(message) > 2000 {
		message = message[:2000]
	}
	return s.db.WithContext(ctx).
		Model(&models.ExecutionAttempt{}).
		Where("id = ?", id).
		Where("version = ?", version).
		Where("status = ?", models.AttemptInProgress).
		Updates(map[string]any{
			"status":          models.AttemptFailed,
			"failure_code":    code,
			"failure_message": message,
			"completed_at":    at.UTC(),
			"updated_at":      at.UTC(),
		}).Error
}

func (s *Store) GetAttempt(ctx context.Context, subscriptionID uint64, period string) (*models.ExecutionAttempt, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.ExecutionAttempt](s.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Where("billing_period = ?", strings.TrimSpace(period)))
}

func (s *Store) ListAttempts(ctx context.Context, params repository.ListAttemptsParams) ([]models.ExecutionAttempt, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := attemptsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "started_at")
	var items []models.ExecutionAttempt
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountAttempts(ctx context.Context, params repository.ListAttemptsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := attemptsQuery(s.db.WithContext(ctx), params).Count(&total).Error
	return total, err
}

func attemptsQuery(db *gorm.DB, params repository.ListAttemptsParams) *gorm.DB {
	query := db.Model(&models.ExecutionAttempt{})
	if params.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *params.SubscriptionID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}
