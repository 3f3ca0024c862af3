package gormrepository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"sipengine/internal/models"
	"sipengine/internal/repository"
)

func (s *Store) CreateSubscription(ctx context.Context, item *models.Subscription) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSubscription(ctx context.Context, id uint64) (*models.Subscription, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Subscription](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) ListDueSubscriptions(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	var items []models.Subscription
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SubscriptionActive).
		Where("next_due_at IS NOT NULL").
		Where("next_due_at <= ?", now).
		Order("next_due_at asc, id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSubscriptionGuarded(ctx context.Context, id uint64, status string, version int64, updates map[string]any) error {
	return s.UpdateSubscriptionGuardedTx(ctx, nil, id, status, version, updates)
}

// UpdateSubscriptionGuardedTx is a compare-and-swap on (status, version); the version is
// always bumped so the next writer has to re-read.
func (s *Store) UpdateSubscriptionGuardedTx(ctx context.Context, tx *gorm.DB, id uint64, status string, version int64, updates map[string]any) error {
	if s == nil || s.db == nil {
		return nil
	}
	values := make(map[string]any, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")
	values["updated_at"] = time.Now().UTC()
	res := s.conn(ctx, tx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Where("status = ?", status).
		Where("version = ?", version).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subscription %d: %w", id, repository.ErrConflict)
	}
	return nil
}

func (s *Store) RecordSubscriptionFailure(ctx context.Context, id uint64, reason string, at time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int
	err := s.InTx(ctx, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
				"last_outcome":         "failed",
				"last_outcome_reason":  reason,
				"last_run_at":          at,
				"version":              gorm.Expr("version + 1"),
				"updated_at":           time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("subscription %d: %w", id, repository.ErrNotFound)
		}
		return tx.WithContext(ctx).
			Model(&models.Subscription{}).
			Where("id = ?", id).
			Pluck("consecutive_failures", &count).Error
	})
	return count, err
}

func (s *Store) RecordSubscriptionOutcome(ctx context.Context, id uint64, outcome, reason string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_outcome":        outcome,
			"last_outcome_reason": reason,
			"last_run_at":         at,
			"updated_at":          time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("subscription %d: %w", id, repository.ErrNotFound)
	}
	return nil
}
