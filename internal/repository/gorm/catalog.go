package gormrepository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"sipengine/internal/allocation"
	"sipengine/internal/models"
	"sipengine/internal/repository"
)

func (s *Store) CreateSPV(ctx context.Context, item *models.SPV) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSPV(ctx context.Context, id uint64) (*models.SPV, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.SPV](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) CreateDeal(ctx context.Context, item *models.Deal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetDeal(ctx context.Context, id uint64) (*models.Deal, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Deal](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) GetDealMinTicket(ctx context.Context, dealID uint64) (decimal.Decimal, error) {
	deal, err := s.GetDeal(ctx, dealID)
	if err != nil {
		return decimal.Zero, err
	}
	if deal == nil {
		return decimal.Zero, fmt.Errorf("deal %d: %w", dealID, repository.ErrNotFound)
	}
	return deal.MinTicket, nil
}

func (s *Store) ListDealsByIDs(ctx context.Context, ids []uint64) ([]models.Deal, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return nil, nil
	}
	var items []models.Deal
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Order("id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CreateBundle(ctx context.Context, item *models.Bundle) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Name = strings.TrimSpace(item.Name)
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetBundle(ctx context.Context, id uint64) (*models.Bundle, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	return first[models.Bundle](s.db.WithContext(ctx).Where("id = ?", id))
}

// GetBundleComposition reads the active members in position order. It is never cached:
// compositions may change between cycles.
func (s *Store) GetBundleComposition(ctx context.Context, bundleID uint64) ([]repository.BundleMember, error) {
	if s == nil || s.db == nil || bundleID == 0 {
		return nil, nil
	}
	var rows []models.BundleDeal
	if err := s.db.WithContext(ctx).
		Where("bundle_id = ?", bundleID).
		Where("active = ?", true).
		Order("position asc, deal_id asc").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]repository.BundleMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, repository.BundleMember{
			DealID:        r.DealID,
			AllocationPct: r.AllocationPct,
			IsCore:        r.IsCore,
			Position:      r.Position,
		})
	}
	return out, nil
}

// ReplaceBundleComposition swaps the whole member set atomically. The new set is checked
// against the deals it references before anything is written; a set that fails
// allocation.ValidateComposition is rejected with ErrInvalidComposition.
func (s *Store) ReplaceBundleComposition(ctx context.Context, bundleID uint64, items []models.BundleDeal) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		if err := validateComposition(ctx, tx, items); err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Where("bundle_id = ?", bundleID).Delete(&models.BundleDeal{}).Error; err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range items {
			items[i].ID = 0
			items[i].BundleID = bundleID
			if items[i].Position == 0 {
				items[i].Position = i + 1
			}
			items[i].CreatedAt = now
			items[i].UpdatedAt = now
		}
		if err := tx.WithContext(ctx).Create(&items).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Model(&models.Bundle{}).Where("id = ?", bundleID).Update("updated_at", now).Error
	})
}

func validateComposition(ctx context.Context, tx *gorm.DB, items []models.BundleDeal) error {
	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.DealID)
	}
	var deals []models.Deal
	if len(ids) > 0 {
		if err := tx.WithContext(ctx).Where("id IN ?", ids).Find(&deals).Error; err != nil {
			return err
		}
	}
	byID := make(map[uint64]models.Deal, len(deals))
	for _, d := range deals {
		byID[d.ID] = d
	}
	members := make([]allocation.Member, 0, len(items))
	for _, it := range items {
		if !it.Active {
			continue
		}
		d, ok := byID[it.DealID]
		if !ok && it.DealID != 0 {
			return fmt.Errorf("deal %d: %w", it.DealID, repository.ErrNotFound)
		}
		members = append(members, allocation.Member{
			DealID:    it.DealID,
			Pct:       it.AllocationPct,
			IsCore:    it.IsCore,
			MinTicket: d.MinTicket,
			MinorUnit: d.MinorUnit,
		})
	}
	return allocation.ValidateComposition(members)
}

func (s *Store) CreateInvestmentTx(ctx context.Context, tx *gorm.DB, item *models.Investment) (uint64, error) {
	if s == nil || s.db == nil || item == nil {
		return 0, nil
	}
	if err := s.conn(ctx, tx).Create(item).Error; err != nil {
		return 0, err
	}
	return item.ID, nil
}

// IncrementDealAggregatesTx bumps raised_amount and investor_count in place so concurrent
// executions into the same deal never lose an update.
func (s *Store) IncrementDealAggregatesTx(ctx context.Context, tx *gorm.DB, dealID uint64, amount decimal.Decimal) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.conn(ctx, tx).
		Model(&models.Deal{}).
		Where("id = ?", dealID).
		Updates(map[string]any{
			"raised_amount":  gorm.Expr("raised_amount + ?", amount),
			"investor_count": gorm.Expr("investor_count + ?", 1),
			"updated_at":     time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deal %d: %w", dealID, repository.ErrNotFound)
	}
	return nil
}

func (s *Store) IncrementSPVIssuedSharesTx(ctx context.Context, tx *gorm.DB, spvID uint64, shares int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	res := s.conn(ctx, tx).
		Model(&models.SPV{}).
		Where("id = ?", spvID).
		Updates(map[string]any{
			"issued_shares": gorm.Expr("issued_shares + ?", shares),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("spv %d: %w", spvID, repository.ErrNotFound)
	}
	return nil
}

func (s *Store) ListInvestments(ctx context.Context, params repository.ListInvestmentsParams) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := investmentsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "id")
	var items []models.Investment
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountInvestments(ctx context.Context, params repository.ListInvestmentsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := investmentsQuery(s.db.WithContext(ctx), params).Count(&total).Error
	return total, err
}

func investmentsQuery(db *gorm.DB, params repository.ListInvestmentsParams) *gorm.DB {
	query := db.Model(&models.Investment{})
	if params.SubscriptionID != nil {
		query = query.Where("subscription_id = ?", *params.SubscriptionID)
	}
	if params.DealID != nil {
		query = query.Where("deal_id = ?", *params.DealID)
	}
	if params.AttemptID != nil && strings.TrimSpace(*params.AttemptID) != "" {
		query = query.Where("attempt_id = ?", strings.TrimSpace(*params.AttemptID))
	}
	return query
}
