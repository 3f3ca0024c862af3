package gormrepository

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sipengine/internal/models"
	"sipengine/internal/repository"
)

func (s *Store) GetWallet(ctx context.Context, accountID string) (*models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, nil
	}
	return first[models.Wallet](s.db.WithContext(ctx).Where("account_id = ?", accountID))
}

// GetAvailableBalance returns zero for an account without a wallet.
func (s *Store) GetAvailableBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	w, err := s.GetWallet(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if w == nil {
		return decimal.Zero, nil
	}
	return w.Balance, nil
}

func (s *Store) Debit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		return s.DebitTx(ctx, tx, accountID, amount, idempotencyKey)
	})
}

// DebitTx journals the debit under idempotencyKey and decrements the balance only if it
// covers amount. Replaying a key that is already journaled is a no-op.
func (s *Store) DebitTx(ctx context.Context, tx *gorm.DB, accountID string, amount decimal.Decimal, idempotencyKey string) error {
	if s == nil || s.db == nil {
		return nil
	}
	applied, err := s.journal(ctx, tx, accountID, models.EntryDebit, amount, idempotencyKey)
	if err != nil || !applied {
		return err
	}
	res := s.conn(ctx, tx).
		Model(&models.Wallet{}).
		Where("account_id = ?", accountID).
		Where("balance >= ?", amount).
		Update("balance", gorm.Expr("balance - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("debit %s from %s: %w", amount, accountID, repository.ErrInsufficientFunds)
	}
	return nil
}

// Credit creates the wallet on first use.
func (s *Store) Credit(ctx context.Context, accountID string, amount decimal.Decimal, idempotencyKey string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.InTx(ctx, func(tx *gorm.DB) error {
		applied, err := s.journal(ctx, tx, accountID, models.EntryCredit, amount, idempotencyKey)
		if err != nil || !applied {
			return err
		}
		wallet := &models.Wallet{AccountID: strings.TrimSpace(accountID), Balance: decimal.Zero}
		if err := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoNothing: true,
		}).Create(wallet).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).
			Model(&models.Wallet{}).
			Where("account_id = ?", strings.TrimSpace(accountID)).
			Update("balance", gorm.Expr("balance + ?", amount)).Error
	})
}

func (s *Store) journal(ctx context.Context, tx *gorm.DB, accountID, direction string, amount decimal.Decimal, key string) (bool, error) {
	accountID = strings.TrimSpace(accountID)
	key = strings.TrimSpace(key)
	if accountID == "" {
		return false, fmt.Errorf("%s: account id required", direction)
	}
	if key == "" {
		return false, fmt.Errorf("%s: idempotency key required", direction)
	}
	if !amount.IsPositive() {
		return false, fmt.Errorf("%s: amount must be positive, got %s", direction, amount)
	}
	entry := &models.WalletEntry{
		AccountID:      accountID,
		Direction:      direction,
		Amount:         amount,
		IdempotencyKey: key,
		Reference:      key,
	}
	res := s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
