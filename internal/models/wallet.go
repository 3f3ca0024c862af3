package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EntryDebit  = "debit"
	EntryCredit = "credit"
)

type Wallet struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"account_id"`
	Balance   decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"balance"`
	Currency  string          `gorm:"type:varchar(10);not null;default:'INR'" json:"currency"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// WalletEntry is the journal line behind every balance change; IdempotencyKey is unique.
type WalletEntry struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID      string          `gorm:"type:varchar(100);not null;index" json:"account_id"`
	Direction      string          `gorm:"type:varchar(10);not null" json:"direction"`
	Amount         decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"amount"`
	IdempotencyKey string          `gorm:"type:varchar(100);not null;uniqueIndex" json:"idempotency_key"`
	Reference      string          `gorm:"type:varchar(100)" json:"reference,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (WalletEntry) TableName() string {
	return "wallet_entries"
}
