package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Bundle struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"type:varchar(200);not null" json:"name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Bundle) TableName() string {
	return "bundles"
}

// BundleDeal is one weighted member of a bundle.
type BundleDeal struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	BundleID      uint64          `gorm:"not null;uniqueIndex:ux_bundle_deal,priority:1" json:"bundle_id"`
	DealID        uint64          `gorm:"not null;uniqueIndex:ux_bundle_deal,priority:2" json:"deal_id"`
	Position      int             `gorm:"not null;default:0" json:"position"`
	AllocationPct decimal.Decimal `gorm:"type:numeric(9,4);not null" json:"allocation_pct"`
	IsCore        bool            `gorm:"not null;default:false" json:"is_core"`
	Active        bool            `gorm:"not null;default:true" json:"active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BundleDeal) TableName() string {
	return "bundle_deals"
}

type Deal struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name   string `gorm:"type:varchar(200);not null" json:"name"`
	SPVID  uint64 `gorm:"column:spv_id;not null;index" json:"spv_id"`
	Status string `gorm:"type:varchar(20);not null;default:'open'" json:"status"`

	UnitPrice decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"unit_price"`
	MinTicket decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"min_ticket"`
	// MinorUnit is the smallest currency unit investments in this deal are floored to.
	MinorUnit decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0.01" json:"minor_unit"`

	RaisedAmount  decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0" json:"raised_amount"`
	InvestorCount int64           `gorm:"not null;default:0" json:"investor_count"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Deal) TableName() string {
	return "deals"
}

type SPV struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(200);not null" json:"name"`
	IssuedShares int64     `gorm:"not null;default:0" json:"issued_shares"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SPV) TableName() string {
	return "spvs"
}
