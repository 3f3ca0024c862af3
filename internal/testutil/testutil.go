// Package testutil opens throwaway sqlite stores and seeds catalog data for tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"sipengine/internal/config"
	"sipengine/internal/db"
	"sipengine/internal/models"
	gormrepository "sipengine/internal/repository/gorm"
)

// NewDB opens a migrated sqlite database in t.TempDir.
func NewDB(t *testing.T) *db.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sip.db")
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", path)
	d, err := db.Open(config.DBConfig{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(d) })
	require.NoError(t, db.AutoMigrate(d))
	return d
}

func NewStore(t *testing.T) *gormrepository.Store {
	t.Helper()
	return gormrepository.New(NewDB(t).Gorm)
}

// DealSpec describes one bundle member to seed.
type DealSpec struct {
	Name      string
	Pct       string
	Core      bool
	MinTicket string
	UnitPrice string
}

type Seeded struct {
	BundleID uint64
	SPVID    uint64
	DealIDs  []uint64
}

// SeedBundle creates one SPV, a deal per spec and a bundle holding them in order.
func SeedBundle(t *testing.T, store *gormrepository.Store, deals ...DealSpec) Seeded {
	t.Helper()
	ctx := context.Background()

	spv := models.SPV{Name: "spv-1"}
	require.NoError(t, store.CreateSPV(ctx, &spv))

	out := Seeded{SPVID: spv.ID}
	bundle := models.Bundle{Name: "bundle-1", Active: true}
	require.NoError(t, store.CreateBundle(ctx, &bundle))
	out.BundleID = bundle.ID

	members := make([]models.BundleDeal, 0, len(deals))
	for i, spec := range deals {
		unit := spec.UnitPrice
		if unit == "" {
			unit = "10"
		}
		minTicket := spec.MinTicket
		if minTicket == "" {
			minTicket = "0"
		}
		deal := models.Deal{
			Name:      spec.Name,
			SPVID:     spv.ID,
			Status:    "open",
			UnitPrice: decimal.RequireFromString(unit),
			MinTicket: decimal.RequireFromString(minTicket),
			MinorUnit: decimal.RequireFromString("0.01"),
		}
		require.NoError(t, store.CreateDeal(ctx, &deal))
		out.DealIDs = append(out.DealIDs, deal.ID)
		members = append(members, models.BundleDeal{
			BundleID:      bundle.ID,
			DealID:        deal.ID,
			Position:      i + 1,
			AllocationPct: decimal.RequireFromString(spec.Pct),
			IsCore:        spec.Core,
			Active:        true,
		})
	}
	require.NoError(t, store.ReplaceBundleComposition(ctx, bundle.ID, members))
	return out
}

// Fund credits an account's wallet.
func Fund(t *testing.T, store *gormrepository.Store, accountID, amount string) {
	t.Helper()
	require.NoError(t, store.Credit(context.Background(), accountID, decimal.RequireFromString(amount), "fund:"+uuid.NewString()))
}

func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
