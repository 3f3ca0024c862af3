package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sipengine/internal/models"
	"sipengine/internal/repository"
	"sipengine/internal/testutil"
)

func newMachine(t *testing.T, now time.Time) (*Machine, testutil.Seeded) {
	t.Helper()
	store := testutil.NewStore(t)
	seed := testutil.SeedBundle(t, store, testutil.DealSpec{Name: "A", Pct: "100", Core: true})
	m := &Machine{Repo: store, Now: func() time.Time { return now }}
	return m, seed
}

func TestMachine_CreateValidates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	m, seed := newMachine(t, now)

	_, err := m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("0")})
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("100"), CycleUnit: "yearly"})
	assert.ErrorIs(t, err, ErrInvalidSubscription)

	_, err = m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: 9999, Amount: testutil.Dec("100")})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	sub, err := m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("3000")})
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, models.CycleMonthly, sub.CycleUnit)
	require.NotNil(t, sub.NextDueAt)
	assert.True(t, sub.NextDueAt.Equal(now))
}

func TestMachine_PauseResumeCancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	m, seed := newMachine(t, now)

	sub, err := m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("3000")})
	require.NoError(t, err)

	paused, err := m.Pause(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPaused, paused.Status)
	require.NotNil(t, paused.NextDueAt)
	assert.True(t, paused.NextDueAt.Equal(now), "pause keeps the schedule")
	assert.Equal(t, PauseReasonUser, paused.PauseReason)

	_, err = m.Pause(ctx, sub.ID)
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite), "err=%v", err)
	assert.Equal(t, models.SubscriptionPaused, ite.From)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// Resume two months later: missed cycles are skipped.
	resumeAt := now.AddDate(0, 2, 0)
	m.Now = func() time.Time { return resumeAt }
	resumed, err := m.Resume(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, resumed.Status)
	require.NotNil(t, resumed.NextDueAt)
	assert.True(t, resumed.NextDueAt.Equal(NextDue(resumeAt, models.CycleMonthly)), "next_due=%s", resumed.NextDueAt)
	assert.Nil(t, resumed.PausedAt)

	cancelled, err := m.Cancel(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, cancelled.Status)
	assert.Nil(t, cancelled.NextDueAt)
	assert.NotNil(t, cancelled.CancelledAt)

	for _, op := range []func(context.Context, uint64) (*models.Subscription, error){m.Pause, m.Resume, m.Cancel} {
		_, err := op(ctx, sub.ID)
		assert.ErrorIs(t, err, ErrInvalidStateTransition)
	}
}

func TestMachine_AdvanceTxCompletesCommitment(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	store := testutil.NewStore(t)
	seed := testutil.SeedBundle(t, store, testutil.DealSpec{Name: "A", Pct: "100", Core: true})
	m := &Machine{Repo: store, Now: func() time.Time { return now }}

	two := 2
	sub, err := m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("500"), TotalCycles: &two})
	require.NoError(t, err)

	advance := func() bool {
		t.Helper()
		cur, err := m.Get(ctx, sub.ID)
		require.NoError(t, err)
		var done bool
		require.NoError(t, store.InTx(ctx, func(tx *gorm.DB) error {
			var err error
			done, err = m.AdvanceTx(ctx, tx, *cur, testutil.Dec("500"), now)
			return err
		}))
		return done
	}

	assert.False(t, advance())
	got, err := m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CyclesCompleted)
	assert.True(t, got.InvestedTotal.Equal(testutil.Dec("500")), "invested=%s", got.InvestedTotal)
	require.NotNil(t, got.NextDueAt)
	assert.True(t, got.NextDueAt.Equal(time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC)))

	assert.True(t, advance())
	got, err = m.Get(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCompleted, got.Status)
	assert.Nil(t, got.NextDueAt)
	assert.True(t, got.InvestedTotal.Equal(testutil.Dec("1000")))

	_, err = m.Resume(ctx, sub.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
}

func TestMachine_AdvanceTxRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)
	store := testutil.NewStore(t)
	seed := testutil.SeedBundle(t, store, testutil.DealSpec{Name: "A", Pct: "100", Core: true})
	m := &Machine{Repo: store, Now: func() time.Time { return now }}

	sub, err := m.Create(ctx, CreateParams{OwnerAccountID: "acct-1", BundleID: seed.BundleID, Amount: testutil.Dec("500")})
	require.NoError(t, err)
	_, err = m.Pause(ctx, sub.ID)
	require.NoError(t, err)

	err = store.InTx(ctx, func(tx *gorm.DB) error {
		_, err := m.AdvanceTx(ctx, tx, *sub, testutil.Dec("500"), now)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]string{
		{models.SubscriptionActive, models.SubscriptionPaused},
		{models.SubscriptionPaused, models.SubscriptionActive},
		{models.SubscriptionActive, models.SubscriptionCancelled},
		{models.SubscriptionPaused, models.SubscriptionCancelled},
		{models.SubscriptionActive, models.SubscriptionCompleted},
	}
	for _, p := range allowed {
		if !CanTransition(p[0], p[1]) {
			t.Fatalf("%s -> %s should be allowed", p[0], p[1])
		}
	}
	denied := [][2]string{
		{models.SubscriptionPaused, models.SubscriptionCompleted},
		{models.SubscriptionCancelled, models.SubscriptionActive},
		{models.SubscriptionCompleted, models.SubscriptionActive},
		{models.SubscriptionCancelled, models.SubscriptionPaused},
	}
	for _, p := range denied {
		if CanTransition(p[0], p[1]) {
			t.Fatalf("%s -> %s should be denied", p[0], p[1])
		}
	}
}
