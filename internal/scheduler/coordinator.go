package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"sipengine/internal/allocation"
	"sipengine/internal/config"
	"sipengine/internal/lease"
	"sipengine/internal/models"
	"sipengine/internal/notify"
	"sipengine/internal/repository"
	"sipengine/internal/service"
	"sipengine/internal/subscription"
)

// Coordinator runs due subscriptions. At-most-once per (subscription, billing period)
// comes from the run ledger's unique index, not from the lease or the worker pool.
type Coordinator struct {
	Repo     repository.Repository
	Machine  *subscription.Machine
	Notifier notify.Notifier
	Lease    lease.Locker
	Flags    *service.SystemSettingsService
	Logger   *zap.Logger
	Config   config.SchedulerConfig
	Now      func() time.Time
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Coordinator) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c *Coordinator) Tick(ctx context.Context) (TickReport, error) {
	if c == nil || c.Repo == nil || c.Machine == nil {
		return TickReport{}, errors.New("scheduler not configured")
	}
	report := TickReport{StartedAt: c.now(), Outcomes: []Outcome{}}
	if c.Flags != nil && !c.Flags.IsEnabled(ctx, service.FeatureSIPScheduler, true) {
		report.Disabled = true
		report.FinishedAt = c.now()
		return report, nil
	}

	if c.Lease != nil {
		key := c.Config.LeaseKey
		if key == "" {
			key = "sip:tick-lease"
		}
		ttl := c.Config.LeaseTTL
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		token, ok, err := c.Lease.Acquire(ctx, key, ttl)
		switch {
		case err != nil:
			// The lease only saves duplicate scans; run without it.
			c.logger().Warn("tick lease unavailable", zap.Error(err))
		case !ok:
			report.LeaseHeld = true
			report.FinishedAt = c.now()
			c.logger().Info("tick skipped, lease held elsewhere")
			return report, nil
		default:
			defer func() {
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := c.Lease.Release(releaseCtx, key, token); err != nil {
					c.logger().Warn("tick lease release failed", zap.Error(err))
				}
			}()
		}
	}

	limit := c.Config.BatchLimit
	if limit <= 0 {
		limit = 1000
	}
	subs, err := c.Machine.ListDue(ctx, report.StartedAt, limit)
	if err != nil {
		report.FinishedAt = c.now()
		return report, &TransientStoreError{Op: "list due subscriptions", Err: err}
	}
	report.Due = len(subs)

	workers := c.Config.Workers
	if workers <= 0 {
		workers = 1
	}
	outcomes := make([]Outcome, len(subs))
	var g errgroup.Group
	g.SetLimit(workers)
	for i := range subs {
		i := i
		g.Go(func() error {
			outcomes[i] = c.Execute(ctx, subs[i])
			return nil
		})
	}
	_ = g.Wait()

	report.Outcomes = outcomes
	report.tally()
	report.FinishedAt = c.now()
	c.logger().Info("tick finished",
		zap.Int("due", report.Due),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

// Execute processes one due subscription for the billing period its NextDueAt falls in.
// It never returns an error: every result, including store failures, is an Outcome.
func (c *Coordinator) Execute(ctx context.Context, sub models.Subscription) Outcome {
	out := Outcome{SubscriptionID: sub.ID, Amount: sub.MonthlyAmount}
	if ctx.Err() != nil {
		out.Status, out.Reason = StatusSkipped, ReasonCancelled
		return out
	}
	if sub.Status != models.SubscriptionActive || sub.NextDueAt == nil {
		out.Status, out.Reason = StatusSkipped, ReasonNotDue
		return out
	}
	now := c.now()
	out.Period = subscription.BillingPeriod(*sub.NextDueAt, sub.CycleUnit)
	log := c.logger().With(zap.Uint64("subscription_id", sub.ID), zap.String("period", out.Period))

	staleAfter := c.Config.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	claim, err := c.Repo.ClaimAttempt(ctx, sub.ID, out.Period, now, staleAfter)
	if err != nil {
		out.Status, out.Reason = StatusFailed, CodeTransientStoreError
		out.Error = (&TransientStoreError{Op: "claim attempt", Err: err}).Error()
		log.Warn("claim attempt failed", zap.Error(err))
		c.notify(ctx, notify.Event{
			Type:           notify.EventExecutionFailed,
			SubscriptionID: sub.ID,
			AccountID:      sub.OwnerAccountID,
			Period:         out.Period,
			Reason:         out.Reason,
			Message:        out.Error,
			At:             now,
		})
		return out
	}
	out.AttemptID = claim.Attempt.ID

	switch claim.Outcome {
	case repository.ClaimAlreadySucceeded:
		out.Status, out.Reason = StatusSkipped, ReasonAlreadyProcessed
		out.InvestmentIDs = append([]uint64(nil), claim.Attempt.InvestmentIDs...)
		out.Amount = claim.Attempt.Amount
		log.Debug("period already processed", zap.String("attempt_id", claim.Attempt.ID))
		return out
	case repository.ClaimHeld:
		out.Status, out.Reason = StatusSkipped, ReasonInProgressElsewhere
		log.Debug("attempt in progress elsewhere", zap.String("attempt_id", claim.Attempt.ID))
		return out
	case repository.ClaimLost:
		out.Status, out.Reason = StatusSkipped, ReasonLostRace
		return out
	}
	if claim.Outcome == repository.ClaimReclaimed {
		log.Info("attempt reclaimed", zap.String("attempt_id", claim.Attempt.ID), zap.Int("attempts", claim.Attempt.Attempts))
	}

	ids, completed, err := c.run(ctx, sub, claim.Attempt, now)
	if err == nil {
		out.Status = StatusSucceeded
		out.InvestmentIDs = ids
		out.Completed = completed
		log.Info("subscription executed",
			zap.String("attempt_id", claim.Attempt.ID),
			zap.String("amount", sub.MonthlyAmount.String()),
			zap.Int("investments", len(ids)),
			zap.Bool("completed", completed),
		)
		return out
	}
	if errors.Is(err, errOwnershipLost) {
		out.Status, out.Reason = StatusSkipped, ReasonLostRace
		log.Warn("attempt taken over before commit", zap.String("attempt_id", claim.Attempt.ID))
		return out
	}
	return c.fail(ctx, sub, claim.Attempt, out, err, now)
}

// run does the balance check, allocation and the single commit. Nothing before the
// transaction writes, so any failure leaves balances and aggregates untouched.
func (c *Coordinator) run(ctx context.Context, sub models.Subscription, attempt models.ExecutionAttempt, now time.Time) ([]uint64, bool, error) {
	balance, err := c.Repo.GetAvailableBalance(ctx, sub.OwnerAccountID)
	if err != nil {
		return nil, false, &TransientStoreError{Op: "read balance", Err: err}
	}
	if balance.LessThan(sub.MonthlyAmount) {
		return nil, false, fmt.Errorf("balance %s below %s: %w", balance, sub.MonthlyAmount, repository.ErrInsufficientFunds)
	}

	allocations, deals, err := c.allocate(ctx, sub)
	if err != nil {
		return nil, false, err
	}

	var (
		ids       []uint64
		completed bool
	)
	err = c.Repo.InTx(ctx, func(tx *gorm.DB) error {
		ids = ids[:0]
		if err := c.Repo.LockAttemptTx(ctx, tx, attempt.ID, attempt.Version); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return fmt.Errorf("%w: %v", errOwnershipLost, err)
			}
			return err
		}
		if err := c.Repo.DebitTx(ctx, tx, sub.OwnerAccountID, sub.MonthlyAmount, attempt.ID); err != nil {
			return err
		}
		for _, a := range allocations {
			deal := deals[a.DealID]
			shares := int64(0)
			if deal.UnitPrice.IsPositive() {
				shares = a.Amount.Div(deal.UnitPrice).Floor().IntPart()
			}
			id, err := c.Repo.CreateInvestmentTx(ctx, tx, &models.Investment{
				SubscriptionID: sub.ID,
				AttemptID:      attempt.ID,
				DealID:         deal.ID,
				SPVID:          deal.SPVID,
				OwnerAccountID: sub.OwnerAccountID,
				BillingPeriod:  attempt.BillingPeriod,
				Amount:         a.Amount,
				Shares:         shares,
				Status:         models.InvestmentConfirmed,
				CreatedAt:      now,
			})
			if err != nil {
				return err
			}
			ids = append(ids, id)
			if err := c.Repo.IncrementDealAggregatesTx(ctx, tx, deal.ID, a.Amount); err != nil {
				return err
			}
			if err := c.Repo.IncrementSPVIssuedSharesTx(ctx, tx, deal.SPVID, shares); err != nil {
				return err
			}
		}
		if err := c.Repo.MarkAttemptSucceededTx(ctx, tx, attempt.ID, attempt.Version, sub.MonthlyAmount, ids, now); err != nil {
			return err
		}
		done, err := c.Machine.AdvanceTx(ctx, tx, sub, sub.MonthlyAmount, now)
		if err != nil {
			return err
		}
		completed = done
		return nil
	})
	if err != nil {
		if errors.Is(err, errOwnershipLost) || errors.Is(err, repository.ErrInsufficientFunds) {
			return nil, false, err
		}
		return nil, false, &TransientStoreError{Op: "commit execution", Err: err}
	}
	return ids, completed, nil
}

// allocate reads the bundle composition as it is now; changes between cycles apply
// from the next run.
func (c *Coordinator) allocate(ctx context.Context, sub models.Subscription) ([]allocation.PerDealAmount, map[uint64]models.Deal, error) {
	comp, err := c.Repo.GetBundleComposition(ctx, sub.BundleID)
	if err != nil {
		return nil, nil, &TransientStoreError{Op: "read bundle composition", Err: err}
	}
	ids := make([]uint64, 0, len(comp))
	for _, m := range comp {
		ids = append(ids, m.DealID)
	}
	rows, err := c.Repo.ListDealsByIDs(ctx, ids)
	if err != nil {
		return nil, nil, &TransientStoreError{Op: "read deals", Err: err}
	}
	deals := make(map[uint64]models.Deal, len(rows))
	for _, d := range rows {
		deals[d.ID] = d
	}
	members := make([]allocation.Member, 0, len(comp))
	for _, m := range comp {
		d, ok := deals[m.DealID]
		if !ok {
			return nil, nil, fmt.Errorf("bundle %d references missing deal %d: %w", sub.BundleID, m.DealID, allocation.ErrInvalidComposition)
		}
		members = append(members, allocation.Member{
			DealID:    m.DealID,
			Pct:       m.AllocationPct,
			IsCore:    m.IsCore,
			MinTicket: d.MinTicket,
			MinorUnit: d.MinorUnit,
		})
	}
	out, err := allocation.Allocate(sub.MonthlyAmount, members)
	if err != nil {
		return nil, nil, fmt.Errorf("bundle %d: %w", sub.BundleID, err)
	}
	return out, deals, nil
}

func (c *Coordinator) fail(ctx context.Context, sub models.Subscription, attempt models.ExecutionAttempt, out Outcome, err error, now time.Time) Outcome {
	code, business := failureCode(err)
	out.Status, out.Reason, out.Error = StatusFailed, code, err.Error()
	log := c.logger().With(
		zap.Uint64("subscription_id", sub.ID),
		zap.String("period", out.Period),
		zap.String("attempt_id", attempt.ID),
		zap.String("code", code),
	)
	log.Warn("subscription execution failed", zap.Error(err))

	// Bookkeeping must land even if the tick is being cancelled.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if mErr := c.Repo.MarkAttemptFailed(bctx, attempt.ID, attempt.Version, code, err.Error(), now); mErr != nil {
		log.Error("mark attempt failed", zap.Error(mErr))
	}

	if !business {
		if rErr := c.Repo.RecordSubscriptionOutcome(bctx, sub.ID, StatusFailed, code, now); rErr != nil {
			log.Error("record subscription outcome", zap.Error(rErr))
		}
	} else {
		count, rErr := c.Repo.RecordSubscriptionFailure(bctx, sub.ID, code, now)
		if rErr != nil {
			log.Error("record subscription failure", zap.Error(rErr))
		} else if limit := c.Config.MaxConsecutiveFailures; limit > 0 && count >= limit {
			if _, pErr := c.Machine.AutoPause(bctx, sub.ID, code); pErr != nil {
				log.Error("auto-pause failed", zap.Error(pErr))
			} else {
				out.AutoPaused = true
				c.notify(bctx, notify.Event{
					Type:           notify.EventSubscriptionAutoPaused,
					SubscriptionID: sub.ID,
					AccountID:      sub.OwnerAccountID,
					Period:         out.Period,
					Reason:         code,
					Message:        fmt.Sprintf("subscription %d paused after %d consecutive failures (%s)", sub.ID, count, code),
					Details:        map[string]any{"consecutive_failures": count},
					At:             now,
				})
			}
		}
	}

	c.notify(bctx, notify.Event{
		Type:           notify.EventExecutionFailed,
		SubscriptionID: sub.ID,
		AccountID:      sub.OwnerAccountID,
		Period:         out.Period,
		Reason:         code,
		Message:        fmt.Sprintf("subscription %d execution for %s failed: %s", sub.ID, out.Period, code),
		Details: map[string]any{
			"attempt_id": attempt.ID,
			"amount":     sub.MonthlyAmount.String(),
		},
		At: now,
	})
	return out
}

func (c *Coordinator) notify(ctx context.Context, ev notify.Event) {
	if c.Notifier == nil {
		return
	}
	if c.Flags != nil && !c.Flags.IsEnabled(ctx, service.FeatureSIPNotifications, true) {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.Notifier.Notify(nctx, ev); err != nil {
		c.logger().Warn("notify failed", zap.String("event", ev.Type), zap.Uint64("subscription_id", ev.SubscriptionID), zap.Error(err))
	}
}

// Total is the sum of amounts invested by succeeded outcomes in the report.
func (r TickReport) Total() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Outcomes {
		if o.Status == StatusSucceeded {
			total = total.Add(o.Amount)
		}
	}
	return total
}
