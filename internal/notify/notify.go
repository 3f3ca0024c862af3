// Package notify delivers scheduler events to operators and account owners.
// Delivery is best effort: a failed notification never affects an execution.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	EventSubscriptionAutoPaused = "subscription.auto_paused"
	EventExecutionFailed        = "execution.failed"
)

type Event struct {
	Type           string         `json:"type"`
	SubscriptionID uint64         `json:"subscription_id"`
	AccountID      string         `json:"account_id,omitempty"`
	Period         string         `json:"period,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Message        string         `json:"message"`
	Details        map[string]any `json:"details,omitempty"`
	At             time.Time      `json:"at"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Log writes events to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (n Log) Notify(_ context.Context, ev Event) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info("notify",
		zap.String("event", ev.Type),
		zap.Uint64("subscription_id", ev.SubscriptionID),
		zap.String("account_id", ev.AccountID),
		zap.String("period", ev.Period),
		zap.String("reason", ev.Reason),
		zap.String("message", ev.Message),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
