package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sipengine/internal/allocation"
	"sipengine/internal/repository"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Skip reasons.
const (
	ReasonAlreadyProcessed    = "already_processed"
	ReasonInProgressElsewhere = "in_progress_elsewhere"
	ReasonLostRace            = "lost_race"
	ReasonNotDue              = "not_due"
	ReasonCancelled           = "cancelled"
)

// Failure codes recorded on the attempt.
const (
	CodeInsufficientFunds    = "insufficient_funds"
	CodeAllocationInfeasible = "allocation_infeasible"
	CodeInvalidComposition   = "invalid_composition"
	CodeTransientStoreError  = "transient_store_error"
)

// Outcome is the result of processing one subscription in a tick.
type Outcome struct {
	SubscriptionID uint64          `json:"subscription_id"`
	Period         string          `json:"period"`
	Status         string          `json:"status"`
	Reason         string          `json:"reason,omitempty"`
	AttemptID      string          `json:"attempt_id,omitempty"`
	InvestmentIDs  []uint64        `json:"investment_ids,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Completed      bool            `json:"completed,omitempty"`
	AutoPaused     bool            `json:"auto_paused,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type TickReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	// Disabled is set when the feature switch is off.
	Disabled bool `json:"disabled,omitempty"`
	// LeaseHeld is set when another instance is running the tick.
	LeaseHeld bool      `json:"lease_held,omitempty"`
	Due       int       `json:"due"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Outcomes  []Outcome `json:"outcomes"`
}

func (r *TickReport) tally() {
	r.Succeeded, r.Failed, r.Skipped = 0, 0, 0
	for _, o := range r.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			r.Succeeded++
		case StatusFailed:
			r.Failed++
		default:
			r.Skipped++
		}
	}
}

// TransientStoreError wraps infrastructure failures. The attempt is retried on the next
// tick and the subscription is left untouched.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}

var errOwnershipLost = errors.New("attempt ownership lost")

// failureCode maps an execution error to the code stored on the attempt, and reports
// whether it is a business failure that counts against the retry budget.
func failureCode(err error) (string, bool) {
	switch {
	case errors.Is(err, repository.ErrInsufficientFunds):
		return CodeInsufficientFunds, true
	case errors.Is(err, allocation.ErrAllocationInfeasible):
		return CodeAllocationInfeasible, true
	case errors.Is(err, allocation.ErrInvalidComposition), errors.Is(err, allocation.ErrInvalidAmount):
		return CodeInvalidComposition, true
	default:
		return CodeTransientStoreError, false
	}
}
