// Package allocation splits a subscription's cycle amount across the deals of a bundle.
//
// Everything here is pure: no I/O, no clock, no shared state.
package allocation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount        = errors.New("allocation amount must be positive")
	ErrInvalidComposition   = errors.New("invalid bundle composition")
	ErrAllocationInfeasible = errors.New("allocation infeasible")
)

var (
	hundred          = decimal.NewFromInt(100)
	defaultMinorUnit = decimal.New(1, -2)

	// Tolerance is how far the percentages of a composition may drift from 100.
	Tolerance = decimal.New(1, -2)
)

// Member is one deal of a bundle as seen by the allocator.
type Member struct {
	DealID    uint64
	Pct       decimal.Decimal
	IsCore    bool
	MinTicket decimal.Decimal
	// MinorUnit is the currency unit amounts are floored to; zero means 0.01.
	MinorUnit decimal.Decimal
}

type PerDealAmount struct {
	DealID uint64
	Amount decimal.Decimal
	// EffectivePct is the percentage actually applied after redistribution.
	EffectivePct decimal.Decimal
}

// ValidateComposition is the hard check applied whenever a bundle composition is written.
func ValidateComposition(members []Member) error {
	if len(members) == 0 {
		return fmt.Errorf("%w: no active deals", ErrInvalidComposition)
	}
	seen := make(map[uint64]struct{}, len(members))
	sum := decimal.Zero
	cores := 0
	for _, m := range members {
		if m.DealID == 0 {
			return fmt.Errorf("%w: deal id required", ErrInvalidComposition)
		}
		if _, ok := seen[m.DealID]; ok {
			return fmt.Errorf("%w: deal %d listed twice", ErrInvalidComposition, m.DealID)
		}
		seen[m.DealID] = struct{}{}
		if !m.Pct.IsPositive() {
			return fmt.Errorf("%w: deal %d has non-positive percentage %s", ErrInvalidComposition, m.DealID, m.Pct)
		}
		if m.MinTicket.IsNegative() || m.MinorUnit.IsNegative() {
			return fmt.Errorf("%w: deal %d has negative minimums", ErrInvalidComposition, m.DealID)
		}
		sum = sum.Add(m.Pct)
		if m.IsCore {
			cores++
		}
	}
	if sum.Sub(hundred).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: percentages sum to %s, want 100", ErrInvalidComposition, sum)
	}
	if cores == 0 {
		return fmt.Errorf("%w: no core deal", ErrInvalidComposition)
	}
	return nil
}

// Allocate maps a cycle amount onto the bundle. The returned amounts always sum to total
// exactly; deals dropped for falling under their minimum ticket are omitted.
func Allocate(total decimal.Decimal, members []Member) ([]PerDealAmount, error) {
	if !total.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if err := ValidateComposition(members); err != nil {
		return nil, err
	}

	active := append([]Member(nil), members...)
	amounts := split(total, active, hundred)

	// Non-core deals under their minimum drop out; core deals stay as residual sinks.
	kept := make([]Member, 0, len(active))
	for i, m := range active {
		if !m.IsCore && belowMinimum(amounts[i], m) {
			continue
		}
		kept = append(kept, m)
	}
	denom := hundred
	if len(kept) != len(active) {
		denom = sumPct(kept)
		active = kept
		amounts = split(total, active, denom)
	}

	core := pickCore(active)
	if core < 0 {
		return nil, fmt.Errorf("%w: no core deal left to absorb residual", ErrAllocationInfeasible)
	}
	residual := total.Sub(sumAmounts(amounts))
	amounts[core] = amounts[core].Add(residual)

	out := make([]PerDealAmount, 0, len(active))
	for i, m := range active {
		if belowMinimum(amounts[i], m) {
			return nil, fmt.Errorf("%w: deal %d gets %s, minimum ticket %s", ErrAllocationInfeasible, m.DealID, amounts[i], m.MinTicket)
		}
		out = append(out, PerDealAmount{
			DealID:       m.DealID,
			Amount:       amounts[i],
			EffectivePct: m.Pct.Mul(hundred).Div(denom),
		})
	}
	return out, nil
}

// Sum adds up allocated amounts.
func Sum(items []PerDealAmount) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Amount)
	}
	return total
}

func split(total decimal.Decimal, members []Member, denom decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(members))
	for i, m := range members {
		raw := total.Mul(m.Pct).Div(denom)
		out[i] = floorTo(raw, minorUnit(m))
	}
	return out
}

func floorTo(v, unit decimal.Decimal) decimal.Decimal {
	return v.Div(unit).Floor().Mul(unit)
}

func minorUnit(m Member) decimal.Decimal {
	if m.MinorUnit.IsPositive() {
		return m.MinorUnit
	}
	return defaultMinorUnit
}

func belowMinimum(amount decimal.Decimal, m Member) bool {
	return !amount.IsPositive() || amount.LessThan(m.MinTicket)
}

func pickCore(members []Member) int {
	idx := make([]int, 0, len(members))
	for i, m := range members {
		if m.IsCore {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return -1
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ma, mb := members[idx[a]], members[idx[b]]
		if c := ma.Pct.Cmp(mb.Pct); c != 0 {
			return c > 0
		}
		return ma.DealID < mb.DealID
	})
	return idx[0]
}

func sumPct(members []Member) decimal.Decimal {
	total := decimal.Zero
	for _, m := range members {
		total = total.Add(m.Pct)
	}
	return total
}

func sumAmounts(items []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range items {
		total = total.Add(v)
	}
	return total
}
