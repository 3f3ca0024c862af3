package subscription

import (
	"fmt"
	"strings"
	"time"

	"sipengine/internal/models"
)

// NormalizeCycleUnit maps an empty unit to monthly and rejects unknown units.
func NormalizeCycleUnit(unit string) (string, error) {
	switch u := strings.ToLower(strings.TrimSpace(unit)); u {
	case "":
		return models.CycleMonthly, nil
	case models.CycleMonthly, models.CycleWeekly, models.CycleDaily:
		return u, nil
	default:
		return "", fmt.Errorf("unknown cycle unit %q", unit)
	}
}

// NextDue returns t advanced by one cycle. Monthly cycles keep the day of month when
// the next month has it and clamp to the last day otherwise (Jan 31 -> Feb 28).
func NextDue(t time.Time, unit string) time.Time {
	t = t.UTC()
	switch unit {
	case models.CycleDaily:
		return t.AddDate(0, 0, 1)
	case models.CycleWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return addMonthClamped(t)
	}
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	firstOfNext := time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
	last := firstOfNext.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(firstOfNext.Year(), firstOfNext.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// BillingPeriod is the run-ledger key for the cycle containing t.
func BillingPeriod(t time.Time, unit string) string {
	t = t.UTC()
	switch unit {
	case models.CycleDaily:
		return t.Format("2006-01-02")
	case models.CycleWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return t.Format("2006-01")
	}
}
