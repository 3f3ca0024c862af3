package subscription

import (
	"testing"
	"time"

	"sipengine/internal/models"
)

func TestNextDue(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		unit string
		want time.Time
	}{
		{"monthly", date(2026, 3, 5), models.CycleMonthly, date(2026, 4, 5)},
		{"monthly clamps", date(2026, 1, 31), models.CycleMonthly, date(2026, 2, 28)},
		{"monthly leap year", date(2028, 1, 31), models.CycleMonthly, date(2028, 2, 29)},
		{"monthly year end", date(2026, 12, 15), models.CycleMonthly, date(2027, 1, 15)},
		{"weekly", date(2026, 3, 30), models.CycleWeekly, date(2026, 4, 6)},
		{"daily", date(2026, 2, 28), models.CycleDaily, date(2026, 3, 1)},
		{"unknown falls back to monthly", date(2026, 3, 5), "", date(2026, 4, 5)},
	}
	for _, tc := range cases {
		if got := NextDue(tc.in, tc.unit); !got.Equal(tc.want) {
			t.Fatalf("%s: got=%s want=%s", tc.name, got, tc.want)
		}
	}
}

func TestNextDue_KeepsTimeOfDayInUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	in := time.Date(2026, 3, 1, 7, 30, 0, 0, ist) // 02:00 UTC
	got := NextDue(in, models.CycleMonthly)
	want := time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Fatalf("got=%s want=%s", got, want)
	}
}

func TestBillingPeriod(t *testing.T) {
	cases := []struct {
		in   time.Time
		unit string
		want string
	}{
		{date(2026, 3, 5), models.CycleMonthly, "2026-03"},
		{date(2026, 3, 5), models.CycleDaily, "2026-03-05"},
		{date(2026, 1, 1), models.CycleWeekly, "2026-W01"},
		{date(2027, 1, 1), models.CycleWeekly, "2026-W53"},
	}
	for _, tc := range cases {
		if got := BillingPeriod(tc.in, tc.unit); got != tc.want {
			t.Fatalf("BillingPeriod(%s, %s) got=%s want=%s", tc.in, tc.unit, got, tc.want)
		}
	}
}

func TestNormalizeCycleUnit(t *testing.T) {
	if got, err := NormalizeCycleUnit(""); err != nil || got != models.CycleMonthly {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if got, err := NormalizeCycleUnit(" Weekly "); err != nil || got != models.CycleWeekly {
		t.Fatalf("got=%q err=%v", got, err)
	}
	if _, err := NormalizeCycleUnit("yearly"); err == nil {
		t.Fatalf("expected error")
	}
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 2, 0, 0, 0, time.UTC)
}
