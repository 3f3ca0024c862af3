package allocation

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func twoDealBundle(minA, minB string) []Member {
	return []Member{
		{DealID: 1, Pct: d("70"), IsCore: true, MinTicket: d(minA)},
		{DealID: 2, Pct: d("30"), MinTicket: d(minB)},
	}
}

func TestAllocate_SeventyThirty(t *testing.T) {
	out, err := Allocate(d("3000"), twoDealBundle("500", "500"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len=%d want=2", len(out))
	}
	if out[0].DealID != 1 || !out[0].Amount.Equal(d("2100")) {
		t.Fatalf("deal A=%+v want 2100", out[0])
	}
	if out[1].DealID != 2 || !out[1].Amount.Equal(d("900")) {
		t.Fatalf("deal B=%+v want 900", out[1])
	}
}

func TestAllocate_BelowMinimumRedistributes(t *testing.T) {
	out, err := Allocate(d("600"), twoDealBundle("500", "500"))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len=%d want=1 (%+v)", len(out), out)
	}
	if out[0].DealID != 1 || !out[0].Amount.Equal(d("600")) {
		t.Fatalf("deal A=%+v want 600", out[0])
	}
	if !out[0].EffectivePct.Equal(d("100")) {
		t.Fatalf("effective pct=%s want=100", out[0].EffectivePct)
	}
}

func TestAllocate_ResidualGoesToLargestCore(t *testing.T) {
	members := []Member{
		{DealID: 7, Pct: d("33.33")},
		{DealID: 3, Pct: d("33.33"), IsCore: true},
		{DealID: 5, Pct: d("33.34"), IsCore: true},
	}
	out, err := Allocate(d("1000.01"), members)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got := Sum(out); !got.Equal(d("1000.01")) {
		t.Fatalf("sum=%s want=1000.01", got)
	}
	// 1000.01 * 33.33% = 333.303333 -> 333.30; 33.34% = 333.403334 -> 333.40.
	if !out[0].Amount.Equal(d("333.30")) || !out[1].Amount.Equal(d("333.30")) {
		t.Fatalf("non-sink amounts=%s,%s", out[0].Amount, out[1].Amount)
	}
	if !out[2].Amount.Equal(d("333.41")) {
		t.Fatalf("core sink=%s want=333.41", out[2].Amount)
	}
}

func TestAllocate_CoreTieBreaksOnLowestDealID(t *testing.T) {
	members := []Member{
		{DealID: 9, Pct: d("50"), IsCore: true},
		{DealID: 4, Pct: d("50"), IsCore: true},
	}
	out, err := Allocate(d("0.03"), members)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !out[0].Amount.Equal(d("0.01")) || !out[1].Amount.Equal(d("0.02")) {
		t.Fatalf("amounts=%s,%s want 0.01,0.02", out[0].Amount, out[1].Amount)
	}
}

func TestAllocate_MinorUnit(t *testing.T) {
	members := []Member{
		{DealID: 1, Pct: d("60"), IsCore: true, MinorUnit: d("10")},
		{DealID: 2, Pct: d("40"), MinorUnit: d("10")},
	}
	out, err := Allocate(d("1005"), members)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	// 603 -> 600, 402 -> 400, residual 5 to core.
	if !out[0].Amount.Equal(d("605")) || !out[1].Amount.Equal(d("400")) {
		t.Fatalf("amounts=%s,%s", out[0].Amount, out[1].Amount)
	}
}

func TestAllocate_CoreBelowMinimumIsInfeasible(t *testing.T) {
	_, err := Allocate(d("600"), twoDealBundle("500", "100"))
	if !errors.Is(err, ErrAllocationInfeasible) {
		t.Fatalf("err=%v want ErrAllocationInfeasible", err)
	}
}

func TestAllocate_RedistributionStillShort(t *testing.T) {
	members := []Member{
		{DealID: 1, Pct: d("50"), IsCore: true, MinTicket: d("100")},
		{DealID: 2, Pct: d("30"), MinTicket: d("100")},
		{DealID: 3, Pct: d("20"), MinTicket: d("100")},
	}
	// 300: 150 / 90 / 60 -> drop 2 and 3, core alone gets 300.
	out, err := Allocate(d("300"), members)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(out) != 1 || !out[0].Amount.Equal(d("300")) {
		t.Fatalf("out=%+v", out)
	}

	// 150 with a core minimum of 200 cannot be satisfied even after redistribution.
	members[0].MinTicket = d("200")
	if _, err := Allocate(d("150"), members); !errors.Is(err, ErrAllocationInfeasible) {
		t.Fatalf("err=%v want ErrAllocationInfeasible", err)
	}
}

func TestAllocate_RejectsBadInput(t *testing.T) {
	if _, err := Allocate(decimal.Zero, twoDealBundle("0", "0")); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount err=%v", err)
	}
	if _, err := Allocate(d("100"), nil); !errors.Is(err, ErrInvalidComposition) {
		t.Fatalf("empty err=%v", err)
	}
	bad := []Member{
		{DealID: 1, Pct: d("70"), IsCore: true},
		{DealID: 2, Pct: d("29.98")},
	}
	if _, err := Allocate(d("100"), bad); !errors.Is(err, ErrInvalidComposition) {
		t.Fatalf("sum 99.98 err=%v", err)
	}
}

func TestValidateComposition(t *testing.T) {
	tests := []struct {
		name    string
		members []Member
		ok      bool
	}{
		{"exact", twoDealBundle("0", "0"), true},
		{"within tolerance", []Member{{DealID: 1, Pct: d("70.005"), IsCore: true}, {DealID: 2, Pct: d("30")}}, true},
		{"over tolerance", []Member{{DealID: 1, Pct: d("70.02"), IsCore: true}, {DealID: 2, Pct: d("30")}}, false},
		{"no core", []Member{{DealID: 1, Pct: d("70")}, {DealID: 2, Pct: d("30")}}, false},
		{"duplicate", []Member{{DealID: 1, Pct: d("50"), IsCore: true}, {DealID: 1, Pct: d("50")}}, false},
		{"zero pct", []Member{{DealID: 1, Pct: d("100"), IsCore: true}, {DealID: 2, Pct: d("0")}}, false},
	}
	for _, tt := range tests {
		err := ValidateComposition(tt.members)
		if tt.ok && err != nil {
			t.Fatalf("%s: err=%v", tt.name, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidComposition) {
			t.Fatalf("%s: err=%v want ErrInvalidComposition", tt.name, err)
		}
	}
}

func TestAllocate_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(6)
		members := make([]Member, n)
		remaining := int64(10000) // basis points
		for j := 0; j < n; j++ {
			share := remaining
			if j < n-1 {
				share = 1 + rng.Int63n(remaining-int64(n-j-1))
			}
			remaining -= share
			members[j] = Member{
				DealID: uint64(j + 1),
				Pct:    decimal.New(share, -2),
				IsCore: j == 0,
			}
		}
		total := decimal.New(1+rng.Int63n(10_000_000), -2)
		out, err := Allocate(total, members)
		if err != nil {
			t.Fatalf("case %d: err=%v", i, err)
		}
		if got := Sum(out); !got.Equal(total) {
			t.Fatalf("case %d: sum=%s want=%s", i, got, total)
		}
	}
}
