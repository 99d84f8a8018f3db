package amount

import (
	"math/big"
	"testing"
)

func TestParseFormatRoundTrip(t *testing.T) {
	cases := []struct {
		s        string
		decimals int
	}{
		{"0", 8},
		{"1", 0},
		{"1.5", 8},
		{"123.00000001", 8},
		{"0.1", 18},
		{"1000000", 0},
	}
	for _, c := range cases {
		n, err := Parse(c.s, c.decimals)
		if err != nil {
			t.Fatalf("parse %q: %v", c.s, err)
		}
		got := Format(n, c.decimals)
		if got != c.s && !(c.s == "0" && got == "0") {
			t.Fatalf("format(parse(%q)) = %q, want %q", c.s, got, c.s)
		}
	}
}

func TestFormatTrimsTrailingZeros(t *testing.T) {
	n, _ := Parse("1.50000000", 8)
	if got := Format(n, 8); got != "1.5" {
		t.Fatalf("want trimmed 1.5, got %q", got)
	}
}

func TestParseRejectsTooManyFractionalDigits(t *testing.T) {
	if _, err := Parse("1.123", 2); err == nil {
		t.Fatalf("want error for excess fractional digits")
	}
}

func TestSubUnderflowIsHardError(t *testing.T) {
	if _, err := Sub(big.NewInt(5), big.NewInt(6)); err == nil {
		t.Fatalf("want underflow error, got nil")
	}
}

func TestSplitByBpsWorkedExampleS3(t *testing.T) {
	// balance=1,000,003, total_bps=10_000, [A:6000, B:4000]
	// -> A=600001, B=400002 (last absorbs remainder).
	shares, err := SplitByBps(big.NewInt(1_000_003), 10_000, []Recipient{
		{Role: "A", Bps: 6_000},
		{Role: "B", Bps: 4_000},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(shares) != 2 {
		t.Fatalf("want 2 shares, got %d", len(shares))
	}
	if shares[0].Amount.Cmp(big.NewInt(600_001)) != 0 {
		t.Fatalf("want A=600001, got %s", shares[0].Amount.String())
	}
	if shares[1].Amount.Cmp(big.NewInt(400_002)) != 0 {
		t.Fatalf("want B=400002, got %s", shares[1].Amount.String())
	}
	sum := new(big.Int).Add(shares[0].Amount, shares[1].Amount)
	if sum.Cmp(big.NewInt(1_000_003)) != 0 {
		t.Fatalf("shares must sum to balance exactly, got %s", sum.String())
	}
}

func TestSplitByBpsMismatchDisablesWholeDistribution(t *testing.T) {
	// recipients summing to total_bps-1 disable the step.
	_, err := SplitByBps(big.NewInt(1_000_000), 10_000, []Recipient{
		{Role: "A", Bps: 6_000},
		{Role: "B", Bps: 3_999},
	})
	if err == nil {
		t.Fatalf("want error when recipient bps sum != total_bps")
	}
}

func TestSplitByBpsFloorsDustShareToZero(t *testing.T) {
	shares, err := SplitByBps(big.NewInt(100), 10_000, []Recipient{
		{Role: "dust", Bps: 1},
		{Role: "rest", Bps: 9_999},
	})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if shares[0].Amount.Sign() != 0 {
		t.Fatalf("want dust share to floor to zero, got %s", shares[0].Amount.String())
	}
}
