package units

import (
	"math/big"
	"testing"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
)

func TestToBaseUnits(t *testing.T) {
	cases := []struct {
		amount   string
		decimals uint8
		want     string
	}{
		{"1.23", 6, "1230000"},
		{"0.0000001", 18, "100000000000"},
		{"100", 6, "100000000"},
		{"0", 18, "0"},
		{"0.000000", 6, "0"},
		{"1.000001", 6, "1000001"},
		{"0.123456789", 6, "123456"}, // excess precision truncates
		{"42", 0, "42"},
		{"1.5", 18, "1500000000000000000"},
	}
	for _, tc := range cases {
		got, err := ToBaseUnits(tc.amount, tc.decimals)
		if err != nil {
			t.Fatalf("ToBaseUnits(%q, %d): %v", tc.amount, tc.decimals, err)
		}
		if got != tc.want {
			t.Fatalf("ToBaseUnits(%q, %d) = %q, want %q", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestToBaseUnitsRejectsBadLiterals(t *testing.T) {
	for _, bad := range []string{"", "-1", "1.2.3", "abc", "1e18", ".5", "1.", "+1", "0x10"} {
		_, err := ToBaseUnits(bad, 6)
		if err == nil {
			t.Fatalf("expected error for %q", bad)
		}
		if agenterr.KindOf(err) != agenterr.KindInvalidAmount {
			t.Fatalf("expected invalid_amount for %q, got %s", bad, agenterr.KindOf(err))
		}
	}
}

func TestFromBaseUnits(t *testing.T) {
	cases := []struct {
		base     string
		decimals uint8
		want     string
	}{
		{"1230000", 6, "1.23"},
		{"100000000000", 18, "0.0000001"},
		{"42", 0, "42"},
		{"0", 6, "0"},
		{"1000001", 6, "1.000001"},
	}
	for _, tc := range cases {
		n, _ := new(big.Int).SetString(tc.base, 10)
		if got := FromBaseUnits(n, tc.decimals); got != tc.want {
			t.Fatalf("FromBaseUnits(%s, %d) = %q, want %q", tc.base, tc.decimals, got, tc.want)
		}
	}
}

func TestRoundTripPreservesSignificantDigits(t *testing.T) {
	base, err := ToBaseUnits("0.000000000000000001", 18)
	if err != nil {
		t.Fatal(err)
	}
	if base != "1" {
		t.Fatalf("smallest native unit mangled: %q", base)
	}
	n, _ := new(big.Int).SetString(base, 10)
	if got := FromBaseUnits(n, 18); got != "0.000000000000000001" {
		t.Fatalf("round trip lost precision: %q", got)
	}
}
