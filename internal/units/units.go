// Package units converts human-readable decimal token amounts to and from
// integer base-unit strings. All arithmetic is big-integer string math; a
// float never touches an amount on its way to the chain.
package units

import (
	"math/big"
	"regexp"
	"strings"

	agenterr "github.com/gustavo/defi-agent/internal/errors"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ToBaseUnits converts a non-negative decimal literal like "1.23" into the
// token's smallest-unit integer representation. Fractional digits beyond the
// token's precision are truncated, never rounded.
func ToBaseUnits(amount string, decimals uint8) (string, error) {
	clean := strings.TrimSpace(amount)
	if !decimalPattern.MatchString(clean) {
		return "", agenterr.New(agenterr.KindInvalidAmount, "amount must be a non-negative decimal like 1.23")
	}

	intPart, fracPart, _ := strings.Cut(clean, ".")
	if len(fracPart) > int(decimals) {
		fracPart = fracPart[:decimals]
	}
	fracPart = fracPart + strings.Repeat("0", int(decimals)-len(fracPart))

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", agenterr.New(agenterr.KindInvalidAmount, "invalid decimal amount")
	}
	return combined, nil
}

// ToBaseUnitsInt is ToBaseUnits returning a big integer for calldata packing.
func ToBaseUnitsInt(amount string, decimals uint8) (*big.Int, error) {
	base, err := ToBaseUnits(amount, decimals)
	if err != nil {
		return nil, err
	}
	out, _ := new(big.Int).SetString(base, 10)
	return out, nil
}

// FromBaseUnits renders a base-unit integer as a trimmed decimal string.
func FromBaseUnits(baseUnits *big.Int, decimals uint8) string {
	if baseUnits == nil {
		return "0"
	}
	s := new(big.Int).Abs(baseUnits).String()
	if decimals == 0 {
		return s
	}
	if len(s) <= int(decimals) {
		s = strings.Repeat("0", int(decimals)-len(s)+1) + s
	}
	intPart := s[:len(s)-int(decimals)]
	fracPart := strings.TrimRight(s[len(s)-int(decimals):], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
