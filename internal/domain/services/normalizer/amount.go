package normalizer

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// maxRawDecimals bounds the scale of fixed-point token amounts
const maxRawDecimals = 77

// DecodeRawValue converts a fixed-point integer (decimal digits or 0x-prefixed hex)
// scaled by decimals into an exact decimal amount.
func DecodeRawValue(raw string, decimals int32) (decimal.Decimal, error) {
	if decimals < 0 || decimals > maxRawDecimals {
		return decimal.Zero, fmt.Errorf("decimals out of range: %d", decimals)
	}
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty raw value")
	}

	base := 10
	if strings.HasPrefix(s, "0x") {
		base = 16
		s = s[2:]
		if s == "" {
			s = "0"
		}
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok {
		return decimal.Zero, fmt.Errorf("malformed raw value %q", raw)
	}
	if v.Sign() < 0 {
		return decimal.Zero, fmt.Errorf("negative raw value %q", raw)
	}
	return decimal.NewFromBigInt(v, -decimals), nil
}

func resolveAmount(value *Amount, rc *rawContract) (decimal.Decimal, bool, error) {
	if value != nil {
		return value.Decimal, true, nil
	}
	if rc == nil || rc.RawValue == nil {
		return decimal.Zero, false, nil
	}
	decimals := int32(defaultRawDecimals)
	if rc.Decimals != nil {
		decimals = *rc.Decimals
	}
	d, err := DecodeRawValue(*rc.RawValue, decimals)
	if err != nil {
		return decimal.Zero, true, err
	}
	return d, true, nil
}
