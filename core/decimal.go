package core

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// Hundred is used for percentage arithmetic.
var Hundred = decimal.NewFromInt(100)

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// DecimalPtr returns a pointer to d. Optional amounts are modelled as
// *decimal.Decimal throughout the engine; nil means "not configured".
func DecimalPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Dec is shorthand for DecimalPtr(MustParseDecimal(s)).
func Dec(s string) *decimal.Decimal {
	return DecimalPtr(MustParseDecimal(s))
}

// OrZero dereferences an optional amount.
func OrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// =============================================================================
// VALUE COERCION - input records are loosely typed maps
// =============================================================================

// ToDecimal converts a loosely typed record value to a decimal.
// Booleans count as 1/0 and numeric strings are parsed; anything else
// reports ok=false.
func ToDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, false
		}
		return *x, true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case uint:
		return decimal.NewFromInt(int64(x)), true
	case uint32:
		return decimal.NewFromInt(int64(x)), true
	case uint64:
		if x > math.MaxInt64 {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(int64(x)), true
	case float32:
		return floatToDecimal(float64(x))
	case float64:
		return floatToDecimal(x)
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case bool:
		if x {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func floatToDecimal(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

// ToString renders a record value for string comparison.
func ToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case decimal.Decimal:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
