// Package money provides a fixed-point decimal type for prices and strikes.
//
// Prices and strikes never touch float64: every quote-path value is a
// Decimal carrying at least Scale fractional digits, backed by
// shopspring/decimal so that arithmetic stays exact under repeated
// rounding (critical for the Mid = (Bid+Ask)/2 invariant and for
// moneyness comparisons that must agree bit-for-bit between write time
// and read time).
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the minimum number of fractional digits retained on disk and
// in memory for any Decimal in this package.
const Scale = 4

// Decimal wraps decimal.Decimal at a fixed minimum scale.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity at Scale.
var Zero = Decimal{d: decimal.Zero}

// NewFromFloat constructs a Decimal from a float64. Reserved for
// boundaries that receive vendor floats (e.g. a Greek ingest path); the
// quote path itself never constructs Decimal this way in production
// code, only in tests and fixtures.
func NewFromFloat(f float64) Decimal {
	return Decimal{d: decimal.NewFromFloat(f).Round(Scale)}
}

// NewFromString parses a decimal literal exactly, rounding to Scale.
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Decimal{d: d.Round(Scale)}, nil
}

// NewFromInt64Scaled builds a Decimal from an integer mantissa and an
// explicit scale, the inverse of MantissaScaled.
func NewFromInt64Scaled(mantissa int64, scale int32) Decimal {
	return Decimal{d: decimal.New(mantissa, -scale).Round(Scale)}
}

// Add returns a+b.
func (a Decimal) Add(b Decimal) Decimal { return Decimal{d: a.d.Add(b.d).Round(Scale)} }

// Sub returns a-b.
func (a Decimal) Sub(b Decimal) Decimal { return Decimal{d: a.d.Sub(b.d).Round(Scale)} }

// Mul returns a*b.
func (a Decimal) Mul(b Decimal) Decimal { return Decimal{d: a.d.Mul(b.d).Round(Scale)} }

// Div returns a/b. Panics on division by zero is avoided; callers check
// b.IsZero() first where division is conditional (e.g. spread ratios).
func (a Decimal) Div(b Decimal) Decimal { return Decimal{d: a.d.Div(b.d).Round(Scale)} }

// Cmp compares a to b (-1, 0, 1).
func (a Decimal) Cmp(b Decimal) int { return a.d.Cmp(b.d) }

// LessThanOrEqual reports whether a <= b.
func (a Decimal) LessThanOrEqual(b Decimal) bool { return a.d.Cmp(b.d) <= 0 }

// Equal reports whether a == b.
func (a Decimal) Equal(b Decimal) bool { return a.d.Equal(b.d) }

// IsZero reports whether a == 0.
func (a Decimal) IsZero() bool { return a.d.IsZero() }

// Abs returns |a|.
func (a Decimal) Abs() Decimal { return Decimal{d: a.d.Abs()} }

// Float64 converts to float64 for display/scoring math that is not on
// the persisted quote path (e.g. spread-in-bps thresholds).
func (a Decimal) Float64() float64 {
	f, _ := a.d.Float64()
	return f
}

// String renders the decimal with exactly Scale fractional digits.
func (a Decimal) String() string { return a.d.StringFixed(Scale) }

// MantissaScaled returns the decimal shifted by scale digits and rounded
// to an integer mantissa, the form barstore and chainstore store; those
// callers always use Scale and do not record it beside the mantissa.
func (a Decimal) MantissaScaled(scale int32) int64 {
	scaled := a.d.Shift(scale)
	return scaled.Round(0).IntPart()
}

// Mid computes (bid+ask)/2, rounded at Scale — the one place this
// formula is implemented; the scorer uses it for ATM spreads. chainstore
// and query store and return a quote's Mid as given, without recomputing
// it.
func Mid(bid, ask Decimal) Decimal {
	return bid.Add(ask).Div(NewFromInt64Scaled(2, 0))
}

// Moneyness computes Strike/Spot - 1, the single implementation shared
// by query's moneyness filter and the scorer's ATM band. chainstore does
// not persist a moneyness column; moneyness is always computed at read
// time.
func Moneyness(strike, spot Decimal) Decimal {
	if spot.IsZero() {
		return Zero
	}
	one := NewFromInt64Scaled(1, 0)
	return strike.Div(spot).Sub(one)
}

// Value implements driver.Valuer for direct use with database/sql.
func (a Decimal) Value() (driver.Value, error) {
	return a.d.StringFixed(Scale), nil
}

// Scan implements sql.Scanner.
func (a *Decimal) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		a.d = d.Round(Scale)
		return nil
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		a.d = d.Round(Scale)
		return nil
	case float64:
		a.d = decimal.NewFromFloat(v).Round(Scale)
		return nil
	case int64:
		a.d = decimal.NewFromInt(v)
		return nil
	case nil:
		a.d = decimal.Zero
		return nil
	default:
		return fmt.Errorf("money: unsupported scan type %T", src)
	}
}
