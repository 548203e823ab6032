package model

import (
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
)

// EtherDecimals is the number of subunit digits in one native unit.
const EtherDecimals = 18

var etherUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(EtherDecimals), nil)

// DDecimal is an exact, non-floating amount counted in the smallest currency
// subunit. The zero value is 0. Operations never modify their receiver.
type DDecimal struct {
	value big.Int
}

func NewDecimal() *DDecimal {
	return &DDecimal{}
}

func NewDecimalFromInt64(v int64) *DDecimal {
	d := new(DDecimal)
	d.value.SetInt64(v)
	return d
}

func NewDecimalFromBig(v *big.Int) *DDecimal {
	d := new(DDecimal)
	if v != nil {
		d.value.Set(v)
	}
	return d
}

// NewDecimalFromString parses a decimal string such as "123" or "0.02" and
// returns the integer made of all its digits together with the number of
// digits that followed the point.
func NewDecimalFromString(s string) (*DDecimal, int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, 0, fmt.Errorf("empty decimal string")
	}

	intPart, fracPart, hasPoint := strings.Cut(s, ".")
	if hasPoint && fracPart == "" {
		return nil, 0, fmt.Errorf("invalid decimal %q", s)
	}
	if strings.HasPrefix(fracPart, "-") || strings.HasPrefix(fracPart, "+") {
		return nil, 0, fmt.Errorf("invalid decimal %q", s)
	}

	d := new(DDecimal)
	if _, ok := d.value.SetString(intPart+fracPart, 10); !ok {
		return nil, 0, fmt.Errorf("invalid decimal %q", s)
	}
	return d, len(fracPart), nil
}

// ParseEther converts a native-unit string ("0.02") into subunits. More than
// EtherDecimals fractional digits is an error, nothing is rounded.
func ParseEther(s string) (*DDecimal, error) {
	d, precision, err := NewDecimalFromString(s)
	if err != nil {
		return nil, err
	}
	if precision > EtherDecimals {
		return nil, fmt.Errorf("%q has more than %d decimals", s, EtherDecimals)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(EtherDecimals-precision)), nil)
	d.value.Mul(&d.value, scale)
	return d, nil
}

func MustParseEther(s string) *DDecimal {
	d, err := ParseEther(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatEther renders subunits as native units without trailing zeros.
func FormatEther(d *DDecimal) string {
	if d == nil {
		return "0"
	}
	abs := new(big.Int).Abs(&d.value)
	q, r := new(big.Int).QuoRem(abs, etherUnit, new(big.Int))

	s := q.String()
	if r.Sign() != 0 {
		rs := r.String()
		frac := strings.Repeat("0", EtherDecimals-len(rs)) + rs
		s += "." + strings.TrimRight(frac, "0")
	}
	if d.value.Sign() < 0 {
		s = "-" + s
	}
	return s
}

func (d *DDecimal) Add(o *DDecimal) *DDecimal {
	r := new(DDecimal)
	r.value.Add(d.big(), o.big())
	return r
}

func (d *DDecimal) Sub(o *DDecimal) *DDecimal {
	r := new(DDecimal)
	r.value.Sub(d.big(), o.big())
	return r
}

func (d *DDecimal) MulInt64(n int64) *DDecimal {
	r := new(DDecimal)
	r.value.Mul(d.big(), big.NewInt(n))
	return r
}

func (d *DDecimal) Cmp(o *DDecimal) int {
	return d.big().Cmp(o.big())
}

func (d *DDecimal) Sign() int {
	return d.big().Sign()
}

func (d *DDecimal) IsZero() bool {
	return d.Sign() == 0
}

// Big returns a copy of the underlying integer.
func (d *DDecimal) Big() *big.Int {
	return new(big.Int).Set(d.big())
}

func (d *DDecimal) Copy() *DDecimal {
	return NewDecimalFromBig(d.big())
}

func (d *DDecimal) String() string {
	return d.big().String()
}

var zero = new(big.Int)

func (d *DDecimal) big() *big.Int {
	if d == nil {
		return zero
	}
	return &d.value
}

// Value stores the amount as a decimal(38,0) literal.
func (d DDecimal) Value() (driver.Value, error) {
	return d.value.String(), nil
}

func (d *DDecimal) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		d.value.SetInt64(0)
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		d.value.SetInt64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into DDecimal", src)
	}

	parsed, precision, err := NewDecimalFromString(s)
	if err != nil {
		return err
	}
	// decimal(38,0) may come back as "123.0" from some drivers
	if precision > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(precision)), nil)
		q, r := new(big.Int).QuoRem(&parsed.value, scale, new(big.Int))
		if r.Sign() != 0 {
			return fmt.Errorf("amount %q is not an integer", s)
		}
		parsed.value.Set(q)
	}
	d.value.Set(&parsed.value)
	return nil
}
