package unit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

type Denomination string

const (
	Wei   Denomination = "wei"
	Gwei  Denomination = "gwei"
	Ether Denomination = "ether"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidDenomination = errors.New("invalid denomination")
	ErrFractionalWei       = errors.New("amount is not a whole number of wei")
)

// exponent returns the power of ten that converts one unit of d into wei.
func (d Denomination) exponent() (int32, error) {
	switch d {
	case Wei:
		return 0, nil
	case Gwei:
		return 9, nil
	case Ether:
		return 18, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidDenomination, string(d))
}

func (d Denomination) Valid() bool {
	_, err := d.exponent()
	return err == nil
}

func ParseDenomination(s string) (Denomination, error) {
	d := Denomination(strings.ToLower(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidDenomination, s)
	}
	return d, nil
}

// Amount is an exact decimal magnitude tagged with a denomination.
// The zero value is 0 wei.
type Amount struct {
	value decimal.Decimal
	unit  Denomination
}

func New(value decimal.Decimal, d Denomination) Amount {
	if !d.Valid() {
		panic(fmt.Sprintf("unit: invalid denomination %q", string(d)))
	}
	return Amount{value: value, unit: d}
}

func FromInt(v int64, d Denomination) Amount {
	return New(decimal.NewFromInt(v), d)
}

func FromWei(v *big.Int) Amount {
	if v == nil {
		return Amount{value: decimal.Zero, unit: Wei}
	}
	return Amount{value: decimal.NewFromBigInt(v, 0), unit: Wei}
}

// Parse reads a decimal string such as "0.25" or "1e-3". Binary floating point is never involved.
func Parse(s string, d Denomination) (Amount, error) {
	if !d.Valid() {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidDenomination, string(d))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty value", ErrInvalidAmount)
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return Amount{value: v, unit: d}, nil
}

func MustParse(s string, d Denomination) Amount {
	a, err := Parse(s, d)
	if err != nil {
		panic(err)
	}
	return a
}

func EtherOf(s string) Amount { return MustParse(s, Ether) }
func GweiOf(s string) Amount  { return MustParse(s, Gwei) }

func (a Amount) Unit() Denomination {
	if a.unit == "" {
		return Wei
	}
	return a.unit
}

func (a Amount) Value() decimal.Decimal { return a.value }

// In converts a to denomination d without loss of precision.
func (a Amount) In(d Denomination) Amount {
	from, _ := a.Unit().exponent()
	to, err := d.exponent()
	if err != nil {
		panic(err)
	}
	return Amount{value: a.value.Shift(from - to), unit: d}
}

func (a Amount) ToWei() Amount   { return a.In(Wei) }
func (a Amount) ToGwei() Amount  { return a.In(Gwei) }
func (a Amount) ToEther() Amount { return a.In(Ether) }

// BigWei returns the amount as an integer number of wei.
func (a Amount) BigWei() (*big.Int, error) {
	w := a.ToWei().value
	if !w.Equal(w.Truncate(0)) {
		return nil, fmt.Errorf("%w: %s", ErrFractionalWei, a)
	}
	return w.BigInt(), nil
}

// Truncate rounds a toward zero to a whole number of d units, keeping a's denomination.
func (a Amount) Truncate(d Denomination) Amount {
	v := a.In(d).value.Truncate(0)
	return Amount{value: v, unit: d}.In(a.Unit())
}

func (a Amount) Add(b Amount) Amount {
	return Amount{value: a.value.Add(b.In(a.Unit()).value), unit: a.Unit()}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{value: a.value.Sub(b.In(a.Unit()).value), unit: a.Unit()}
}

func (a Amount) MulInt(n int64) Amount {
	return Amount{value: a.value.Mul(decimal.NewFromInt(n)), unit: a.Unit()}
}

// Percent returns p percent of a. Division by 100 is a decimal shift, so the result is exact.
func (a Amount) Percent(p int64) Amount {
	return Amount{value: a.value.Mul(decimal.NewFromInt(p)).Shift(-2), unit: a.Unit()}
}

// Cmp compares a and b after converting both to wei.
func (a Amount) Cmp(b Amount) int {
	return a.ToWei().value.Cmp(b.ToWei().value)
}

func (a Amount) Equal(b Amount) bool       { return a.Cmp(b) == 0 }
func (a Amount) LessThan(b Amount) bool    { return a.Cmp(b) < 0 }
func (a Amount) GreaterThan(b Amount) bool { return a.Cmp(b) > 0 }
func (a Amount) IsZero() bool              { return a.value.IsZero() }
func (a Amount) IsPositive() bool          { return a.value.IsPositive() }
func (a Amount) IsNegative() bool          { return a.value.IsNegative() }

// Text renders the magnitude without the denomination.
func (a Amount) Text() string { return a.value.String() }

func (a Amount) String() string {
	return a.value.String() + " " + string(a.Unit())
}

type amountJSON struct {
	Value string       `json:"value"`
	Unit  Denomination `json:"unit"`
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(amountJSON{Value: a.value.String(), Unit: a.Unit()})
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	var raw amountJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Unit == "" {
		raw.Unit = Wei
	}
	parsed, err := Parse(raw.Value, raw.Unit)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds amounts in the denomination of the first element. An empty slice sums to 0 wei.
func Sum(amounts ...Amount) Amount {
	if len(amounts) == 0 {
		return Amount{value: decimal.Zero, unit: Wei}
	}
	total := amounts[0]
	for _, a := range amounts[1:] {
		total = total.Add(a)
	}
	return total
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if b.GreaterThan(a) {
		return b
	}
	return a
}
