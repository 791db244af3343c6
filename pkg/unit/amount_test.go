package unit

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		unit    Denomination
		want    string
		wantErr bool
	}{
		{name: "ether decimal", input: "0.9", unit: Ether, want: "0.9 ether"},
		{name: "gwei integer", input: "50", unit: Gwei, want: "50 gwei"},
		{name: "trims spaces", input: " 1.5 ", unit: Ether, want: "1.5 ether"},
		{name: "scientific", input: "1e-3", unit: Ether, want: "0.001 ether"},
		{name: "empty", input: "", unit: Ether, wantErr: true},
		{name: "garbage", input: "1,5", unit: Ether, wantErr: true},
		{name: "bad unit", input: "1", unit: "finney", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input, tt.unit)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParse_ErrorKinds(t *testing.T) {
	_, err := Parse("abc", Ether)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = Parse("1", "szabo")
	assert.ErrorIs(t, err, ErrInvalidDenomination)
}

func TestConversions(t *testing.T) {
	one := EtherOf("1")
	assert.Equal(t, "1000000000000000000", one.ToWei().Text())
	assert.Equal(t, "1000000000", one.ToGwei().Text())

	gwei := GweiOf("50")
	assert.Equal(t, "0.00000005", gwei.ToEther().Text())
	assert.Equal(t, "50000000000", gwei.ToWei().Text())

	// round trip keeps every digit
	odd := MustParse("0.123456789123456789", Ether)
	assert.True(t, odd.ToWei().ToGwei().ToEther().Equal(odd))
	assert.Equal(t, "123456789123456789", odd.ToWei().Text())
}

func TestArithmetic(t *testing.T) {
	a := EtherOf("1")
	b := GweiOf("50")

	sum := a.Add(b)
	assert.Equal(t, Ether, sum.Unit())
	assert.Equal(t, "1.00000005", sum.Text())

	diff := a.Sub(b)
	assert.Equal(t, "0.99999995", diff.Text())

	assert.Equal(t, "100 gwei", b.MulInt(2).String())
	assert.Equal(t, "0.9 ether", a.Percent(90).String())
	assert.Equal(t, "0.1 ether", a.Percent(10).String())

	assert.True(t, b.LessThan(a))
	assert.True(t, a.GreaterThan(b))
	assert.True(t, EtherOf("0.00000005").Equal(b))
	assert.Equal(t, 0, EtherOf("0.00000005").Cmp(b))
	assert.True(t, a.Sub(a).IsZero())
	assert.True(t, b.Sub(a).IsNegative())
	assert.True(t, a.IsPositive())
}

func TestZeroValueIsWei(t *testing.T) {
	var z Amount
	assert.Equal(t, Wei, z.Unit())
	assert.True(t, z.IsZero())
	assert.Equal(t, "0 wei", z.String())
	assert.Equal(t, "1 ether", z.Add(EtherOf("1")).ToEther().String())
}

func TestTruncate(t *testing.T) {
	a := MustParse("0.1234567891234", Ether)
	assert.Equal(t, "0.123456789 ether", a.Truncate(Gwei).String())
	assert.Equal(t, "0 ether", a.Truncate(Ether).String())

	neg := MustParse("-1.5", Gwei)
	assert.Equal(t, "-1 gwei", neg.Truncate(Gwei).String())
}

func TestBigWei(t *testing.T) {
	w, err := EtherOf("0.9").BigWei()
	require.NoError(t, err)
	assert.Equal(t, "900000000000000000", w.String())

	_, err = MustParse("1.5", Wei).BigWei()
	assert.ErrorIs(t, err, ErrFractionalWei)

	assert.True(t, FromWei(big.NewInt(21000)).Equal(MustParse("0.000021", Gwei)))
	assert.True(t, FromWei(nil).IsZero())
}

func TestJSON(t *testing.T) {
	a := EtherOf("0.9")
	b, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"0.9","unit":"ether"}`, string(b))

	var back Amount
	require.NoError(t, json.Unmarshal(b, &back))
	assert.True(t, back.Equal(a))
	assert.Equal(t, Ether, back.Unit())

	assert.Error(t, json.Unmarshal([]byte(`{"value":"x","unit":"ether"}`), &back))
}

func TestSumAndMax(t *testing.T) {
	total := Sum(EtherOf("0.9"), EtherOf("0.1"))
	assert.True(t, total.Equal(EtherOf("1")))
	assert.True(t, Sum().IsZero())

	assert.True(t, Max(GweiOf("40"), GweiOf("50")).Equal(GweiOf("50")))
}

func TestParseDenomination(t *testing.T) {
	d, err := ParseDenomination("GWEI")
	require.NoError(t, err)
	assert.Equal(t, Gwei, d)

	_, err = ParseDenomination("btc")
	assert.ErrorIs(t, err, ErrInvalidDenomination)
}
