package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHex(t *testing.T) {
	n, err := ParseHexUint64("0x1a")
	require.NoError(t, err)
	assert.Equal(t, uint64(26), n)

	_, err = ParseHexUint64("0x")
	assert.Error(t, err)

	b, err := ParseHexBigInt("0xde0b6b3a7640000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", b.String())

	b, err = ParseHexBigInt("")
	require.NoError(t, err)
	assert.Equal(t, int64(0), b.Int64())

	_, err = ParseHexBigInt("0xzz")
	assert.Error(t, err)
}

func TestEncodeHex(t *testing.T) {
	assert.Equal(t, "0x0", EncodeUint64(0))
	assert.Equal(t, "0x10", EncodeUint64(16))
	assert.Equal(t, "0x0", EncodeBigInt(nil))
	assert.Equal(t, "0xde0b6b3a7640000", EncodeBigInt(big.NewInt(1_000_000_000_000_000_000)))
}
