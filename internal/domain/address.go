package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	AddressLength = 42
	HashLength    = 66
)

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidHash     = errors.New("invalid transaction hash")
	ErrInvalidBlockTag = errors.New("invalid block tag")
)

// Address is a 0x-prefixed, 20-byte account identifier. Case is preserved as given.
type Address string

func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != AddressLength || !hasHexPrefix(s) || !isHex(s[2:]) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return Address(s), nil
}

func MustAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string { return string(a) }

func (a Address) Lower() string { return strings.ToLower(string(a)) }

func (a Address) Equal(b Address) bool { return a.Lower() == b.Lower() }

// Checksum returns the EIP-55 mixed-case form.
func (a Address) Checksum() string {
	return common.HexToAddress(string(a)).Hex()
}

// Hash is a 0x-prefixed, 32-byte transaction hash.
type Hash string

func ParseHash(s string) (Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != HashLength || !hasHexPrefix(s) || !isHex(s[2:]) {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, s)
	}
	return Hash(strings.ToLower(s)), nil
}

func (h Hash) String() string { return string(h) }
func (h Hash) IsZero() bool   { return h == "" }

// BlockTag selects the state a query runs against.
type BlockTag string

const (
	BlockLatest   BlockTag = "latest"
	BlockPending  BlockTag = "pending"
	BlockEarliest BlockTag = "earliest"
)

func BlockNumber(n uint64) BlockTag {
	return BlockTag("0x" + strconv.FormatUint(n, 16))
}

// ParseBlockTag accepts a named tag, a decimal block number or a 0x-prefixed hex block number.
func ParseBlockTag(s string) (BlockTag, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch BlockTag(s) {
	case BlockLatest, BlockPending, BlockEarliest:
		return BlockTag(s), nil
	}
	if hasHexPrefix(s) {
		n, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return "", fmt.Errorf("%w: %q", ErrInvalidBlockTag, s)
		}
		return BlockNumber(n), nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidBlockTag, s)
	}
	return BlockNumber(n), nil
}

func (t BlockTag) String() string { return string(t) }

func hasHexPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHex(s string) bool {
	if len(s)%2 == 1 {
		s = "0" + s
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
