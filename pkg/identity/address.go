// Package identity defines the account identities that hold governance roles.
//
// An Address is a 20-byte account identifier in the usual 0x-prefixed hex
// form. Mixed-case input must carry a valid EIP-55 checksum so that a
// mistyped oracle or owner address is caught before it is written into
// protocol state.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// AddressLength is the size of an address in bytes.
const AddressLength = 20

var ErrInvalidAddress = errors.New("invalid address")

// Address is a 20-byte account identity.
type Address [AddressLength]byte

// Zero is the all-zero address. It never holds a role.
var Zero Address

// Parse decodes a 0x-prefixed hex address.
func Parse(s string) (Address, error) {
	var a Address
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return a, fmt.Errorf("%w: %q missing 0x prefix", ErrInvalidAddress, s)
	}
	body := s[2:]
	if len(body) != 2*AddressLength {
		return a, fmt.Errorf("%w: %q must have %d hex digits", ErrInvalidAddress, s, 2*AddressLength)
	}
	raw, err := hex.DecodeString(body)
	if err != nil {
		return a, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, s, err)
	}
	copy(a[:], raw)

	if isMixedCase(body) && a.String()[2:] != body {
		return Zero, fmt.Errorf("%w: %q fails EIP-55 checksum", ErrInvalidAddress, s)
	}
	return a, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Zero
}

// String renders the EIP-55 checksummed form.
func (a Address) String() string {
	lower := hex.EncodeToString(a[:])

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func isMixedCase(s string) bool {
	return strings.ToLower(s) != s && strings.ToUpper(s) != s
}
