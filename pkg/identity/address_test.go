package identity

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Vectors from EIP-55.
var checksummed = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestParse_ChecksumRoundTrip(t *testing.T) {
	for _, s := range checksummed {
		a, err := Parse(s)
		require.NoError(t, err, s)
		assert.Equal(t, s, a.String())
	}
}

func TestParse_AcceptsSingleCase(t *testing.T) {
	for _, s := range checksummed {
		lower, err := Parse(strings.ToLower(s))
		require.NoError(t, err)
		upper, err := Parse("0x" + strings.ToUpper(s[2:]))
		require.NoError(t, err)
		assert.Equal(t, lower, upper)
		assert.Equal(t, s, lower.String())
	}
}

func TestParse_RejectsBadChecksum(t *testing.T) {
	// Flip the case of one letter in a valid checksummed address.
	bad := "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	_, err := Parse(bad)
	require.ErrorIs(t, err, ErrInvalidAddress)
	assert.Contains(t, err.Error(), "checksum")
}

func TestParse_RejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		"0x1234",
		"0xzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz",
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed00",
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrInvalidAddress, c)
	}
}

func TestParse_TrimsWhitespace(t *testing.T) {
	a, err := Parse("  " + checksummed[0] + "\n")
	require.NoError(t, err)
	assert.Equal(t, checksummed[0], a.String())
}

func TestZero(t *testing.T) {
	a, err := Parse("0x0000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, a.IsZero())
	assert.False(t, MustParse(checksummed[1]).IsZero())
}

func TestAddress_JSON(t *testing.T) {
	type wrapper struct {
		Oracle Address `json:"oracle"`
	}
	in := wrapper{Oracle: MustParse(checksummed[2])}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"oracle":"`+checksummed[2]+`"}`, string(raw))

	var out wrapper
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"oracle":"nope"}`), &out)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
