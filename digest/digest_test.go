package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromBytes(t *testing.T) {
	sum := sha256.Sum256([]byte("hello"))
	want := Digest("sha256:" + hex.EncodeToString(sum[:]))
	assert.Equal(t, want, FromBytes([]byte("hello")))
}

func TestParse(t *testing.T) {
	valid := "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{"valid", valid, nil},
		{"empty", "", ErrDigestInvalidFormat},
		{"no algorithm", strings.TrimPrefix(valid, "sha256:"), ErrDigestInvalidFormat},
		{"unsupported algorithm", "sha512:" + strings.Repeat("ab", 32), ErrDigestInvalidFormat},
		{"short hex", "sha256:abcd", ErrDigestInvalidLength},
		{"long hex", valid + "00", ErrDigestInvalidLength},
		{"uppercase hex", "sha256:" + strings.ToUpper(strings.TrimPrefix(valid, "sha256:")), ErrDigestInvalidFormat},
		{"non-hex chars", "sha256:" + strings.Repeat("zz", 32), ErrDigestInvalidFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d, err := Parse(tc.input)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.input, d.String())
		})
	}
}

func TestDigestHex(t *testing.T) {
	d := FromBytes([]byte("x"))
	assert.Len(t, d.Hex(), 64)
	assert.Equal(t, "sha256:"+d.Hex(), d.String())
}

func TestVerify(t *testing.T) {
	d := FromBytes([]byte("payload"))
	assert.True(t, d.Verify([]byte("payload")))
	assert.False(t, d.Verify([]byte("other")))
}

func TestVerifierIncremental(t *testing.T) {
	v := NewVerifier()
	for _, chunk := range []string{"he", "ll", "o"} {
		_, err := v.Write([]byte(chunk))
		require.NoError(t, err)
	}
	assert.Equal(t, FromBytes([]byte("hello")), v.Digest())
	assert.True(t, v.Matches(FromBytes([]byte("hello"))))
	assert.False(t, v.Matches(FromBytes([]byte("world"))))
}

func TestVerifierStateRoundTrip(t *testing.T) {
	v := NewVerifier()
	_, err := v.Write([]byte("first chunk "))
	require.NoError(t, err)

	state, err := v.MarshalBinary()
	require.NoError(t, err)

	resumed := NewVerifier()
	require.NoError(t, resumed.UnmarshalBinary(state))
	_, err = resumed.Write([]byte("second chunk"))
	require.NoError(t, err)

	assert.Equal(t, FromBytes([]byte("first chunk second chunk")), resumed.Digest())
}
