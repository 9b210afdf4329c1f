package token

import (
	"bytes"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomEncodeDecode(t *testing.T) {
	tok, err := Random()
	require.NoError(t, err)

	text := tok.Encode()
	assert.Len(t, text, 43)
	assert.NotContains(t, text, "=")

	back, err := Decode(text)
	require.NoError(t, err)
	assert.Equal(t, tok.Bytes(), back.Bytes())
}

func TestRandomTokensDiffer(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)
	assert.False(t, bytes.Equal(a.Bytes(), b.Bytes()))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"short":        strings.Repeat("A", 42),
		"long":         strings.Repeat("A", 44),
		"bad alphabet": strings.Repeat("*", 43),
		"std padding":  strings.Repeat("A", 42) + "=",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(text)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestHashIsSHA256OfRawBytes(t *testing.T) {
	tok, err := FromBytes(bytes.Repeat([]byte{7}, Size))
	require.NoError(t, err)

	want := sha256.Sum256(bytes.Repeat([]byte{7}, Size))
	assert.Equal(t, want[:], tok.Hash())
}

func TestFromBytesLength(t *testing.T) {
	_, err := FromBytes(make([]byte, Size-1))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestZero(t *testing.T) {
	tok, err := Random()
	require.NoError(t, err)
	tok.Zero()
	assert.Equal(t, make([]byte, Size), tok.Bytes())
	assert.Equal(t, "token(redacted)", tok.String())
}
