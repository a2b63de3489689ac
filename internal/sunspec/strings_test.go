package sunspec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeStringEM24(t *testing.T) {
	w, err := EncodeString("EM24", 8)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x454D, 0x3234, 0, 0, 0, 0, 0, 0}, w)
	assert.Equal(t, "EM24", DecodeString(w))
}

func TestEncodeStringOddLength(t *testing.T) {
	w, err := EncodeString("0.1", 8)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x302E, 0x3100}, w[:2])
	assert.Equal(t, "0.1", DecodeString(w))
}

func TestEncodeStringEmpty(t *testing.T) {
	w, err := EncodeString("", 0)
	require.NoError(t, err)
	assert.Empty(t, w)
}

func TestEncodeStringRejects(t *testing.T) {
	_, err := EncodeString("ABCDE", 2)
	assert.ErrorIs(t, err, ErrStringTooLong)

	_, err = EncodeString("Grüße", 16)
	assert.ErrorIs(t, err, ErrNotASCII)
}
