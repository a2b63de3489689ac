package sunspec

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStringTooLong is returned when a string does not fit its field.
	ErrStringTooLong = errors.New("string exceeds field length")
	// ErrNotASCII is returned for strings with bytes outside 7-bit ASCII.
	ErrNotASCII = errors.New("string is not ASCII")
)

// EncodeString packs s two characters per register, big-endian, and pads
// with NUL up to words registers.
func EncodeString(s string, words int) ([]uint16, error) {
	if len(s) > 2*words {
		return nil, fmt.Errorf("%q needs %d bytes, field holds %d: %w", s, len(s), 2*words, ErrStringTooLong)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7F {
			return nil, fmt.Errorf("byte 0x%02X at offset %d: %w", s[i], i, ErrNotASCII)
		}
	}

	buf := make([]byte, 2*words)
	copy(buf, s)

	out := make([]uint16, words)
	for i := range out {
		out[i] = uint16(buf[2*i])<<8 | uint16(buf[2*i+1])
	}
	return out, nil
}

// DecodeString unpacks registers and drops the NUL padding.
func DecodeString(words []uint16) string {
	buf := make([]byte, 0, 2*len(words))
	for _, w := range words {
		buf = append(buf, byte(w>>8), byte(w))
	}
	return strings.TrimRight(string(buf), "\x00")
}
