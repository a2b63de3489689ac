package drivers

import (
	"fmt"
	"strings"
)

// s32LowFirst combines two registers holding a signed 32-bit value with the
// low word first.
func s32LowFirst(lo, hi int) int32 {
	return int32(uint32(uint16(lo)) | uint32(uint16(hi))<<16)
}

// u32HighFirst combines two registers holding an unsigned 32-bit value with
// the high word first.
func u32HighFirst(hi, lo int) uint32 {
	return uint32(uint16(hi))<<16 | uint32(uint16(lo))
}

// asciiRegisters unpacks big-endian register bytes into a string and strips
// NUL and space padding.
func asciiRegisters(regs []int) string {
	buf := make([]byte, 0, 2*len(regs))
	for _, r := range regs {
		buf = append(buf, byte(r>>8), byte(r))
	}
	return strings.TrimRight(string(buf), "\x00 ")
}

// reversedHex renders each register as lowercase hex, reverses its digits and
// joins the results.
func reversedHex(regs []int) string {
	var sb strings.Builder
	for _, r := range regs {
		digits := []byte(fmt.Sprintf("%x", uint16(r)))
		for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
			digits[i], digits[j] = digits[j], digits[i]
		}
		sb.Write(digits)
	}
	return sb.String()
}

func expectLen(regs []int, n int) error {
	if len(regs) != n {
		return fmt.Errorf("expected %d registers, got %d", n, len(regs))
	}
	return nil
}
