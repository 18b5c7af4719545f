package vm

import (
	"encoding/binary"
	"math"
)

// Raw typed access into register buffers. All register memory is little-
// endian []byte addressed as base + i*stride; strides may be zero (a
// broadcast or constant register) so typed slicing is not an option.

func loadB(b []byte, off int) bool { return b[off] != 0 }

func storeB(b []byte, off int, v bool) {
	if v {
		b[off] = 1
	} else {
		b[off] = 0
	}
}

func loadI(b []byte, off int) int32 {
	return int32(binary.LittleEndian.Uint32(b[off:]))
}

func storeI(b []byte, off int, v int32) {
	binary.LittleEndian.PutUint32(b[off:], uint32(v))
}

func loadL(b []byte, off int) int64 {
	return int64(binary.LittleEndian.Uint64(b[off:]))
}

func storeL(b []byte, off int, v int64) {
	binary.LittleEndian.PutUint64(b[off:], uint64(v))
}

func loadF(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}

func storeF(b []byte, off int, v float32) {
	binary.LittleEndian.PutUint32(b[off:], math.Float32bits(v))
}

func loadD(b []byte, off int) float64 {
	return math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
}

func storeD(b []byte, off int, v float64) {
	binary.LittleEndian.PutUint64(b[off:], math.Float64bits(v))
}

func loadC(b []byte, off int) complex128 {
	return complex(loadD(b, off), loadD(b, off+8))
}

func storeC(b []byte, off int, v complex128) {
	storeD(b, off, real(v))
	storeD(b, off+8, imag(v))
}

// stringCmp compares two fixed-width strings as if each were followed by
// infinitely many trailing NUL bytes, so "ab\x00\x00" and "ab" compare
// equal regardless of register widths.
func stringCmp(s1, s2 []byte) int {
	maxlen := len(s1)
	if len(s2) > maxlen {
		maxlen = len(s2)
	}
	for i := 0; i < maxlen; i++ {
		var c1, c2 byte
		if i < len(s1) {
			c1 = s1[i]
		}
		if i < len(s2) {
			c2 = s2[i]
		}
		if c1 < c2 {
			return -1
		}
		if c1 > c2 {
			return +1
		}
	}
	return 0
}
