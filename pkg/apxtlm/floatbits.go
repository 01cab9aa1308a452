package apxtlm

import "math"

func float32Bits(f float32) uint32 {
	return math.Float32bits(f)
}

// float32BitsEqual implements the value-cache's bitwise equality: NaN is
// equal to NaN, but +0 and -0 are distinct ("Value cache" semantics).
func float32BitsEqual(a, b uint32) bool {
	if a == b {
		return true
	}
	return isNaNBits(a) && isNaNBits(b)
}

func isNaNBits(bits uint32) bool {
	return (bits&0x7F800000) == 0x7F800000 && (bits&0x7FFFFF) != 0
}
