package halffloat

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestToBits_SpecialValues(t *testing.T) {
	assert.Equal(t, uint16(0x0000), ToBits(0))
	assert.Equal(t, uint16(0x8000), ToBits(float32(math.Copysign(0, -1))))
	assert.Equal(t, uint16(0x3C00), ToBits(1.0))
	assert.Equal(t, uint16(0xBC00), ToBits(-1.0))
	assert.Equal(t, uint16(0x7C00), ToBits(float32(math.Inf(1))))
	assert.Equal(t, uint16(0xFC00), ToBits(float32(math.Inf(-1))))
}

func TestToBits_Overflow(t *testing.T) {
	assert.Equal(t, uint16(0x7C00), ToBits(1e9))
	assert.Equal(t, uint16(0xFC00), ToBits(-1e9))
}

func TestRoundTrip_Identity(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 0.5, 100, -100, 65504, 6.103515625e-05} {
		assert.True(t, RoundTrips(v), "expected %v to round-trip", v)
		assert.Equal(t, v, FromBits(ToBits(v)))
	}
}

func TestRoundTrip_LosesPrecisionBeyondHalfMantissa(t *testing.T) {
	assert.False(t, RoundTrips(1.0000001))
}

func TestIdentical_NaNAndSignedZero(t *testing.T) {
	assert.True(t, Identical(float32(math.NaN()), float32(math.NaN())))
	assert.False(t, Identical(0, float32(math.Copysign(0, -1))))
}

func TestRoundTripProperty(t *testing.T) {
	props := gopter.NewProperties(nil)

	props.Property("every value that RoundTrips survives ToBits/FromBits identically", prop.ForAll(
		func(v float32) bool {
			if !RoundTrips(v) {
				return true
			}
			return Identical(FromBits(ToBits(v)), v)
		},
		gen.Float32Range(-65504, 65504),
	))

	props.TestingRun(t)
}
