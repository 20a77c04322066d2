package core

import "math"

// IEEE 754 binary16 conversion for reduced-precision inference.
// Values pass through half precision and come back as float32; there is no
// native half type to compute in.

// Float16Bits converts f to binary16, rounding to nearest even.
func Float16Bits(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp32 := (b >> 23) & 0xff
	mant := b & 0x7fffff

	if exp32 == 0xff {
		if mant != 0 {
			return sign | 0x7e00 // NaN
		}
		return sign | 0x7c00 // Inf
	}

	exp := int(exp32) - 127 + 15
	if exp >= 0x1f {
		return sign | 0x7c00 // overflow to Inf
	}
	if exp <= 0 {
		if exp < -10 {
			return sign // underflow to zero
		}
		// subnormal half: shift in the implicit one
		mant |= 0x800000
		shift := uint(14 - exp)
		m := mant >> shift
		rem := mant & ((1 << shift) - 1)
		halfway := uint32(1) << (shift - 1)
		if rem > halfway || (rem == halfway && m&1 == 1) {
			m++
		}
		return sign | uint16(m)
	}

	m := mant >> 13
	rem := mant & 0x1fff
	if rem > 0x1000 || (rem == 0x1000 && m&1 == 1) {
		m++
		if m == 0x400 {
			m = 0
			exp++
			if exp >= 0x1f {
				return sign | 0x7c00
			}
		}
	}
	return sign | uint16(exp)<<10 | uint16(m)
}

// Float16From reconstructs a float32 from binary16 bits.
func Float16From(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h & 0x3ff)

	switch {
	case exp == 0x1f:
		if mant != 0 {
			return math.Float32frombits(sign | 0x7fc00000) // NaN
		}
		return math.Float32frombits(sign | 0x7f800000) // Inf
	case exp == 0:
		if mant == 0 {
			return math.Float32frombits(sign) // signed zero
		}
		// subnormal half: normalize into float32
		e := uint32(127 - 15 + 1)
		for mant&0x400 == 0 {
			mant <<= 1
			e--
		}
		mant &= 0x3ff
		return math.Float32frombits(sign | e<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}

// RoundHalf rounds f through binary16 precision.
func RoundHalf(f float32) float32 {
	return Float16From(Float16Bits(f))
}

// RoundHalfSlice rounds every element of x in place through binary16 precision.
func RoundHalfSlice(x []float32) {
	for i, v := range x {
		x[i] = RoundHalf(v)
	}
}
