// Package bitmask interprets integer channel values as bit sets.
//
// EPICS has no native unsigned 32-bit record type, so bitmask PVs arrive as
// signed 32-bit integers. Every helper here works on the normalized uint32
// form; use ToUnsigned32 on raw channel values first.
package bitmask

import "math/bits"

// ToUnsigned32 reinterprets a two's complement signed 32-bit value as unsigned.
// Non-negative values are returned unchanged.
func ToUnsigned32(signed int64) uint32 {
	if signed < 0 {
		return uint32(signed + 1<<32)
	}
	return uint32(signed)
}

// Length returns how many right shifts it takes to reach zero, i.e. the
// position of the highest set bit plus one. Length(0) is 0.
func Length(mask uint32) int {
	count := 0
	for mask > 0 {
		mask >>= 1
		count++
	}
	return count
}

// Count returns the number of set bits.
func Count(mask uint32) int {
	return bits.OnesCount32(mask)
}

// Bits decomposes mask into n booleans, least significant bit first.
func Bits(mask uint32, n int) []bool {
	if n > 32 {
		n = 32
	}
	if n < 0 {
		n = 0
	}
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = (mask>>uint(i))&1 == 1
	}
	return out
}

// FromBits is the inverse of Bits: element i sets bit i.
func FromBits(states []bool) uint32 {
	var mask uint32
	for i, on := range states {
		if i >= 32 {
			break
		}
		if on {
			mask |= 1 << uint(i)
		}
	}
	return mask
}

// FromMax builds the contiguous mask 2^v - 1 that enables every bit below v.
func FromMax(v int) uint32 {
	if v <= 0 {
		return 0
	}
	if v >= 32 {
		return ^uint32(0)
	}
	return 1<<uint(v) - 1
}

// IsSet reports whether bit is set in mask.
func IsSet(mask uint32, bit int) bool {
	if bit < 0 || bit >= 32 {
		return false
	}
	return (mask>>uint(bit))&1 == 1
}
