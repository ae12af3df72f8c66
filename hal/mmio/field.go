// Package mmio provides memory-mapped register access and bit-field helpers
// shared by the peripheral drivers.
package mmio

import "golang.org/x/exp/constraints"

// Field is a contiguous bit field of a register
type Field[T constraints.Unsigned] struct {
	Pos   uint8
	Width uint8
}

// Mask returns the field mask in place
func (f Field[T]) Mask() T {
	return (T(1)<<f.Width - 1) << f.Pos
}

// Get extracts the field from reg
func (f Field[T]) Get(reg T) T {
	return (reg & f.Mask()) >> f.Pos
}

// Put returns reg with the field replaced by v. Bits of v beyond the field
// width are dropped.
func (f Field[T]) Put(reg, v T) T {
	return reg&^f.Mask() | (v<<f.Pos)&f.Mask()
}

// Bit returns a single-bit mask at pos
func Bit[T constraints.Unsigned](pos uint8) T {
	return T(1) << pos
}

// If returns bits when cond holds and zero otherwise
func If[T constraints.Unsigned](cond bool, bits T) T {
	if cond {
		return bits
	}
	return 0
}

// Log2 returns n for v == 1<<n. ok is false if v is not a power of two.
func Log2[T constraints.Unsigned](v T) (n uint8, ok bool) {
	if v == 0 || v&(v-1) != 0 {
		return 0, false
	}
	for v > 1 {
		v >>= 1
		n++
	}
	return n, true
}
