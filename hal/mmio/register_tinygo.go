//go:build tinygo

package mmio

import (
	"runtime/volatile"
	"unsafe"
)

// Register32 is a memory-mapped 32-bit peripheral register
type Register32 = volatile.Register32

// Load8 reads the low byte of r with a byte-wide bus access
func Load8(r *Register32) uint8 {
	return (*volatile.Register8)(unsafe.Pointer(r)).Get()
}

// Store8 writes the low byte of r with a byte-wide bus access. Data
// registers with packing logic treat a byte access as one frame.
func Store8(r *Register32, v uint8) {
	(*volatile.Register8)(unsafe.Pointer(r)).Set(v)
}
