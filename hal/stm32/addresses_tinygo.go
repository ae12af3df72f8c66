//go:build tinygo && (stm32f4 || stm32f7)

package stm32

import "unsafe"

// SPI register blocks of the F4/F7 memory map
var (
	SPI1 = (*Registers)(unsafe.Pointer(uintptr(0x40013000)))
	SPI2 = (*Registers)(unsafe.Pointer(uintptr(0x40003800)))
	SPI3 = (*Registers)(unsafe.Pointer(uintptr(0x40003C00)))
)
