//go:build stm32f4

package main

import (
	"device/stm32"
	"machine"
	"runtime/interrupt"

	stm32spi "spimaster/hal/stm32"
)

// SPI1 pins on PA5/PA6/PA7, alternate function 5
const (
	spi1SCK = machine.PA5
	spi1SDI = machine.PA6
	spi1SDO = machine.PA7
)

// enableSPI1 clocks the peripheral and routes its pins
func enableSPI1() {
	stm32.RCC.APB2ENR.SetBits(stm32.RCC_APB2ENR_SPI1EN)
	spi1SCK.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeSPICLK}, machine.AF5_SPI1_SPI2)
	spi1SDI.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeSPISDI}, machine.AF5_SPI1_SPI2)
	spi1SDO.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeSPISDO}, machine.AF5_SPI1_SPI2)
}

// spi1Line is the SPI1 request line the engine attaches its handler to
var spi1Line = stm32spi.NewNVICLine(stm32.IRQ_SPI1)

func init() {
	spi1Line.IRQ = interrupt.New(stm32.IRQ_SPI1, func(interrupt.Interrupt) {
		spi1Line.Dispatch()
	})
}
