//go:build stm32f4

// Firmware for STM32F4 boards: the SPI1 master is driven from its interrupt
// and the host talks to it over the default UART.
package main

import (
	"device/arm"
	"machine"

	"spimaster/core"
	"spimaster/firmware"
	"spimaster/hal/stm32"
	"spimaster/protocol"
)

const (
	// APB2 clock feeding SPI1 with the 168 MHz system clock
	spi1ClockHz = 84_000_000
	uartBaud    = 250000
)

func main() {
	uart := machine.DefaultUART
	uart.Configure(machine.UARTConfig{BaudRate: uartBaud})

	core.InitCoreCommands()
	core.InitSPICommands()
	core.InitGPIOCommands()
	core.GetGlobalDictionary().SetBuildVersions("tinygo stm32f4")
	core.SetGPIODriver(NewGPIODriver())
	core.SetResetHandler(arm.SystemReset)

	events := core.NewEventDispatcher()
	loop := firmware.New(firmware.Config{Output: uart, Events: events})

	enableSPI1()
	regs := stm32.New(stm32.SPI1, false)
	master := core.NewSPIMaster(regs, spi1Line, events)
	if _, err := core.RegisterSPIBus(core.SPIBusConfig{
		ID:       0,
		Name:     "spi1",
		Master:   master,
		Regs:     regs,
		ClockHz:  spi1ClockHz,
		Defaults: core.DefaultSPIBusSettings(),
	}); err != nil {
		core.Fatal(core.ReasonBusSettings)
	}

	buf := make([]byte, frameSize)
	for {
		if n := uart.Buffered(); n > 0 {
			n, _ = uart.Read(buf[:min(n, len(buf))])
			loop.Feed(buf[:n])
		}
		loop.Poll()
	}
}

// frameSize is one maximum-size frame
const frameSize = protocol.MessageLengthMax
