//go:build stm32f4

package main

import (
	"machine"

	"spimaster/core"
)

// GPIODriver implements core.GPIODriver with machine pins. Pin numbers
// follow TinyGo: port*16 + pin, so PA0 is 0 and PB3 is 19.
type GPIODriver struct {
	configured map[core.GPIOPin]machine.Pin
}

// NewGPIODriver creates a driver with no pins configured
func NewGPIODriver() *GPIODriver {
	return &GPIODriver{configured: make(map[core.GPIOPin]machine.Pin)}
}

// ConfigureOutput configures a pin as a digital output
func (d *GPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if _, ok := d.configured[pin]; ok {
		return nil
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configured[pin] = p
	return nil
}

// SetPin drives a configured output
func (d *GPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, ok := d.configured[pin]
	if !ok {
		return errPinNotConfigured
	}
	p.Set(value)
	return nil
}

// GetPin reads the pin level
func (d *GPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	return machine.Pin(pin).Get(), nil
}

var errPinNotConfigured = pinError("pin not configured as output")

type pinError string

func (e pinError) Error() string { return string(e) }
