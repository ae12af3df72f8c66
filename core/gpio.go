// Digital outputs for the auxiliary lines of SPI slaves (reset, enable,
// write protect). Pins change immediately; there is no clock domain to
// schedule against.
package core

import (
	"errors"

	"spimaster/protocol"
)

var ErrUnknownDigitalOut = errors.New("unknown digital output")

// DigitalOut flags
const (
	DF_ON         = 1 << 0 // Current pin state (1=high, 0=low)
	DF_DEFAULT_ON = 1 << 1 // Level restored on shutdown
)

// DigitalOut represents a configured GPIO output pin
type DigitalOut struct {
	OID   uint8   // Object ID
	Pin   GPIOPin // Hardware pin
	Flags uint8   // State flags (DF_*)
}

// Global registry of digital outputs
var (
	digitalOutputs     = make(map[uint8]*DigitalOut)
	digitalHookEnabled bool
)

// InitGPIOCommands registers GPIO-related commands with the command registry
func InitGPIOCommands() {
	RegisterCommand("config_digital_out", "oid=%c pin=%u value=%c default_value=%c", handleConfigDigitalOut)
	RegisterCommand("update_digital_out", "oid=%c value=%c", handleUpdateDigitalOut)
	if !digitalHookEnabled {
		RegisterShutdownHook(ShutdownAllDigitalOut)
		digitalHookEnabled = true
	}
}

// GetDigitalOut returns a configured output
func GetDigitalOut(oid uint8) (*DigitalOut, bool) {
	dout, ok := digitalOutputs[oid]
	return dout, ok
}

// ResetDigitalOuts forgets every configured output
func ResetDigitalOuts() {
	digitalOutputs = make(map[uint8]*DigitalOut)
}

// handleConfigDigitalOut configures a pin for digital output
// Format: config_digital_out oid=%c pin=%u value=%c default_value=%c
func handleConfigDigitalOut(data *[]byte) error {
	args, err := decodeUints(data, 4)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}

	dout := &DigitalOut{OID: uint8(args[0]), Pin: GPIOPin(args[1])}
	if args[3] != 0 {
		dout.Flags |= DF_DEFAULT_ON
	}
	if err := MustGPIO().ConfigureOutput(dout.Pin); err != nil {
		return err
	}
	if err := dout.set(args[2] != 0); err != nil {
		return err
	}
	digitalOutputs[dout.OID] = dout
	return nil
}

// handleUpdateDigitalOut immediately updates a pin value
// Format: update_digital_out oid=%c value=%c
func handleUpdateDigitalOut(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	value, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	dout, ok := digitalOutputs[uint8(oid)]
	if !ok {
		return ErrUnknownDigitalOut
	}
	return dout.set(value != 0)
}

func (dout *DigitalOut) set(state bool) error {
	if err := MustGPIO().SetPin(dout.Pin, state); err != nil {
		return err
	}
	if state {
		dout.Flags |= DF_ON
	} else {
		dout.Flags &^= DF_ON
	}
	return nil
}

// IsOn reports the last level written
func (dout *DigitalOut) IsOn() bool {
	return dout.Flags&DF_ON != 0
}

// ShutdownAllDigitalOut returns all pins to their default states
func ShutdownAllDigitalOut() {
	for _, dout := range digitalOutputs {
		_ = dout.set(dout.Flags&DF_DEFAULT_ON != 0)
	}
}
