//go:build tinygo && (stm32f4 || stm32f7)

package stm32

import (
	"device/arm"
	"runtime/interrupt"
)

// NVICLine is a peripheral interrupt request line. TinyGo binds vectors at
// compile time, so the board creates the vector with interrupt.New and calls
// Dispatch from it; the engine attaches whatever handler it needs.
type NVICLine struct {
	IRQ     interrupt.Interrupt
	num     uint32
	handler func()
}

// NewNVICLine creates the line for IRQ number num
func NewNVICLine(num uint32) *NVICLine {
	return &NVICLine{num: num}
}

// Dispatch runs the attached handler, if any
func (l *NVICLine) Dispatch() {
	if h := l.handler; h != nil {
		h()
	}
}

// Attach implements core.InterruptLine
func (l *NVICLine) Attach(handler func()) {
	l.handler = handler
	l.IRQ.Enable()
}

// Detach implements core.InterruptLine
func (l *NVICLine) Detach() {
	l.IRQ.Disable()
	l.handler = nil
}

// ClearPending implements core.InterruptLine
func (l *NVICLine) ClearPending() {
	arm.NVIC.ICPR[l.num>>5].Set(1 << (l.num & 31))
}
