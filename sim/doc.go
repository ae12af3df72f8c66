// Package sim simulates an SPI peripheral, its interrupt line, GPIO pins and
// slave devices so that the interrupt-driven master can run on a host.
//
// The peripheral follows the usual single-buffered SPI data register: a write
// lands in a one-byte transmit buffer and moves to the shift register as soon
// as it is free, so transmit-ready reasserts while the first byte is still on
// the wire. Each Step either services a pending interrupt by calling the
// attached handler or shifts one byte to the connected slaves.
package sim
