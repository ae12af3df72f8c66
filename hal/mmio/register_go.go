//go:build !tinygo

package mmio

// Register32 stands in for a memory-mapped register on the host. The hooks
// let tests model registers whose reads or writes have side effects.
type Register32 struct {
	Reg uint32

	// ReadHook, if set, supplies the value of every read
	ReadHook func(stored uint32) uint32
	// WriteHook, if set, observes every write after it is stored
	WriteHook func(v uint32)
}

func (r *Register32) Get() uint32 {
	if r.ReadHook != nil {
		return r.ReadHook(r.Reg)
	}
	return r.Reg
}

func (r *Register32) Set(v uint32) {
	r.Reg = v
	if r.WriteHook != nil {
		r.WriteHook(v)
	}
}

func (r *Register32) SetBits(bits uint32) {
	r.Set(r.Get() | bits)
}

func (r *Register32) ClearBits(bits uint32) {
	r.Set(r.Get() &^ bits)
}

func (r *Register32) HasBits(bits uint32) bool {
	return r.Get()&bits != 0
}

func (r *Register32) ReplaceBits(value, mask uint32, pos uint8) {
	r.Set(r.Get()&^(mask<<pos) | (value&mask)<<pos)
}

// Load8 reads the low byte of r
func Load8(r *Register32) uint8 {
	return uint8(r.Get())
}

// Store8 writes the low byte of r, leaving the upper bits alone
func Store8(r *Register32, v uint8) {
	r.Set(r.Reg&^0xFF | uint32(v))
}
