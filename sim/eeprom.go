package sim

// 25xx-series serial EEPROM instructions
const (
	EEPROMWriteStatus  = 0x01
	EEPROMWrite        = 0x02
	EEPROMRead         = 0x03
	EEPROMWriteDisable = 0x04
	EEPROMReadStatus   = 0x05
	EEPROMWriteEnable  = 0x06
)

// EEPROMPageSize is the write page of the simulated device
const EEPROMPageSize = 256

// EEPROM status register bits
const (
	EEPROMStatusWIP = 1 << 0
	EEPROMStatusWEL = 1 << 1
)

type eepromState uint8

const (
	eepromOpcode eepromState = iota
	eepromAddress
	eepromReadData
	eepromWriteData
	eepromStatus
	eepromIgnore
)

// EEPROM models a 25xx serial EEPROM with 24-bit addressing.
// Instructions are framed by chip select: each selection starts a new
// instruction and deselection ends it.
type EEPROM struct {
	Memory []byte

	selected bool
	state    eepromState
	opcode   byte
	address  uint32
	addrLeft int
	wel      bool
	wrote    bool
}

// NewEEPROM creates an erased device of the given size in bytes
func NewEEPROM(size int) *EEPROM {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &EEPROM{Memory: mem}
}

// Select implements Selectable
func (e *EEPROM) Select() {
	e.selected = true
	e.state = eepromOpcode
	e.wrote = false
}

// Deselect implements Selectable. A completed write clears the write latch.
func (e *EEPROM) Deselect() {
	e.selected = false
	if e.wrote {
		e.wel = false
	}
}

// WriteEnabled reports the write enable latch
func (e *EEPROM) WriteEnabled() bool {
	return e.wel
}

// Exchange implements Slave
func (e *EEPROM) Exchange(mosi byte) byte {
	if !e.selected {
		return 0xFF
	}
	switch e.state {
	case eepromOpcode:
		e.opcode = mosi
		switch mosi {
		case EEPROMRead, EEPROMWrite:
			e.state = eepromAddress
			e.address = 0
			e.addrLeft = 3
		case EEPROMWriteEnable:
			e.wel = true
			e.state = eepromIgnore
		case EEPROMWriteDisable:
			e.wel = false
			e.state = eepromIgnore
		case EEPROMReadStatus:
			e.state = eepromStatus
		default:
			e.state = eepromIgnore
		}
		return 0xFF
	case eepromAddress:
		e.address = e.address<<8 | uint32(mosi)
		e.addrLeft--
		if e.addrLeft == 0 {
			e.address %= uint32(len(e.Memory))
			if e.opcode == EEPROMRead {
				e.state = eepromReadData
			} else if e.wel {
				e.state = eepromWriteData
			} else {
				e.state = eepromIgnore
			}
		}
		return 0xFF
	case eepromReadData:
		b := e.Memory[e.address]
		e.address = (e.address + 1) % uint32(len(e.Memory))
		return b
	case eepromWriteData:
		e.Memory[e.address] = mosi
		page := e.address &^ (EEPROMPageSize - 1)
		e.address = page + (e.address+1)%EEPROMPageSize
		e.wrote = true
		return 0xFF
	case eepromStatus:
		var status byte
		if e.wel {
			status |= EEPROMStatusWEL
		}
		return status
	}
	return 0xFF
}
