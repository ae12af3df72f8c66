package core

import (
	"errors"

	"spimaster/protocol"
)

var (
	ErrUnknownSPIBus    = errors.New("unknown SPI bus")
	ErrUnknownSPIDevice = errors.New("unknown SPI device")
	ErrSPIBusNotSet     = errors.New("SPI device has no bus")
	ErrSoftwareSPI      = errors.New("software SPI is not supported")
	ErrInvalidSPIMode   = errors.New("SPI mode must be 0-3")
	ErrShutdown         = errors.New("firmware is shut down")
	ErrResetRequired    = errors.New("SPI engine still armed, reset required")
)

// softwareBusFlag marks bus IDs that select a bit-banged bus
const softwareBusFlag = 0x80

// SPIBusConfig describes one hardware SPI bus provided by the target
type SPIBusConfig struct {
	ID       uint32
	Name     string // Enumeration name, e.g. "spi1"
	Master   *SPIMaster
	Regs     SPIRegisters
	ClockHz  uint32 // Peripheral input clock
	Defaults SPIBusSettings
}

// SPIBus serializes requests onto one SPIMaster. A request starts only when
// the previous one has completed, so BeginTransfer is never called on a
// busy engine.
type SPIBus struct {
	cfg    SPIBusConfig
	queue  []*spiRequest
	active *spiRequest
}

type spiRequest struct {
	dev     *SPIDevice
	send    []byte
	receive []byte
	done    func(received []byte)
}

// SPIDevice is a configured SPI slave: an optional chip select and the bus
// parameters applied around each of its transfers
type SPIDevice struct {
	OID         uint8
	Pin         GPIOPin
	HasPin      bool
	ActiveHigh  bool
	ShutdownMsg []byte

	bus           *SPIBus
	chipSelect    *GPIOChipSelect
	communication *BusSettingsConfigurator
}

// Bus returns the bus the device was attached to by spi_set_bus
func (d *SPIDevice) Bus() *SPIBus {
	return d.bus
}

var (
	spiBuses         = make(map[uint32]*SPIBus)
	spiBusNames      []string
	spiDevices       = make(map[uint8]*SPIDevice)
	spiHookInstalled bool
)

// RegisterSPIBus configures the engine with the bus defaults and makes the
// bus available to spi_set_bus
func RegisterSPIBus(cfg SPIBusConfig) (*SPIBus, error) {
	if cfg.ID >= softwareBusFlag {
		return nil, ErrSoftwareSPI
	}
	if err := cfg.Master.Configure(cfg.Defaults); err != nil {
		return nil, err
	}
	bus := &SPIBus{cfg: cfg}
	spiBuses[cfg.ID] = bus

	for uint32(len(spiBusNames)) <= cfg.ID {
		spiBusNames = append(spiBusNames, "")
	}
	spiBusNames[cfg.ID] = cfg.Name
	RegisterEnumeration("spi_bus", spiBusNames)
	RegisterConstant("SPI_BUS_"+itoa(int(cfg.ID))+"_CLOCK", cfg.ClockHz)
	return bus, nil
}

// GetSPIBus returns a registered bus
func GetSPIBus(id uint32) (*SPIBus, bool) {
	bus, ok := spiBuses[id]
	return bus, ok
}

// GetSPIDevice returns a configured device
func GetSPIDevice(oid uint8) (*SPIDevice, bool) {
	dev, ok := spiDevices[oid]
	return dev, ok
}

// ResetSPIDevices forgets every configured device and drops queued requests.
// Buses stay registered.
func ResetSPIDevices() {
	for _, bus := range spiBuses {
		bus.queue = nil
	}
	spiDevices = make(map[uint8]*SPIDevice)
}

// SPIEnginesArmed reports whether any bus engine still holds its interrupt
// line. After a fatal error in the handler the registration is never
// released and only a reset recovers the bus.
func SPIEnginesArmed() bool {
	for _, bus := range spiBuses {
		if bus.cfg.Master.Busy() {
			return true
		}
	}
	return false
}

// Master returns the engine driving the bus
func (b *SPIBus) Master() *SPIMaster {
	return b.cfg.Master
}

// Pending returns the number of requests waiting behind the active one
func (b *SPIBus) Pending() int {
	return len(b.queue)
}

// Idle reports whether no request is active or queued
func (b *SPIBus) Idle() bool {
	return b.active == nil && len(b.queue) == 0
}

// Submit queues a transfer for dev. receive may be nil for a send-only
// transfer. done runs on the main loop with the receive region.
func (b *SPIBus) Submit(dev *SPIDevice, send, receive []byte, done func(received []byte)) {
	b.queue = append(b.queue, &spiRequest{dev: dev, send: send, receive: receive, done: done})
	if b.active == nil {
		b.startNext()
	}
}

func (b *SPIBus) startNext() {
	if len(b.queue) == 0 {
		return
	}
	req := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	b.active = req

	m := b.cfg.Master
	if req.dev.chipSelect != nil {
		m.SetChipSelectConfigurator(req.dev.chipSelect)
	} else {
		m.SetChipSelectConfigurator(nil)
	}
	if req.dev.communication != nil {
		m.SetCommunicationConfigurator(req.dev.communication)
	}
	m.BeginTransfer(req.send, req.receive, EndSession, b.complete)
}

// complete runs from the event dispatcher once the engine has finished
func (b *SPIBus) complete() {
	req := b.active
	b.active = nil
	b.cfg.Master.ResetCommunicationConfigurator()
	if req.done != nil {
		req.done(req.receive)
	}
	b.startNext()
}

// InitSPICommands registers the SPI commands
func InitSPICommands() {
	RegisterCommand("config_spi", "oid=%c pin=%u cs_active_high=%c", handleConfigSPI)
	RegisterCommand("config_spi_without_cs", "oid=%c", handleConfigSPIWithoutCS)
	RegisterCommand("spi_set_bus", "oid=%c spi_bus=%u mode=%u rate=%u", handleSPISetBus)
	RegisterCommand("config_spi_shutdown", "oid=%c spi_oid=%c shutdown_msg=%*s", handleConfigSPIShutdown)
	RegisterCommand("spi_transfer", "oid=%c data=%*s", handleSPITransfer)
	RegisterCommand("spi_send", "oid=%c data=%*s", handleSPISend)
	RegisterResponse("spi_transfer_response", "oid=%c response=%*s")

	if !spiHookInstalled {
		RegisterShutdownHook(ShutdownSPI)
		spiHookInstalled = true
	}
}

func decodeUints(data *[]byte, n int) ([]uint32, error) {
	vals := make([]uint32, n)
	for i := range vals {
		v, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// config_spi oid=%c pin=%u cs_active_high=%c
func handleConfigSPI(data *[]byte) error {
	args, err := decodeUints(data, 3)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	dev := &SPIDevice{
		OID:        uint8(args[0]),
		Pin:        GPIOPin(args[1]),
		HasPin:     true,
		ActiveHigh: args[2] != 0,
	}
	dev.chipSelect, err = NewGPIOChipSelect(MustGPIO(), dev.Pin, dev.ActiveHigh)
	if err != nil {
		return err
	}
	spiDevices[dev.OID] = dev
	return nil
}

// config_spi_without_cs oid=%c
func handleConfigSPIWithoutCS(data *[]byte) error {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	spiDevices[uint8(oid)] = &SPIDevice{OID: uint8(oid)}
	return nil
}

// spi_set_bus oid=%c spi_bus=%u mode=%u rate=%u
func handleSPISetBus(data *[]byte) error {
	args, err := decodeUints(data, 4)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	dev, ok := spiDevices[uint8(args[0])]
	if !ok {
		return ErrUnknownSPIDevice
	}
	busID, mode, rate := args[1], args[2], args[3]
	if busID >= softwareBusFlag {
		return ErrSoftwareSPI
	}
	if mode > 3 {
		return ErrInvalidSPIMode
	}
	bus, ok := spiBuses[busID]
	if !ok {
		return ErrUnknownSPIBus
	}

	settings := bus.cfg.Defaults.WithMode(SPIMode(mode))
	settings.BaudRatePrescaler = PrescalerForRate(bus.cfg.ClockHz, rate)
	comm, err := NewBusSettingsConfigurator(bus.cfg.Regs, settings, bus.cfg.Defaults)
	if err != nil {
		return err
	}
	dev.bus = bus
	dev.communication = comm
	return nil
}

// config_spi_shutdown oid=%c spi_oid=%c shutdown_msg=%*s
func handleConfigSPIShutdown(data *[]byte) error {
	if _, err := protocol.DecodeVLQUint(data); err != nil {
		return err
	}
	spiOID, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	msg, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return err
	}
	if IsShutdown() {
		return ErrShutdown
	}
	dev, ok := spiDevices[uint8(spiOID)]
	if !ok {
		return ErrUnknownSPIDevice
	}
	dev.ShutdownMsg = append([]byte(nil), msg...)
	return nil
}

// decodeTransfer reads "oid=%c data=%*s" and resolves the device
func decodeTransfer(data *[]byte) (*SPIDevice, []byte, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, nil, err
	}
	payload, err := protocol.DecodeVLQBytes(data)
	if err != nil {
		return nil, nil, err
	}
	if IsShutdown() {
		return nil, nil, ErrShutdown
	}
	dev, ok := spiDevices[uint8(oid)]
	if !ok {
		return nil, nil, ErrUnknownSPIDevice
	}
	if dev.bus == nil {
		return nil, nil, ErrSPIBusNotSet
	}
	return dev, append([]byte(nil), payload...), nil
}

// spi_transfer oid=%c data=%*s, answered by spi_transfer_response once the
// engine completes
func handleSPITransfer(data *[]byte) error {
	dev, send, err := decodeTransfer(data)
	if err != nil {
		return err
	}
	dev.bus.Submit(dev, send, make([]byte, len(send)), func(received []byte) {
		err := SendResponse("spi_transfer_response", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(dev.OID))
			protocol.EncodeVLQBytes(output, received)
		})
		if err != nil {
			DebugPrintln("[SPI] response failed: " + err.Error())
		}
	})
	return nil
}

// spi_send oid=%c data=%*s; received bytes are discarded by the engine
func handleSPISend(data *[]byte) error {
	dev, send, err := decodeTransfer(data)
	if err != nil {
		return err
	}
	dev.bus.Submit(dev, send, nil, nil)
	return nil
}

// ShutdownSPI drops queued requests and queues the configured shutdown
// message of every device. A message starts once its bus is idle.
func ShutdownSPI() {
	for _, bus := range spiBuses {
		bus.queue = nil
	}
	for _, dev := range spiDevices {
		if dev.bus == nil || len(dev.ShutdownMsg) == 0 {
			continue
		}
		dev.bus.Submit(dev, dev.ShutdownMsg, nil, nil)
	}
}
