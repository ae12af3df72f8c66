package core

// ResetSPIState forgets every bus and device between tests
func ResetSPIState() {
	spiBuses = make(map[uint32]*SPIBus)
	spiBusNames = nil
	spiDevices = make(map[uint8]*SPIDevice)
}
