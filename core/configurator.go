package core

// GPIOChipSelect drives a chip-select pin for the duration of a session
type GPIOChipSelect struct {
	driver     GPIODriver
	pin        GPIOPin
	activeHigh bool
}

// NewGPIOChipSelect configures pin as an output in its inactive state
func NewGPIOChipSelect(driver GPIODriver, pin GPIOPin, activeHigh bool) (*GPIOChipSelect, error) {
	cs := &GPIOChipSelect{driver: driver, pin: pin, activeHigh: activeHigh}
	if err := driver.ConfigureOutput(pin); err != nil {
		return nil, err
	}
	if err := driver.SetPin(pin, !activeHigh); err != nil {
		return nil, err
	}
	return cs, nil
}

// Pin returns the chip-select pin
func (cs *GPIOChipSelect) Pin() GPIOPin {
	return cs.pin
}

// StartSession asserts chip select
func (cs *GPIOChipSelect) StartSession() {
	cs.drive(cs.activeHigh)
}

// EndSession releases chip select
func (cs *GPIOChipSelect) EndSession() {
	cs.drive(!cs.activeHigh)
}

// drive may run in interrupt context; a failure is traced, not returned
func (cs *GPIOChipSelect) drive(level bool) {
	if err := cs.driver.SetPin(cs.pin, level); err != nil {
		RecordTrace(TraceCSFault, uint32(cs.pin), boolToUint(level))
		DebugPrintln("[SPI] chip select did not toggle")
	}
}

// BusSettingsConfigurator switches the bus to device-specific settings while
// attached to an SPIMaster and restores the bus defaults afterwards
type BusSettingsConfigurator struct {
	regs     SPIRegisters
	settings SPIBusSettings
	defaults SPIBusSettings
}

// NewBusSettingsConfigurator validates both settings without touching the
// peripheral, which may be in the middle of a transfer
func NewBusSettingsConfigurator(regs SPIRegisters, settings, defaults SPIBusSettings) (*BusSettingsConfigurator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &BusSettingsConfigurator{regs: regs, settings: settings, defaults: defaults}, nil
}

// Settings returns the device-specific settings
func (c *BusSettingsConfigurator) Settings() SPIBusSettings {
	return c.settings
}

// ActivateConfiguration applies the device-specific settings
func (c *BusSettingsConfigurator) ActivateConfiguration() {
	if err := c.regs.SetBusSettings(c.settings); err != nil {
		Fatal(ReasonBusSettings)
	}
}

// DeactivateConfiguration restores the bus defaults
func (c *BusSettingsConfigurator) DeactivateConfiguration() {
	if err := c.regs.SetBusSettings(c.defaults); err != nil {
		Fatal(ReasonBusSettings)
	}
}
