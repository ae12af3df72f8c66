// spihost configures an SPI device on the firmware and runs one transfer
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"spimaster/host/mcu"
	"spimaster/host/serial"
)

var (
	device  = flag.String("device", "/dev/ttyACM0", "Serial device path")
	baud    = flag.Int("baud", serial.DefaultBaud, "Baud rate (ignored for USB CDC)")
	oid     = flag.Uint("oid", 0, "Object ID of the SPI device")
	pin     = flag.Int("pin", -1, "Chip-select GPIO pin; negative for no chip select")
	csHigh  = flag.Bool("cs-high", false, "Chip select is active high")
	bus     = flag.String("bus", "spi1", "SPI bus name from the dictionary")
	mode    = flag.Uint("mode", 0, "SPI mode 0-3")
	rate    = flag.Uint("rate", 1_000_000, "Maximum SCK rate in Hz")
	data    = flag.String("data", "", "Hex bytes to transfer, e.g. 9f000000")
	sendOn  = flag.Bool("send", false, "Send only, discard received bytes")
	dict    = flag.Bool("dict", false, "Print the dictionary and exit")
	stop    = flag.Bool("estop", false, "Send emergency_stop and exit")
	timeout = flag.Duration("timeout", 2*time.Second, "Per-command timeout")
	verbose = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(log); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(log *slog.Logger) error {
	payload, err := hex.DecodeString(strings.ReplaceAll(*data, " ", ""))
	if err != nil {
		return fmt.Errorf("invalid -data: %w", err)
	}
	if *mode > 3 {
		return fmt.Errorf("invalid -mode %d", *mode)
	}

	cfg := serial.DefaultConfig(*device)
	cfg.Baud = *baud
	client, err := mcu.Connect(cfg, log)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	step := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, *timeout)
	}

	c, cancel := step()
	err = client.RetrieveDictionary(c)
	cancel()
	if err != nil {
		return fmt.Errorf("retrieve dictionary: %w", err)
	}
	if *dict {
		os.Stdout.Write(client.DictionaryRaw())
		fmt.Println()
		return nil
	}
	if *stop {
		c, cancel := step()
		defer cancel()
		return client.EmergencyStop(c)
	}

	busID, err := client.BusID(*bus)
	if err != nil {
		return err
	}
	id := uint8(*oid)

	c, cancel = step()
	defer cancel()
	if *pin >= 0 {
		err = client.ConfigureSPI(c, id, uint32(*pin), *csHigh)
	} else {
		err = client.ConfigureSPIWithoutCS(c, id)
	}
	if err != nil {
		return err
	}
	if err := client.SetBus(c, id, busID, uint8(*mode), uint32(*rate)); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}

	c, cancel = step()
	defer cancel()
	if *sendOn {
		return client.Send(c, id, payload)
	}
	start := time.Now()
	resp, err := client.Transfer(c, id, payload)
	if err != nil {
		if reason := client.ShutdownReason(); reason != "" {
			return fmt.Errorf("%w (mcu shutdown: %s)", err, reason)
		}
		return err
	}
	log.Debug("transfer complete", "bytes", len(resp), "elapsed", time.Since(start))
	fmt.Println(hex.EncodeToString(resp))
	return nil
}
