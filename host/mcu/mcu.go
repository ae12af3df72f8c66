// Package mcu is the host-side client of the SPI firmware
package mcu

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"spimaster/host/serial"
	"spimaster/protocol"
)

var (
	ErrNoDictionary    = errors.New("dictionary not loaded")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrUnknownBus      = errors.New("unknown SPI bus")
	ErrUnsupportedType = errors.New("unsupported argument type")
)

// IDs the host must know before it has the dictionary
const (
	identifyResponseID = 0
	identifyID         = 1
)

// identifyChunkSize keeps identify_response inside one frame
const identifyChunkSize = 40

// Config is the reply to get_config
type Config struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
}

type chunk struct {
	offset uint32
	data   []byte
}

// Client talks to one MCU
type Client struct {
	transport *protocol.HostTransport
	log       *slog.Logger

	dictionary     *Dictionary
	dictionaryData []byte

	identify chan chunk
	config   chan Config

	mu             sync.Mutex
	transfers      map[uint8][]chan []byte
	shutdownReason string
}

// Connect opens the serial port described by cfg
func Connect(cfg *serial.Config, log *slog.Logger) (*Client, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return New(port, log), nil
}

// New creates a client over an open port
func New(port io.ReadWriteCloser, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		transport: protocol.NewHostTransport(port, log),
		log:       log.With("component", "mcu"),
		identify:  make(chan chunk, 1),
		config:    make(chan Config, 1),
		transfers: make(map[uint8][]chan []byte),
	}
	c.transport.SetResponseHandler(c.handleResponse)
	return c
}

// Close closes the connection to the MCU
func (c *Client) Close() error {
	return c.transport.Close()
}

// Dictionary returns the parsed dictionary, or nil before RetrieveDictionary
func (c *Client) Dictionary() *Dictionary {
	return c.dictionary
}

// DictionaryRaw returns the dictionary JSON
func (c *Client) DictionaryRaw() []byte {
	return c.dictionaryData
}

// ShutdownReason returns the reason of the last shutdown report
func (c *Client) ShutdownReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownReason
}

// RetrieveDictionary downloads and parses the dictionary
func (c *Client) RetrieveDictionary(ctx context.Context) error {
	var buf bytes.Buffer
	for {
		data, err := c.identifyChunk(ctx, uint32(buf.Len()))
		if err != nil {
			return fmt.Errorf("dictionary chunk at offset %d: %w", buf.Len(), err)
		}
		buf.Write(data)
		if len(data) < identifyChunkSize {
			break
		}
	}
	c.log.Debug("dictionary retrieved", "bytes", buf.Len())

	dict, err := ParseDictionary(buf.Bytes())
	if err != nil {
		return err
	}
	c.dictionaryData = buf.Bytes()
	c.dictionary = dict
	c.log.Info("connected", "version", dict.Version, "commands", len(dict.Commands))
	return nil
}

func (c *Client) identifyChunk(ctx context.Context, offset uint32) ([]byte, error) {
	err := c.transport.SendCommand(ctx, identifyID, func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQUint(output, identifyChunkSize)
	})
	if err != nil {
		return nil, err
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	for {
		select {
		case ch := <-c.identify:
			if ch.offset != offset {
				continue
			}
			return ch.data, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Command sends a named command. Integer and bool arguments are sent as VLQ
// integers, []byte and string arguments length-prefixed.
func (c *Client) Command(ctx context.Context, name string, args ...interface{}) error {
	if c.dictionary == nil {
		return ErrNoDictionary
	}
	id, ok := c.dictionary.CommandID(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	var encodeErr error
	err := c.transport.SendCommand(ctx, id, func(output protocol.OutputBuffer) {
		encodeErr = encodeArgs(output, args)
	})
	if encodeErr != nil {
		return fmt.Errorf("%s: %w", name, encodeErr)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	c.log.Debug("command", "name", name)
	return nil
}

func encodeArgs(output protocol.OutputBuffer, args []interface{}) error {
	for _, a := range args {
		switch v := a.(type) {
		case uint8:
			protocol.EncodeVLQUint(output, uint32(v))
		case uint16:
			protocol.EncodeVLQUint(output, uint32(v))
		case uint32:
			protocol.EncodeVLQUint(output, v)
		case int:
			protocol.EncodeVLQInt(output, int32(v))
		case int32:
			protocol.EncodeVLQInt(output, v)
		case bool:
			if v {
				protocol.EncodeVLQUint(output, 1)
			} else {
				protocol.EncodeVLQUint(output, 0)
			}
		case []byte:
			protocol.EncodeVLQBytes(output, v)
		case string:
			protocol.EncodeVLQString(output, v)
		default:
			return fmt.Errorf("%w: %T", ErrUnsupportedType, a)
		}
	}
	return nil
}

// GetConfig queries the configuration state
func (c *Client) GetConfig(ctx context.Context) (Config, error) {
	select {
	case <-c.config:
	default:
	}
	if err := c.Command(ctx, "get_config"); err != nil {
		return Config{}, err
	}
	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	select {
	case cfg := <-c.config:
		return cfg, nil
	case <-ctx.Done():
		return Config{}, ctx.Err()
	}
}

// FinalizeConfig marks the configuration complete under crc
func (c *Client) FinalizeConfig(ctx context.Context, crc uint32) error {
	return c.Command(ctx, "finalize_config", crc)
}

// ConfigReset leaves shutdown and forgets every configured device
func (c *Client) ConfigReset(ctx context.Context) error {
	return c.Command(ctx, "config_reset")
}

// EmergencyStop shuts the firmware down
func (c *Client) EmergencyStop(ctx context.Context) error {
	return c.Command(ctx, "emergency_stop")
}

// ConfigureSPI defines device oid with a GPIO chip select
func (c *Client) ConfigureSPI(ctx context.Context, oid uint8, pin uint32, activeHigh bool) error {
	return c.Command(ctx, "config_spi", oid, pin, activeHigh)
}

// ConfigureSPIWithoutCS defines device oid without chip select
func (c *Client) ConfigureSPIWithoutCS(ctx context.Context, oid uint8) error {
	return c.Command(ctx, "config_spi_without_cs", oid)
}

// ConfigureSPIShutdown sets the message sent to spiOID when the firmware shuts down
func (c *Client) ConfigureSPIShutdown(ctx context.Context, oid, spiOID uint8, msg []byte) error {
	return c.Command(ctx, "config_spi_shutdown", oid, spiOID, msg)
}

// SetBus attaches device oid to bus with an SPI mode and maximum rate in Hz
func (c *Client) SetBus(ctx context.Context, oid uint8, bus uint32, mode uint8, rate uint32) error {
	return c.Command(ctx, "spi_set_bus", oid, bus, mode, rate)
}

// ConfigureDigitalOut defines output oid on pin with its initial and shutdown levels
func (c *Client) ConfigureDigitalOut(ctx context.Context, oid uint8, pin uint32, value, defaultValue bool) error {
	return c.Command(ctx, "config_digital_out", oid, pin, value, defaultValue)
}

// UpdateDigitalOut drives output oid
func (c *Client) UpdateDigitalOut(ctx context.Context, oid uint8, value bool) error {
	return c.Command(ctx, "update_digital_out", oid, value)
}

// BusID resolves a bus name such as "spi1" from the dictionary
func (c *Client) BusID(name string) (uint32, error) {
	if c.dictionary == nil {
		return 0, ErrNoDictionary
	}
	id, ok := c.dictionary.Enumeration("spi_bus", name)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownBus, name)
	}
	return uint32(id), nil
}

// Transfer exchanges data with device oid and returns the bytes clocked in
func (c *Client) Transfer(ctx context.Context, oid uint8, data []byte) ([]byte, error) {
	wait := make(chan []byte, 1)
	c.mu.Lock()
	c.transfers[oid] = append(c.transfers[oid], wait)
	c.mu.Unlock()

	if err := c.Command(ctx, "spi_transfer", oid, data); err != nil {
		c.forget(oid, wait)
		return nil, err
	}

	ctx, cancel := withDefaultTimeout(ctx)
	defer cancel()
	select {
	case resp := <-wait:
		return resp, nil
	case <-ctx.Done():
		c.forget(oid, wait)
		return nil, fmt.Errorf("spi_transfer oid=%d: %w", oid, ctx.Err())
	}
}

// Send writes data to device oid, discarding received bytes
func (c *Client) Send(ctx context.Context, oid uint8, data []byte) error {
	return c.Command(ctx, "spi_send", oid, data)
}

func (c *Client) forget(oid uint8, wait chan []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	waiters := c.transfers[oid]
	for i, w := range waiters {
		if w == wait {
			c.transfers[oid] = append(waiters[:i], waiters[i+1:]...)
			return
		}
	}
}

// handleResponse runs on the transport reader goroutine
func (c *Client) handleResponse(cmdID uint16, data *[]byte) error {
	if cmdID == identifyResponseID {
		offset, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		payload, err := protocol.DecodeVLQBytes(data)
		if err != nil {
			return err
		}
		replace(c.identify, chunk{offset: offset, data: append([]byte(nil), payload...)})
		return nil
	}

	name := ""
	if c.dictionary != nil {
		name, _ = c.dictionary.ResponseName(cmdID)
	}
	switch name {
	case "spi_transfer_response":
		oid, err := protocol.DecodeVLQUint(data)
		if err != nil {
			return err
		}
		resp, err := protocol.DecodeVLQBytes(data)
		if err != nil {
			return err
		}
		c.deliver(uint8(oid), append([]byte(nil), resp...))
	case "config":
		vals := make([]uint32, 3)
		for i := range vals {
			v, err := protocol.DecodeVLQUint(data)
			if err != nil {
				return err
			}
			vals[i] = v
		}
		replace(c.config, Config{IsConfig: vals[0] != 0, CRC: vals[1], IsShutdown: vals[2] != 0})
	case "shutdown":
		reason, err := protocol.DecodeVLQString(data)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.shutdownReason = reason
		c.mu.Unlock()
		c.log.Warn("mcu shutdown", "reason", reason)
	default:
		c.log.Debug("response", "id", cmdID, "name", name, "len", len(*data))
		*data = nil
	}
	return nil
}

func (c *Client) deliver(oid uint8, resp []byte) {
	c.mu.Lock()
	waiters := c.transfers[oid]
	if len(waiters) == 0 {
		c.mu.Unlock()
		c.log.Debug("unsolicited transfer response", "oid", oid)
		return
	}
	wait := waiters[0]
	c.transfers[oid] = waiters[1:]
	c.mu.Unlock()
	wait <- resp
}

// replace delivers v to a one-slot channel, dropping any stale value
func replace[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func withDefaultTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, protocol.DefaultAckTimeout)
}

// Ping is a round trip through get_config, measuring latency
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := c.GetConfig(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}
