package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// ErrTransportClosed is returned once the transport has been closed
var ErrTransportClosed = errors.New("transport closed")

// DefaultAckTimeout bounds SendCommand when the context has no deadline
const DefaultAckTimeout = 2 * time.Second

// ResponseHandler receives each message of a response frame. It must consume
// the message arguments from data.
type ResponseHandler func(cmdID uint16, data *[]byte) error

// Message is a response frame received from the MCU
type Message struct {
	Sequence uint8
	Payload  []byte
}

// HostTransport is the host side of the link: it frames commands, waits for
// their acknowledgement and delivers responses from a background reader.
type HostTransport struct {
	port io.ReadWriteCloser
	log  *slog.Logger

	sendMu sync.Mutex
	seq    uint8

	handlerMu sync.RWMutex
	handler   ResponseHandler

	acks      chan Frame
	responses chan Message
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port
func NewHostTransport(port io.ReadWriteCloser, log *slog.Logger) *HostTransport {
	if log == nil {
		log = slog.Default()
	}
	t := &HostTransport{
		port:      port,
		log:       log.With("component", "transport"),
		seq:       MessageDest,
		acks:      make(chan Frame, 1),
		responses: make(chan Message, 16),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits for its acknowledgement. Without a
// context deadline DefaultAckTimeout applies.
func (t *HostTransport) SendCommand(ctx context.Context, cmdID uint16, args func(output OutputBuffer)) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultAckTimeout)
		defer cancel()
	}

	var scratch ScratchOutput
	EncodeVLQUint(&scratch, uint32(cmdID))
	if args != nil {
		args(&scratch)
	}
	if scratch.Overflowed() {
		return fmt.Errorf("command %d: %w", cmdID, ErrFrameTooLong)
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	frame, err := AppendFrame(nil, t.seq, scratch.Result())
	if err != nil {
		return err
	}
	t.drainAcks()
	if _, err := t.port.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	t.log.Debug("sent", "cmd", cmdID, "seq", t.seq, "len", len(frame))

	want := NextSequence(t.seq)
	for {
		select {
		case ack := <-t.acks:
			if ack.Sequence != want {
				t.log.Debug("stale ack", "seq", ack.Sequence, "want", want)
				continue
			}
			t.seq = want
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for ack of seq 0x%02x: %w", t.seq, ctx.Err())
		case <-t.stop:
			return ErrTransportClosed
		}
	}
}

// ReceiveResponse returns the next response frame
func (t *HostTransport) ReceiveResponse(ctx context.Context) (Message, error) {
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-t.stop:
		return Message{}, ErrTransportClosed
	}
}

// SetResponseHandler installs a handler called from the reader goroutine
// for every message of every response frame
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handlerMu.Lock()
	t.handler = handler
	t.handlerMu.Unlock()
}

// Sequence returns the sequence of the next command frame
func (t *HostTransport) Sequence() uint8 {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	return t.seq
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	in := NewFifoBuffer(4 * MessageLengthMax)
	scanner := NewScanner()
	buf := make([]byte, MessageLengthMax)
	for {
		n, err := t.port.Read(buf[:min(len(buf), in.Free())])
		if n > 0 {
			in.Write(buf[:n])
			t.process(scanner, in)
		}
		if err != nil {
			select {
			case <-t.stop:
			default:
				if !errors.Is(err, io.EOF) {
					t.log.Warn("read failed", "err", err)
				}
			}
			return
		}
	}
}

func (t *HostTransport) process(scanner *Scanner, in *FifoBuffer) {
	for {
		f, n, ok, resynced := scanner.Next(in.Data())
		if resynced {
			t.log.Debug("resynchronized")
		}
		if !ok {
			in.Pop(n)
			if n == 0 && in.Free() == 0 {
				scanner.Desync()
				continue
			}
			return
		}
		f.Payload = append([]byte(nil), f.Payload...)
		in.Pop(n)
		t.dispatch(f)
	}
}

func (t *HostTransport) dispatch(f Frame) {
	if f.IsAck() {
		offer(t.acks, f)
		return
	}

	t.handlerMu.RLock()
	handler := t.handler
	t.handlerMu.RUnlock()
	if handler != nil {
		data := f.Payload
		for len(data) > 0 {
			cmdID, err := DecodeVLQUint(&data)
			if err == nil {
				err = handler(uint16(cmdID), &data)
			}
			if err != nil {
				t.log.Warn("response dropped", "err", err)
				break
			}
		}
	}

	offer(t.responses, Message{Sequence: f.Sequence, Payload: f.Payload})
}

// offer delivers v, discarding the oldest queued value if ch is full
func offer[T any](ch chan T, v T) {
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
