package protocol

// CommandHandler decodes and executes one command. It must consume exactly
// the command's arguments from data.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the MCU side of the link. It validates incoming frames,
// enforces sequence order, dispatches each contained command and answers
// every frame with an acknowledgement carrying the next expected sequence.
type Transport struct {
	scanner *Scanner
	nextSeq uint8
	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()
	errorCallback func(error)

	rx      [MessagePayloadMax]byte
	scratch ScratchOutput
	frame   [MessageLengthMax]byte
}

// NewTransport creates a transport writing frames to output
func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	return &Transport{
		scanner: NewScanner(),
		nextSeq: MessageDest,
		output:  output,
		handler: handler,
	}
}

// Receive consumes complete frames from input. Each frame is removed from
// input before its commands run, so a handler that panics never causes the
// frame to be processed twice.
func (t *Transport) Receive(input InputBuffer) {
	for {
		f, n, ok, resynced := t.scanner.Next(input.Data())
		if ok {
			size := copy(t.rx[:], f.Payload)
			f.Payload = t.rx[:size]
		}
		input.Pop(n)
		if resynced {
			t.sendAck()
		}
		if !ok {
			return
		}
		t.handleFrame(f)
	}
}

func (t *Transport) handleFrame(f Frame) {
	defer t.sendAck()

	if f.Sequence == MessageDest && t.nextSeq != MessageDest {
		t.nextSeq = MessageDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}
	if f.Sequence != t.nextSeq {
		return
	}
	t.nextSeq = NextSequence(f.Sequence)

	payload := f.Payload
	for len(payload) > 0 {
		cmdID, err := DecodeVLQUint(&payload)
		if err != nil {
			t.scanner.Desync()
			t.report(err)
			return
		}
		if t.handler == nil {
			return
		}
		if err := t.handler(uint16(cmdID), &payload); err != nil {
			t.report(err)
			return
		}
	}
}

func (t *Transport) report(err error) {
	if t.errorCallback != nil {
		t.errorCallback(err)
	}
}

// sendAck emits an empty frame and flushes the output, which also pushes out
// the responses written while the frame was dispatched
func (t *Transport) sendAck() {
	frame, _ := AppendFrame(t.frame[:0], t.nextSeq, nil)
	t.output.Output(frame)
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// SendCommand encodes one message and writes it as a frame
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	t.scratch.Reset()
	EncodeVLQUint(&t.scratch, uint32(cmdID))
	if args != nil {
		args(&t.scratch)
	}
	if t.scratch.Overflowed() {
		return ErrFrameTooLong
	}
	frame, err := AppendFrame(t.frame[:0], t.nextSeq, t.scratch.Result())
	if err != nil {
		return err
	}
	t.output.Output(frame)
	return nil
}

// NextSequence returns the sequence expected in the next host frame
func (t *Transport) NextSequence() uint8 {
	return t.nextSeq
}

// Reset returns the transport to its power-on state
func (t *Transport) Reset() {
	t.scanner = NewScanner()
	t.nextSeq = MessageDest
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback sets the function called when the host restarts its sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback sets the function called after each acknowledgement
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// SetErrorCallback sets the function receiving command decode and handler errors
func (t *Transport) SetErrorCallback(callback func(error)) {
	t.errorCallback = callback
}
