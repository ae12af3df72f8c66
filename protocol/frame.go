package protocol

import "errors"

var (
	ErrNeedMore     = errors.New("incomplete frame")
	ErrBadFrame     = errors.New("malformed frame")
	ErrFrameTooLong = errors.New("payload exceeds frame size")
)

// Frame is one decoded frame. Payload aliases the scanned input.
type Frame struct {
	Sequence uint8
	Payload  []byte
}

// IsAck reports whether the frame carries no messages
func (f Frame) IsAck() bool {
	return len(f.Payload) == 0
}

// AppendFrame appends a complete frame carrying payload to dst
func AppendFrame(dst []byte, seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return dst, ErrFrameTooLong
	}
	start := len(dst)
	dst = append(dst, byte(len(payload)+MessageLengthMin), seq)
	dst = append(dst, payload...)
	crc := CRC16(dst[start:])
	return append(dst, byte(crc>>8), byte(crc), MessageValueSync), nil
}

// ScanFrame decodes the frame at the start of data and returns it with the
// number of bytes it occupies. ErrNeedMore means data holds a valid prefix;
// ErrBadFrame means the leading byte cannot start a frame and the caller
// should resynchronize with SkipToSync.
func ScanFrame(data []byte) (Frame, int, error) {
	if len(data) < MessageLengthMin {
		return Frame{}, 0, ErrNeedMore
	}
	n := int(data[MessagePositionLen])
	if n < MessageLengthMin || n > MessageLengthMax {
		return Frame{}, 0, ErrBadFrame
	}
	if data[MessagePositionSeq]&^MessageSeqMask != MessageDest {
		return Frame{}, 0, ErrBadFrame
	}
	if len(data) < n {
		return Frame{}, 0, ErrNeedMore
	}
	if data[n-MessageTrailerSync] != MessageValueSync {
		return Frame{}, 0, ErrBadFrame
	}
	crc := uint16(data[n-MessageTrailerCRC])<<8 | uint16(data[n-MessageTrailerCRC+1])
	if crc != CRC16(data[:n-MessageTrailerSize]) {
		return Frame{}, 0, ErrBadFrame
	}
	return Frame{
		Sequence: data[MessagePositionSeq],
		Payload:  data[MessageHeaderSize : n-MessageTrailerSize],
	}, n, nil
}

// SkipToSync returns the number of bytes up to and including the next sync
// byte, or len(data) if there is none
func SkipToSync(data []byte) int {
	for i, b := range data {
		if b == MessageValueSync {
			return i + 1
		}
	}
	return len(data)
}

// Scanner splits a byte stream into frames, resynchronizing on the sync byte
// after corruption
type Scanner struct {
	synced bool
}

// NewScanner creates a synchronized scanner
func NewScanner() *Scanner {
	return &Scanner{synced: true}
}

// Synchronized reports whether the scanner is aligned on frame boundaries
func (s *Scanner) Synchronized() bool {
	return s.synced
}

// Desync forces the scanner to drop input until the next sync byte
func (s *Scanner) Desync() {
	s.synced = false
}

// Next returns the next frame in data and the bytes consumed, which may be
// nonzero even when ok is false. resynced reports that the scanner recovered
// alignment while consuming.
func (s *Scanner) Next(data []byte) (frame Frame, consumed int, ok, resynced bool) {
	for consumed < len(data) {
		rest := data[consumed:]
		if !s.synced {
			skip := SkipToSync(rest)
			consumed += skip
			if rest[skip-1] == MessageValueSync {
				s.synced = true
				resynced = true
			}
			continue
		}
		if rest[0] == MessageValueSync {
			consumed++
			continue
		}
		f, n, err := ScanFrame(rest)
		switch err {
		case nil:
			return f, consumed + n, true, resynced
		case ErrNeedMore:
			return Frame{}, consumed, false, resynced
		default:
			s.synced = false
		}
	}
	return Frame{}, consumed, false, resynced
}
