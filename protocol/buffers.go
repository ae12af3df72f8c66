package protocol

// InputBuffer holds received bytes awaiting frame parsing
type InputBuffer interface {
	// Data returns the buffered bytes, oldest first
	Data() []byte
	// Pop discards n bytes from the front
	Pop(n int)
}

// OutputBuffer accepts encoded bytes
type OutputBuffer interface {
	Output(data []byte)
}

// SliceInputBuffer is an InputBuffer over a fixed slice
type SliceInputBuffer struct {
	data []byte
}

// NewSliceInputBuffer wraps data
func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte { return s.data }

func (s *SliceInputBuffer) Pop(n int) {
	s.data = s.data[min(n, len(s.data)):]
}

// ScratchOutput collects one message payload. Writes past the largest
// payload a frame can carry are dropped and flagged.
type ScratchOutput struct {
	buf      [MessagePayloadMax]byte
	pos      int
	overflow bool
}

// NewScratchOutput creates an empty scratch buffer
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

// Result returns the bytes written so far
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Overflowed reports whether any write was truncated
func (s *ScratchOutput) Overflowed() bool {
	return s.overflow
}

// Reset empties the buffer
func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// FifoBuffer is a bounded byte queue used for serial input and output.
// Data is kept contiguous so frames can be parsed in place.
type FifoBuffer struct {
	buf  []byte
	head int
	tail int
}

// NewFifoBuffer creates a queue holding up to capacity bytes
func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{buf: make([]byte, capacity)}
}

// Write appends as much of data as fits and returns the count written
func (f *FifoBuffer) Write(data []byte) int {
	if f.head > 0 && len(f.buf)-f.tail < len(data) {
		f.compact()
	}
	n := copy(f.buf[f.tail:], data)
	f.tail += n
	return n
}

// Output implements OutputBuffer
func (f *FifoBuffer) Output(data []byte) {
	f.Write(data)
}

// Read moves up to len(data) bytes out of the queue
func (f *FifoBuffer) Read(data []byte) int {
	n := copy(data, f.buf[f.head:f.tail])
	f.Pop(n)
	return n
}

// Data returns the queued bytes without consuming them
func (f *FifoBuffer) Data() []byte {
	return f.buf[f.head:f.tail]
}

// Pop discards n queued bytes
func (f *FifoBuffer) Pop(n int) {
	f.head += min(n, f.tail-f.head)
	if f.head == f.tail {
		f.head, f.tail = 0, 0
	}
}

// Available returns the number of queued bytes
func (f *FifoBuffer) Available() int {
	return f.tail - f.head
}

// Free returns the number of bytes that can still be written
func (f *FifoBuffer) Free() int {
	return len(f.buf) - f.Available()
}

// IsEmpty reports whether the queue is empty
func (f *FifoBuffer) IsEmpty() bool {
	return f.head == f.tail
}

// Reset discards all queued bytes
func (f *FifoBuffer) Reset() {
	f.head, f.tail = 0, 0
}

func (f *FifoBuffer) compact() {
	n := copy(f.buf, f.buf[f.head:f.tail])
	f.head, f.tail = 0, n
}
