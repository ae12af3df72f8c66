package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScratchOutputOverflow(t *testing.T) {
	out := NewScratchOutput()
	out.Output(make([]byte, MessagePayloadMax-1))
	assert.False(t, out.Overflowed())

	out.Output([]byte{1, 2})
	assert.True(t, out.Overflowed())
	assert.Len(t, out.Result(), MessagePayloadMax)

	out.Reset()
	assert.False(t, out.Overflowed())
	assert.Empty(t, out.Result())
}

func TestFifoBuffer(t *testing.T) {
	f := NewFifoBuffer(8)
	assert.True(t, f.IsEmpty())

	assert.Equal(t, 5, f.Write([]byte{1, 2, 3, 4, 5}))
	f.Pop(3)
	assert.Equal(t, []byte{4, 5}, f.Data())

	// Compaction makes room at the front
	assert.Equal(t, 6, f.Write([]byte{6, 7, 8, 9, 10, 11}))
	assert.Equal(t, []byte{4, 5, 6, 7, 8, 9, 10, 11}, f.Data())
	assert.Equal(t, 0, f.Free())
	assert.Equal(t, 0, f.Write([]byte{12}))

	buf := make([]byte, 3)
	assert.Equal(t, 3, f.Read(buf))
	assert.Equal(t, []byte{4, 5, 6}, buf)
	assert.Equal(t, 5, f.Available())

	f.Pop(100)
	assert.True(t, f.IsEmpty())
}

func TestSliceInputBuffer(t *testing.T) {
	in := NewSliceInputBuffer([]byte{1, 2, 3})
	in.Pop(2)
	assert.Equal(t, []byte{3}, in.Data())
	in.Pop(5)
	assert.Empty(t, in.Data())
}
