package gaussdbproto

import (
	"encoding/binary"
	"io"
)

// MinWriteBufferSize is the smallest size a WriteBuffer may have. Every fixed size part of a message must fit in an
// empty buffer or an incremental encoder could never make progress.
const MinWriteBufferSize = 64

// OutputBuffer is a bounded region that messages are serialized into before being flushed to the wire. Callers must
// check WriteSpaceLeft before putting data. The Put methods do not grow the buffer.
type OutputBuffer interface {
	// WriteSpaceLeft returns the number of bytes that can be put before the buffer must be flushed.
	WriteSpaceLeft() int

	PutByte(b byte)
	PutInt16(n int16)
	PutInt32(n int32)

	// PutBytes copies p into the buffer. len(p) must not exceed WriteSpaceLeft.
	PutBytes(p []byte)
}

// WriteBuffer is a fixed size OutputBuffer in front of an io.Writer.
type WriteBuffer struct {
	w   io.Writer
	buf []byte

	// buf[flushed:len(buf)] has been put but not yet written to w.
	flushed int
}

// NewWriteBuffer returns a WriteBuffer with a capacity of size bytes. size is raised to MinWriteBufferSize if it is
// smaller.
func NewWriteBuffer(w io.Writer, size int) *WriteBuffer {
	if size < MinWriteBufferSize {
		size = MinWriteBufferSize
	}
	return &WriteBuffer{w: w, buf: make([]byte, 0, size)}
}

func (b *WriteBuffer) WriteSpaceLeft() int {
	return cap(b.buf) - len(b.buf)
}

// Size returns the capacity of the buffer.
func (b *WriteBuffer) Size() int {
	return cap(b.buf)
}

// Buffered returns the number of bytes put but not yet written to the underlying writer.
func (b *WriteBuffer) Buffered() int {
	return len(b.buf) - b.flushed
}

func (b *WriteBuffer) PutByte(c byte) {
	b.buf = append(b.buf, c)
}

func (b *WriteBuffer) PutInt16(n int16) {
	b.buf = binary.BigEndian.AppendUint16(b.buf, uint16(n))
}

func (b *WriteBuffer) PutInt32(n int32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, uint32(n))
}

func (b *WriteBuffer) PutBytes(p []byte) {
	if len(p) > b.WriteSpaceLeft() {
		panic("BUG: PutBytes exceeds write space left")
	}
	b.buf = append(b.buf, p...)
}

// Flush writes all buffered bytes to the underlying writer. If the writer fails after accepting only part of the
// buffered bytes the remainder stays buffered and a later Flush continues from there. No byte is ever written twice.
func (b *WriteBuffer) Flush() error {
	for b.flushed < len(b.buf) {
		n, err := b.w.Write(b.buf[b.flushed:])
		b.flushed += n
		if err != nil {
			b.compact()
			return err
		}
		if n == 0 {
			b.compact()
			return io.ErrShortWrite
		}
	}

	b.buf = b.buf[:0]
	b.flushed = 0
	return nil
}

func (b *WriteBuffer) compact() {
	if b.flushed == 0 {
		return
	}
	n := copy(b.buf[:cap(b.buf)], b.buf[b.flushed:])
	b.buf = b.buf[:n]
	b.flushed = 0
}
