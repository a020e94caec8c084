package gaussdbproto

import (
	"encoding/binary"
	"errors"
	"io"
)

// MinReadBufferSize is the smallest size a ReadBuffer may have.
const MinReadBufferSize = 128

// InputBuffer is a bounded readable region over a stream of messages. After a successful Ensure(n) at least n bytes
// are buffered and may be consumed with the typed readers without further I/O.
type InputBuffer interface {
	Ensure(n int) error
	Buffered() int

	Byte() byte
	Int16() int16
	Int32() int32
	Int64() int64

	// Next returns the next n buffered bytes. The slice is only valid until the next call to Ensure.
	Next(n int) []byte
}

// ReadBuffer is an InputBuffer over an io.Reader.
type ReadBuffer struct {
	r io.Reader

	buf    []byte
	rp, wp int // buf[rp:wp] is buffered and unread

	// origBuf is the buffer allocated at construction. A larger temporary buffer is used when a single Ensure asks
	// for more than fits in origBuf. origBuf is restored once the temporary buffer is drained.
	origBuf []byte
}

// NewReadBuffer returns a ReadBuffer with an initial capacity of size bytes.
func NewReadBuffer(r io.Reader, size int) *ReadBuffer {
	if size < MinReadBufferSize {
		size = MinReadBufferSize
	}
	buf := make([]byte, size)
	return &ReadBuffer{r: r, buf: buf, origBuf: buf}
}

func (b *ReadBuffer) Buffered() int {
	return b.wp - b.rp
}

// Ensure reads from the underlying reader until at least n bytes are buffered. On error the buffered bytes are
// retained so a subsequent Ensure can continue.
func (b *ReadBuffer) Ensure(n int) error {
	if b.Buffered() >= n {
		return nil
	}

	if n > len(b.buf)-b.rp {
		b.makeRoom(n)
	}

	for b.Buffered() < n {
		m, err := b.r.Read(b.buf[b.wp:])
		b.wp += m
		if b.Buffered() >= n {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				if b.Buffered() == 0 {
					return io.EOF
				}
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}

	return nil
}

// makeRoom moves the unread bytes to the start of a buffer that can hold at least n bytes.
func (b *ReadBuffer) makeRoom(n int) {
	unread := b.buf[b.rp:b.wp]

	dst := b.buf
	if n > len(b.origBuf) {
		if n > len(b.buf) {
			dst = make([]byte, n)
		}
	} else {
		dst = b.origBuf
	}

	m := copy(dst, unread)
	b.buf = dst
	b.rp = 0
	b.wp = m
}

func (b *ReadBuffer) consumed() {
	if b.rp == b.wp {
		b.rp = 0
		b.wp = 0
		if len(b.buf) != len(b.origBuf) {
			b.buf = b.origBuf
		}
	}
}

func (b *ReadBuffer) Byte() byte {
	c := b.buf[b.rp]
	b.rp++
	b.consumed()
	return c
}

func (b *ReadBuffer) Int16() int16 {
	n := int16(binary.BigEndian.Uint16(b.buf[b.rp:]))
	b.rp += 2
	b.consumed()
	return n
}

func (b *ReadBuffer) Int32() int32 {
	n := int32(binary.BigEndian.Uint32(b.buf[b.rp:]))
	b.rp += 4
	b.consumed()
	return n
}

func (b *ReadBuffer) Int64() int64 {
	n := int64(binary.BigEndian.Uint64(b.buf[b.rp:]))
	b.rp += 8
	b.consumed()
	return n
}

func (b *ReadBuffer) Next(n int) []byte {
	p := b.buf[b.rp : b.rp+n]
	b.rp += n
	if b.rp == b.wp {
		// Keep the current buffer so p stays valid until the next Ensure.
		b.rp = 0
		b.wp = 0
	}
	return p
}

// ReadFull fills p. Bytes already buffered are copied first, the rest is read from the underlying reader directly
// into p without passing through the buffer.
func (b *ReadBuffer) ReadFull(p []byte) (int, error) {
	n := copy(p, b.buf[b.rp:b.wp])
	b.rp += n
	b.consumed()
	if n == len(p) {
		return n, nil
	}

	m, err := io.ReadFull(b.r, p[n:])
	n += m
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Discard skips n bytes.
func (b *ReadBuffer) Discard(n int) error {
	for n > 0 {
		if b.Buffered() == 0 {
			chunk := min(n, len(b.buf))
			if err := b.Ensure(chunk); err != nil {
				return err
			}
		}
		m := min(n, b.Buffered())
		b.rp += m
		n -= m
		b.consumed()
	}
	return nil
}
