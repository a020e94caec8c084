package gaussdbproto

import (
	"encoding/binary"
	"fmt"
	"io"
)

const sslRequestNumber = 80877103

// Backend acts as a server for the GaussDB wire protocol version 3. It is used by tests to emulate a server.
type Backend struct {
	rbuf *ReadBuffer
	w    io.Writer

	wbuf        []byte
	encodeError error

	// Frontend message flyweights
	cancelRequest   CancelRequest
	functionCall    FunctionCall
	passwordMessage PasswordMessage
	query           Query
	startupMessage  StartupMessage
	terminate       Terminate

	bodyLen    int
	msgType    byte
	partialMsg bool
}

// NewBackend creates a new Backend.
func NewBackend(r io.Reader, w io.Writer) *Backend {
	return &Backend{rbuf: NewReadBuffer(r, defaultReadBufferSize), w: w}
}

// Send sends a message to the frontend (i.e. the client). The message is buffered until Flush is called. Any error
// encountered will be returned from Flush.
func (b *Backend) Send(msg BackendMessage) {
	if b.encodeError != nil {
		return
	}

	newBuf, err := msg.Encode(b.wbuf)
	if err != nil {
		b.encodeError = err
		return
	}
	b.wbuf = newBuf
}

// Flush writes any pending messages to the frontend (i.e. the client).
func (b *Backend) Flush() error {
	if err := b.encodeError; err != nil {
		b.encodeError = nil
		b.wbuf = b.wbuf[:0]
		return err
	}

	n, err := b.w.Write(b.wbuf)

	const maxLen = 1024
	if len(b.wbuf) > maxLen {
		b.wbuf = make([]byte, 0, maxLen)
	} else {
		b.wbuf = b.wbuf[:0]
	}

	if err != nil {
		return fmt.Errorf("write failed after %d bytes: %w", n, err)
	}

	return nil
}

// SendRaw flushes any pending messages and then writes buf as is. It lets tests send malformed or partial messages.
func (b *Backend) SendRaw(buf []byte) error {
	if err := b.Flush(); err != nil {
		return err
	}
	_, err := b.w.Write(buf)
	return err
}

// ReceiveStartupMessage receives the initial connection message. This method is used of the normal Receive method
// because the initial connection message is "special" and does not include the message type as the first byte. This
// will return either a StartupMessage or a CancelRequest.
func (b *Backend) ReceiveStartupMessage() (FrontendMessage, error) {
	for {
		if err := b.rbuf.Ensure(4); err != nil {
			return nil, err
		}
		msgSize := int(b.rbuf.Int32()) - 4
		if msgSize < 4 || msgSize > MaxMessageBodyLen {
			return nil, fmt.Errorf("invalid length of startup packet: %d", msgSize)
		}

		if err := b.rbuf.Ensure(msgSize); err != nil {
			return nil, translateEOF(err)
		}
		buf := b.rbuf.Next(msgSize)
		code := binary.BigEndian.Uint32(buf)

		switch code {
		case ProtocolVersionNumber:
			if err := b.startupMessage.Decode(buf); err != nil {
				return nil, err
			}
			return &b.startupMessage, nil
		case cancelRequestCode:
			if err := b.cancelRequest.Decode(buf); err != nil {
				return nil, err
			}
			return &b.cancelRequest, nil
		case sslRequestNumber:
			// TLS is not offered.
			if _, err := b.w.Write([]byte{'N'}); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown startup message code: %d", code)
		}
	}
}

// Receive receives a message from the frontend. The returned message is only valid until the next call to Receive.
func (b *Backend) Receive() (FrontendMessage, error) {
	if !b.partialMsg {
		if err := b.rbuf.Ensure(5); err != nil {
			return nil, err
		}

		b.msgType = b.rbuf.Byte()
		msgLength := int(b.rbuf.Int32())
		if msgLength < 4 {
			return nil, fmt.Errorf("invalid message length: %d", msgLength)
		}
		b.bodyLen = msgLength - 4
		if b.bodyLen > MaxMessageBodyLen {
			return nil, &ExceededMaxBodyLenErr{MaxMessageBodyLen, b.bodyLen}
		}
		b.partialMsg = true
	}

	var msg FrontendMessage
	switch b.msgType {
	case 'F':
		msg = &b.functionCall
	case 'p':
		msg = &b.passwordMessage
	case 'Q':
		msg = &b.query
	case 'X':
		msg = &b.terminate
	default:
		return nil, fmt.Errorf("unknown message type: %c", b.msgType)
	}

	if err := b.rbuf.Ensure(b.bodyLen); err != nil {
		return nil, translateEOF(err)
	}
	b.partialMsg = false

	err := msg.Decode(b.rbuf.Next(b.bodyLen))
	return msg, err
}
