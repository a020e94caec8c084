package gaussdbproto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	defaultReadBufferSize  = 8192
	defaultWriteBufferSize = 8192
)

// Frontend acts as a client for the GaussDB wire protocol version 3.
type Frontend struct {
	rbuf *ReadBuffer
	wbuf *WriteBuffer

	// scratch is used to encode messages that are not written incrementally.
	scratch []byte

	// borrowed is the last FunctionCallResponse returned by Receive. It must be fully consumed before the next
	// message can be read.
	borrowed *FunctionCallResponse

	// Backend message flyweights
	authenticationOk                AuthenticationOk
	authenticationCleartextPassword AuthenticationCleartextPassword
	authenticationMD5Password       AuthenticationMD5Password
	backendKeyData                  BackendKeyData
	commandComplete                 CommandComplete
	emptyQueryResponse              EmptyQueryResponse
	errorResponse                   ErrorResponse
	functionCallResponse            FunctionCallResponse
	noticeResponse                  NoticeResponse
	notificationResponse            NotificationResponse
	parameterStatus                 ParameterStatus
	readyForQuery                   ReadyForQuery

	bodyLen    int
	maxBodyLen int // maxBodyLen is the maximum length of a message body in octets. If a message body exceeds this length, Receive will return an error.
	msgType    byte

	partialMsg bool
}

// NewFrontend creates a new Frontend with default buffer sizes.
func NewFrontend(r io.Reader, w io.Writer) *Frontend {
	return NewFrontendSize(r, w, defaultReadBufferSize, defaultWriteBufferSize)
}

// NewFrontendSize creates a new Frontend with a read buffer of readBufferSize bytes and a write buffer of
// writeBufferSize bytes.
func NewFrontendSize(r io.Reader, w io.Writer, readBufferSize, writeBufferSize int) *Frontend {
	return &Frontend{
		rbuf:       NewReadBuffer(r, readBufferSize),
		wbuf:       NewWriteBuffer(w, writeBufferSize),
		maxBodyLen: MaxMessageBodyLen,
	}
}

// SetMaxBodyLen sets the maximum length of a message body in octets. If a message body exceeds this length, Receive
// will return an error. This is useful for protecting against malicious clients that send large messages with the
// intent of causing memory exhaustion. The default value is MaxMessageBodyLen.
func (f *Frontend) SetMaxBodyLen(maxBodyLen int) {
	f.maxBodyLen = maxBodyLen
}

// ValidateFunctionCall checks msg with FunctionCall.Validate and that its fixed size header fits in the write buffer.
func (f *Frontend) ValidateFunctionCall(msg *FunctionCall) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.headerLen() > f.wbuf.Size() {
		return fmt.Errorf("%w: %d byte header, %d byte write buffer", ErrFunctionCallHeaderTooLarge, msg.headerLen(), f.wbuf.Size())
	}
	return nil
}

// SendFunctionCall puts msg into the write buffer, flushing the buffer each time it fills up. On return without error
// the tail of the message may still be buffered. Call Flush to send it. Nothing is written when msg fails
// ValidateFunctionCall.
func (f *Frontend) SendFunctionCall(msg *FunctionCall) error {
	if err := f.ValidateFunctionCall(msg); err != nil {
		return err
	}

	for !msg.WriteInto(f.wbuf) {
		if err := f.wbuf.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Send puts msg into the write buffer, flushing the buffer each time it fills up. *FunctionCall messages are written
// incrementally. Other messages are encoded in full and then copied through the buffer.
func (f *Frontend) Send(msg FrontendMessage) error {
	if fc, ok := msg.(*FunctionCall); ok {
		return f.SendFunctionCall(fc)
	}

	var err error
	f.scratch, err = msg.Encode(f.scratch[:0])
	if err != nil {
		return err
	}

	p := f.scratch
	for len(p) > 0 {
		if f.wbuf.WriteSpaceLeft() == 0 {
			if err := f.wbuf.Flush(); err != nil {
				return err
			}
		}
		n := min(len(p), f.wbuf.WriteSpaceLeft())
		f.wbuf.PutBytes(p[:n])
		p = p[n:]
	}
	return nil
}

// Flush writes any pending messages to the backend (i.e. the server).
func (f *Frontend) Flush() error {
	return f.wbuf.Flush()
}

// ReadBufferLen returns the number of bytes read from the connection but not yet consumed.
func (f *Frontend) ReadBufferLen() int {
	return f.rbuf.Buffered()
}

func translateEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Receive receives a message from the backend. The returned message is only valid until the next call to Receive.
//
// A *FunctionCallResponse is returned before its value has been read. Its value must be consumed before Receive is
// called again or ErrResponseNotConsumed is returned.
func (f *Frontend) Receive() (BackendMessage, error) {
	if f.borrowed != nil {
		if f.borrowed.Remaining() > 0 {
			return nil, ErrResponseNotConsumed
		}
		f.borrowed = nil
	}

	if !f.partialMsg {
		if err := f.rbuf.Ensure(5); err != nil {
			return nil, err
		}

		f.msgType = f.rbuf.Byte()

		msgLength := int(f.rbuf.Int32())
		if msgLength < 4 {
			return nil, fmt.Errorf("invalid message length: %d", msgLength)
		}

		f.bodyLen = msgLength - 4
		if f.maxBodyLen > 0 && f.bodyLen > f.maxBodyLen {
			return nil, &ExceededMaxBodyLenErr{f.maxBodyLen, f.bodyLen}
		}
		f.partialMsg = true
	}

	if f.msgType == 'V' {
		return f.receiveFunctionCallResponse()
	}

	if err := f.rbuf.Ensure(f.bodyLen); err != nil {
		return nil, translateEOF(err)
	}
	msgBody := f.rbuf.Next(f.bodyLen)

	f.partialMsg = false

	var msg BackendMessage
	switch f.msgType {
	case 'A':
		msg = &f.notificationResponse
	case 'C':
		msg = &f.commandComplete
	case 'E':
		msg = &f.errorResponse
	case 'I':
		msg = &f.emptyQueryResponse
	case 'K':
		msg = &f.backendKeyData
	case 'N':
		msg = &f.noticeResponse
	case 'R':
		var err error
		msg, err = f.findAuthenticationMessageType(msgBody)
		if err != nil {
			return nil, err
		}
	case 'S':
		msg = &f.parameterStatus
	case 'Z':
		msg = &f.readyForQuery
	default:
		return nil, fmt.Errorf("unknown message type: %c", f.msgType)
	}

	err := msg.Decode(msgBody)
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// receiveFunctionCallResponse reads only the value length of a FunctionCallResponse. The value stays in the read
// buffer or on the wire.
func (f *Frontend) receiveFunctionCallResponse() (BackendMessage, error) {
	if f.bodyLen < 4 {
		return nil, &invalidMessageLenErr{messageType: "FunctionCallResponse", expectedLen: 4, actualLen: f.bodyLen}
	}

	if err := f.rbuf.Ensure(4); err != nil {
		return nil, translateEOF(err)
	}
	f.partialMsg = false

	length := f.rbuf.Int32()
	if length < -1 || 4+max(int(length), 0) != f.bodyLen {
		return nil, &invalidMessageLenErr{messageType: "FunctionCallResponse", expectedLen: 4 + max(int(length), 0), actualLen: f.bodyLen}
	}

	f.functionCallResponse.load(f.rbuf, length)
	f.borrowed = &f.functionCallResponse
	return f.borrowed, nil
}

func (f *Frontend) findAuthenticationMessageType(src []byte) (BackendMessage, error) {
	if len(src) < 4 {
		return nil, errors.New("authentication message too short")
	}
	authType := binary.BigEndian.Uint32(src[:4])

	switch authType {
	case AuthTypeOk:
		return &f.authenticationOk, nil
	case AuthTypeCleartextPassword:
		return &f.authenticationCleartextPassword, nil
	case AuthTypeMD5Password:
		return &f.authenticationMD5Password, nil
	default:
		return nil, fmt.Errorf("unsupported authentication type: %d", authType)
	}
}
