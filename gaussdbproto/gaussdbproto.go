package gaussdbproto

import (
	"errors"
	"fmt"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbio"
)

// maxMessageBodyLen is the maximum length of a message body in bytes. See PG_LARGE_MESSAGE_LIMIT in the PostgreSQL
// source. It is defined as (MaxAllocHugeSize - 1) in the server but the message length is an int32 on the wire.
const MaxMessageBodyLen = (0x3fffffff - 1)

// ProtocolVersionNumber is the protocol version 3.0 sent in the StartupMessage.
const ProtocolVersionNumber = 196608 // 3.0

// Format codes.
const (
	TextFormat   = 0
	BinaryFormat = 1
)

// Message is the interface implemented by an object that can decode and encode
// a particular GaussDB message.
type Message interface {
	// Decode is allowed and expected to retain a reference to data after
	// returning (unlike encoding.BinaryUnmarshaler).
	Decode(data []byte) error

	// Encode appends itself to dst and returns the new buffer.
	Encode(dst []byte) ([]byte, error)
}

// FrontendMessage is a message sent by the frontend (i.e. the client).
type FrontendMessage interface {
	Message
	Frontend() // no-op method to distinguish frontend from backend methods
}

// BackendMessage is a message sent by the backend (i.e. the server).
type BackendMessage interface {
	Message
	Backend() // no-op method to distinguish frontend from backend methods
}

// AuthenticationResponseMessage is a backend authentication request message.
type AuthenticationResponseMessage interface {
	BackendMessage
	AuthenticationResponse() // no-op method to distinguish authentication responses
}

// ErrResponseNotConsumed is returned by Frontend.Receive when a previously received FunctionCallResponse still has
// unread payload bytes. Framing of the connection can not be recovered after this.
var ErrResponseNotConsumed = errors.New("function call response not fully consumed")

type invalidMessageLenErr struct {
	messageType string
	expectedLen int
	actualLen   int
}

func (e *invalidMessageLenErr) Error() string {
	return fmt.Sprintf("%s body must have length of %d, but it is %d", e.messageType, e.expectedLen, e.actualLen)
}

type invalidMessageFormatErr struct {
	messageType string
	details     string
}

func (e *invalidMessageFormatErr) Error() string {
	return fmt.Sprintf("%s body is invalid %s", e.messageType, e.details)
}

type ExceededMaxBodyLenErr struct {
	MaxExpectedBodyLen int
	ActualBodyLen      int
}

func (e *ExceededMaxBodyLenErr) Error() string {
	return fmt.Sprintf("invalid body length: expected at most %d, but got %d", e.MaxExpectedBodyLen, e.ActualBodyLen)
}

// beginMessage begins a new message of type t. It appends the message type and a placeholder for the message length
// to dst. It returns the new buffer and the position of the message length placeholder.
func beginMessage(dst []byte, t byte) ([]byte, int) {
	dst = append(dst, t)
	sp := len(dst)
	dst = gaussdbio.AppendInt32(dst, -1)
	return dst, sp
}

// finishMessage finishes a message that was started with beginMessage. It computes the message length and writes it
// to dst[sp]. If the message length is too large it returns an error. Otherwise it returns the final message buffer.
func finishMessage(dst []byte, sp int) ([]byte, error) {
	messageBodyLen := len(dst[sp:])
	if messageBodyLen > MaxMessageBodyLen {
		return nil, errors.New("message body too large")
	}
	gaussdbio.SetInt32(dst[sp:], int32(messageBodyLen))
	return dst, nil
}
