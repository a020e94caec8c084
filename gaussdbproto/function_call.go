package gaussdbproto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbio"
)

type encodePhase int8

const (
	encodeNotStarted encodePhase = iota
	encodeHeaderWritten
	encodeComplete
)

// encodeCursor records how much of a FunctionCall has been put into an OutputBuffer.
type encodeCursor struct {
	phase encodePhase
	arg   int // index of the argument being written

	// argPos is the number of bytes of Arguments[arg] already put. -1 means the length prefix of the argument has not
	// been put yet.
	argPos int
}

// FunctionCall is a fastpath function call request.
type FunctionCall struct {
	Function         uint32
	ArgFormatCodes   []uint16
	Arguments        [][]byte // a nil argument is sent as NULL
	ResultFormatCode uint16

	cursor encodeCursor
}

// NewFunctionCall returns a FunctionCall of function with binary format arguments and a binary result.
func NewFunctionCall(function uint32, args [][]byte) *FunctionCall {
	return &FunctionCall{
		Function:         function,
		ArgFormatCodes:   []uint16{BinaryFormat},
		Arguments:        args,
		ResultFormatCode: BinaryFormat,
	}
}

// Frontend identifies this message as sendable by a GaussDB frontend.
func (*FunctionCall) Frontend() {}

var (
	ErrTooManyFunctionArguments = errors.New("too many function arguments")
	ErrFunctionArgumentTooLarge = errors.New("function argument too large")
	ErrFunctionCallTooLarge     = errors.New("function call message too large")

	// ErrFunctionCallHeaderTooLarge is returned when the format codes make the header larger than the write buffer.
	ErrFunctionCallHeaderTooLarge = errors.New("function call header does not fit in write buffer")
)

// Validate checks that the argument count fits in the 16-bit count field, that every argument fits in the 32-bit
// length field and that the whole message fits the message length field.
func (src *FunctionCall) Validate() error {
	if len(src.Arguments) > math.MaxUint16 || len(src.ArgFormatCodes) > math.MaxUint16 {
		return ErrTooManyFunctionArguments
	}
	for _, arg := range src.Arguments {
		if len(arg) > math.MaxInt32 {
			return ErrFunctionArgumentTooLarge
		}
	}
	if src.messageLen() > MaxMessageBodyLen {
		return ErrFunctionCallTooLarge
	}
	return nil
}

// headerLen is the size of the type byte, message length, function id, format codes and argument count.
func (src *FunctionCall) headerLen() int {
	return 1 + 4 + 4 + 2 + 2*len(src.ArgFormatCodes) + 2
}

// messageLen returns the value of the self-inclusive message length field.
func (src *FunctionCall) messageLen() int64 {
	n := int64(src.headerLen() - 1)
	for _, arg := range src.Arguments {
		n += 4 + int64(len(arg))
	}
	return n + 2
}

// WriteInto puts as much of the message into buf as fits. It returns true once the whole message has been put. When
// it returns false buf must be flushed and WriteInto called again with the same FunctionCall; it continues exactly
// where the previous call stopped. The fixed size header, every argument length and the trailing result format code
// are only put when they fit completely. Argument data may be split at any byte.
func (src *FunctionCall) WriteInto(buf OutputBuffer) bool {
	c := &src.cursor

	switch c.phase {
	case encodeComplete:
		return true

	case encodeNotStarted:
		if buf.WriteSpaceLeft() < src.headerLen() {
			return false
		}

		buf.PutByte('F')
		buf.PutInt32(int32(src.messageLen()))
		buf.PutInt32(int32(src.Function))
		buf.PutInt16(int16(len(src.ArgFormatCodes)))
		for _, fc := range src.ArgFormatCodes {
			buf.PutInt16(int16(fc))
		}
		buf.PutInt16(int16(len(src.Arguments)))

		c.phase = encodeHeaderWritten
		c.arg = 0
		c.argPos = -1
		fallthrough

	case encodeHeaderWritten:
		for ; c.arg < len(src.Arguments); c.arg, c.argPos = c.arg+1, -1 {
			arg := src.Arguments[c.arg]

			if c.argPos == -1 {
				if buf.WriteSpaceLeft() < 4 {
					return false
				}
				if arg == nil {
					buf.PutInt32(-1)
				} else {
					buf.PutInt32(int32(len(arg)))
				}
				c.argPos = 0
			}

			if arg != nil {
				n := min(len(arg)-c.argPos, buf.WriteSpaceLeft())
				buf.PutBytes(arg[c.argPos : c.argPos+n])
				c.argPos += n
				if c.argPos != len(arg) {
					return false
				}
			}
		}

		if buf.WriteSpaceLeft() < 2 {
			return false
		}
		buf.PutInt16(int16(src.ResultFormatCode))
		c.phase = encodeComplete
		return true
	}

	panic("BUG: unknown FunctionCall encode phase")
}

// Complete reports whether WriteInto has put the whole message.
func (src *FunctionCall) Complete() bool {
	return src.cursor.phase == encodeComplete
}

// Reset allows the message to be written again from the start.
func (src *FunctionCall) Reset() {
	src.cursor = encodeCursor{}
}

// Decode decodes src into dst. src must contain the complete message with the exception of the initial 1 byte message
// type identifier and 4 byte message length. Argument values are copied.
func (dst *FunctionCall) Decode(src []byte) error {
	*dst = FunctionCall{}
	rp := 0

	if len(src) < 8 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	dst.Function = binary.BigEndian.Uint32(src[rp:])
	rp += 4

	formatCodeCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	if len(src[rp:]) < formatCodeCount*2+2 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	if formatCodeCount > 0 {
		dst.ArgFormatCodes = make([]uint16, formatCodeCount)
		for i := range dst.ArgFormatCodes {
			dst.ArgFormatCodes[i] = binary.BigEndian.Uint16(src[rp:])
			rp += 2
		}
	}

	argCount := int(binary.BigEndian.Uint16(src[rp:]))
	rp += 2
	if argCount > 0 {
		dst.Arguments = make([][]byte, argCount)
		for i := range dst.Arguments {
			if len(src[rp:]) < 4 {
				return &invalidMessageFormatErr{messageType: "FunctionCall"}
			}
			argLen := int(int32(binary.BigEndian.Uint32(src[rp:])))
			rp += 4

			if argLen == -1 {
				continue
			}
			if argLen < 0 || len(src[rp:]) < argLen {
				return &invalidMessageFormatErr{messageType: "FunctionCall"}
			}
			dst.Arguments[i] = append(make([]byte, 0, argLen), src[rp:rp+argLen]...)
			rp += argLen
		}
	}

	if len(src[rp:]) != 2 {
		return &invalidMessageFormatErr{messageType: "FunctionCall"}
	}
	dst.ResultFormatCode = binary.BigEndian.Uint16(src[rp:])
	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier and the 4 byte message length.
func (src *FunctionCall) Encode(dst []byte) ([]byte, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	dst, sp := beginMessage(dst, 'F')
	dst = gaussdbio.AppendUint32(dst, src.Function)
	dst = gaussdbio.AppendUint16(dst, uint16(len(src.ArgFormatCodes)))
	for _, fc := range src.ArgFormatCodes {
		dst = gaussdbio.AppendUint16(dst, fc)
	}
	dst = gaussdbio.AppendUint16(dst, uint16(len(src.Arguments)))
	for _, arg := range src.Arguments {
		if arg == nil {
			dst = gaussdbio.AppendInt32(dst, -1)
		} else {
			dst = gaussdbio.AppendInt32(dst, int32(len(arg)))
			dst = append(dst, arg...)
		}
	}
	dst = gaussdbio.AppendUint16(dst, src.ResultFormatCode)

	return finishMessage(dst, sp)
}

// MarshalJSON implements encoding/json.Marshaler.
func (src FunctionCall) MarshalJSON() ([]byte, error) {
	arguments := make([]map[string]string, len(src.Arguments))
	for i, arg := range src.Arguments {
		if arg == nil {
			continue
		}
		arguments[i] = map[string]string{"binary": hex.EncodeToString(arg)}
	}

	return json.Marshal(struct {
		Type             string
		Function         uint32
		ArgFormatCodes   []uint16
		Arguments        []map[string]string
		ResultFormatCode uint16
	}{
		Type:             "FunctionCall",
		Function:         src.Function,
		ArgFormatCodes:   src.ArgFormatCodes,
		Arguments:        arguments,
		ResultFormatCode: src.ResultFormatCode,
	})
}
