package gaussdbproto

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbio"
)

// FunctionCallResponse is the reply to a FunctionCall.
//
// When received through Frontend.Receive the result value is not decoded. The message borrows the Frontend's read
// buffer and the value must be consumed with Read, ReadInt32, ReadInt64 or Discard before the Frontend can receive
// another message. When decoded with Decode the value is available in Result.
type FunctionCallResponse struct {
	Result []byte // nil means NULL; only set by Decode and used by Encode

	length    int32
	remaining int
	rbuf      *ReadBuffer // nil when the value is held in Result
	off       int
}

// Backend identifies this message as sendable by the GaussDB backend.
func (*FunctionCallResponse) Backend() {}

// load borrows rbuf for a value of length bytes.
func (dst *FunctionCallResponse) load(rbuf *ReadBuffer, length int32) {
	*dst = FunctionCallResponse{length: length, remaining: max(int(length), 0), rbuf: rbuf}
}

// Len returns the declared length of the result value. -1 means NULL.
func (src *FunctionCallResponse) Len() int32 {
	return src.length
}

// Remaining returns the number of value bytes that have not been consumed yet.
func (src *FunctionCallResponse) Remaining() int {
	return src.remaining
}

// Read reads up to len(p) bytes of the result value. It returns io.EOF once the whole value has been consumed.
// Large reads go directly from the connection into p.
func (src *FunctionCallResponse) Read(p []byte) (int, error) {
	if src.remaining == 0 {
		return 0, io.EOF
	}
	if len(p) > src.remaining {
		p = p[:src.remaining]
	}

	var n int
	var err error
	if src.rbuf != nil {
		n, err = src.rbuf.ReadFull(p)
	} else {
		n = copy(p, src.Result[src.off:])
		src.off += n
	}
	src.remaining -= n
	return n, err
}

// ReadInt32 reads a 4 byte big-endian integer from the result value.
func (src *FunctionCallResponse) ReadInt32() (int32, error) {
	p, err := src.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

// ReadInt64 reads an 8 byte big-endian integer from the result value.
func (src *FunctionCallResponse) ReadInt64() (int64, error) {
	p, err := src.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (src *FunctionCallResponse) next(n int) ([]byte, error) {
	if src.remaining < n {
		return nil, io.ErrUnexpectedEOF
	}

	var p []byte
	if src.rbuf != nil {
		if err := src.rbuf.Ensure(n); err != nil {
			return nil, err
		}
		p = src.rbuf.Next(n)
	} else {
		p = src.Result[src.off : src.off+n]
		src.off += n
	}
	src.remaining -= n
	return p, nil
}

// Discard consumes the rest of the result value.
func (src *FunctionCallResponse) Discard() error {
	if src.remaining == 0 {
		return nil
	}

	if src.rbuf != nil {
		if err := src.rbuf.Discard(src.remaining); err != nil {
			return err
		}
	} else {
		src.off += src.remaining
	}
	src.remaining = 0
	return nil
}

// Decode decodes src into dst. src must contain the complete message with the exception of the initial 1 byte message
// type identifier and 4 byte message length.
func (dst *FunctionCallResponse) Decode(src []byte) error {
	if len(src) < 4 {
		return &invalidMessageFormatErr{messageType: "FunctionCallResponse"}
	}
	resultSize := int32(binary.BigEndian.Uint32(src))
	rp := 4

	if resultSize == -1 {
		*dst = FunctionCallResponse{length: -1}
		if len(src) != 4 {
			return &invalidMessageLenErr{messageType: "FunctionCallResponse", expectedLen: 4, actualLen: len(src)}
		}
		return nil
	}

	if resultSize < 0 || len(src[rp:]) != int(resultSize) {
		return &invalidMessageFormatErr{messageType: "FunctionCallResponse"}
	}

	*dst = FunctionCallResponse{Result: src[rp:], length: resultSize, remaining: int(resultSize)}
	return nil
}

// Encode encodes src into dst. dst will include the 1 byte message type identifier and the 4 byte message length.
func (src *FunctionCallResponse) Encode(dst []byte) ([]byte, error) {
	dst, sp := beginMessage(dst, 'V')

	if src.Result == nil {
		dst = gaussdbio.AppendInt32(dst, -1)
	} else {
		dst = gaussdbio.AppendInt32(dst, int32(len(src.Result)))
		dst = append(dst, src.Result...)
	}

	return finishMessage(dst, sp)
}

// MarshalJSON implements encoding/json.Marshaler.
func (src FunctionCallResponse) MarshalJSON() ([]byte, error) {
	var formattedValue map[string]string
	if src.Result != nil {
		formattedValue = map[string]string{"binary": hex.EncodeToString(src.Result)}
	}

	return json.Marshal(struct {
		Type   string
		Length int32
		Result map[string]string
	}{
		Type:   "FunctionCallResponse",
		Length: src.length,
		Result: formattedValue,
	})
}
