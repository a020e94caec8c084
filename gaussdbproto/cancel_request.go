package gaussdbproto

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbio"
)

const (
	cancelRequestCode = 80877102
	cancelRequestLen  = 16
)

// CancelRequest is sent on a new connection to interrupt the backend identified by ProcessID and SecretKey. A
// connection that hit a protocol violation or transport failure in the middle of a function call sends one before it
// is discarded.
type CancelRequest struct {
	ProcessID uint32
	SecretKey uint32
}

// Frontend identifies this message as sendable by a GaussDB frontend.
func (*CancelRequest) Frontend() {}

// Decode decodes src into dst. src must not include the 4 byte message length.
func (dst *CancelRequest) Decode(src []byte) error {
	if len(src) != cancelRequestLen-4 {
		return fmt.Errorf("cancel request body is %d bytes, expected %d", len(src), cancelRequestLen-4)
	}
	if code := binary.BigEndian.Uint32(src); code != cancelRequestCode {
		return fmt.Errorf("bad cancel request code %d", code)
	}

	*dst = CancelRequest{
		ProcessID: binary.BigEndian.Uint32(src[4:]),
		SecretKey: binary.BigEndian.Uint32(src[8:]),
	}
	return nil
}

// Encode encodes src into dst. dst will include the 4 byte message length.
func (src *CancelRequest) Encode(dst []byte) ([]byte, error) {
	dst = gaussdbio.AppendInt32(dst, cancelRequestLen)
	dst = gaussdbio.AppendInt32(dst, cancelRequestCode)
	dst = gaussdbio.AppendUint32(dst, src.ProcessID)
	return gaussdbio.AppendUint32(dst, src.SecretKey), nil
}

// MarshalJSON implements encoding/json.Marshaler.
func (src CancelRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string
		ProcessID uint32
		SecretKey uint32
	}{
		Type:      "CancelRequest",
		ProcessID: src.ProcessID,
		SecretKey: src.SecretKey,
	})
}
