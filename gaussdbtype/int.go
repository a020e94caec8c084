package gaussdbtype

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbio"
)

// Int4 returns the binary representation of an int4 argument.
func Int4(n int32) []byte {
	return gaussdbio.AppendInt32(make([]byte, 0, 4), n)
}

// Int8 returns the binary representation of an int8 argument.
func Int8(n int64) []byte {
	return gaussdbio.AppendInt64(make([]byte, 0, 8), n)
}

// OID returns the binary representation of an oid argument.
func OID(n uint32) []byte {
	return gaussdbio.AppendUint32(make([]byte, 0, 4), n)
}

type Int4Codec struct{}

func (Int4Codec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	var n int64
	switch v := value.(type) {
	case int32:
		return gaussdbio.AppendInt32(buf, v), nil
	case int16:
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case uint32:
		n = int64(v)
	default:
		return nil, fmt.Errorf("cannot encode %T as int4", value)
	}

	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%d is out of range for int4", n)
	}
	return gaussdbio.AppendInt32(buf, int32(n)), nil
}

func (Int4Codec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if len(src) != 4 {
		return nil, fmt.Errorf("invalid length for int4: %v", len(src))
	}
	return int32(binary.BigEndian.Uint32(src)), nil
}

type Int8Codec struct{}

func (Int8Codec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	switch v := value.(type) {
	case int64:
		return gaussdbio.AppendInt64(buf, v), nil
	case int32:
		return gaussdbio.AppendInt64(buf, int64(v)), nil
	case int:
		return gaussdbio.AppendInt64(buf, int64(v)), nil
	case uint32:
		return gaussdbio.AppendInt64(buf, int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("%d is greater than maximum value for int8", v)
		}
		return gaussdbio.AppendInt64(buf, int64(v)), nil
	default:
		return nil, fmt.Errorf("cannot encode %T as int8", value)
	}
}

func (Int8Codec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if len(src) != 8 {
		return nil, fmt.Errorf("invalid length for int8: %v", len(src))
	}
	return int64(binary.BigEndian.Uint64(src)), nil
}

// Uint32Codec handles oid values.
type Uint32Codec struct{}

func (Uint32Codec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	var n int64
	switch v := value.(type) {
	case uint32:
		return gaussdbio.AppendUint32(buf, v), nil
	case int:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	default:
		return nil, fmt.Errorf("cannot encode %T as oid", value)
	}

	if n < 0 || n > math.MaxUint32 {
		return nil, fmt.Errorf("%d is out of range for oid", n)
	}
	return gaussdbio.AppendUint32(buf, uint32(n)), nil
}

func (Uint32Codec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if len(src) != 4 {
		return nil, fmt.Errorf("invalid length for oid: %v", len(src))
	}
	return binary.BigEndian.Uint32(src), nil
}

type BoolCodec struct{}

func (BoolCodec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	v, ok := value.(bool)
	if !ok {
		return nil, fmt.Errorf("cannot encode %T as bool", value)
	}
	if v {
		return append(buf, 1), nil
	}
	return append(buf, 0), nil
}

func (BoolCodec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	if len(src) != 1 {
		return nil, fmt.Errorf("invalid length for bool: %v", len(src))
	}
	return src[0] == 1, nil
}
