package gaussdbtype

import "fmt"

type ByteaCodec struct{}

func (ByteaCodec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	var src []byte
	switch v := value.(type) {
	case []byte:
		if v == nil {
			return nil, nil
		}
		src = v
	case string:
		src = []byte(v)
	default:
		return nil, fmt.Errorf("cannot encode %T as bytea", value)
	}

	if buf == nil {
		buf = make([]byte, 0, len(src))
	}
	return append(buf, src...), nil
}

// DecodeBinary copies src.
func (ByteaCodec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}
	return append(make([]byte, 0, len(src)), src...), nil
}

// VoidCodec decodes the result of functions returning void. The server sends such a result as a zero length value.
type VoidCodec struct{}

func (VoidCodec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	return nil, fmt.Errorf("cannot encode %T as void", value)
}

func (VoidCodec) DecodeBinary(m *Map, src []byte) (any, error) {
	return nil, nil
}
