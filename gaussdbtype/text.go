package gaussdbtype

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// serverEncodings maps normalized GaussDB encoding names to their converters. A nil Encoding passes UTF-8 through.
var serverEncodings = map[string]encoding.Encoding{
	"UTF8":       nil,
	"UNICODE":    nil,
	"SQLASCII":   nil,
	"LATIN1":     charmap.ISO8859_1,
	"LATIN2":     charmap.ISO8859_2,
	"LATIN3":     charmap.ISO8859_3,
	"LATIN4":     charmap.ISO8859_4,
	"LATIN5":     charmap.ISO8859_9,
	"LATIN6":     charmap.ISO8859_10,
	"LATIN7":     charmap.ISO8859_13,
	"LATIN8":     charmap.ISO8859_14,
	"LATIN9":     charmap.ISO8859_15,
	"LATIN10":    charmap.ISO8859_16,
	"ISO88595":   charmap.ISO8859_5,
	"ISO88596":   charmap.ISO8859_6,
	"ISO88597":   charmap.ISO8859_7,
	"ISO88598":   charmap.ISO8859_8,
	"KOI8R":      charmap.KOI8R,
	"KOI8U":      charmap.KOI8U,
	"WIN866":     charmap.CodePage866,
	"WIN874":     charmap.Windows874,
	"WIN1250":    charmap.Windows1250,
	"WIN1251":    charmap.Windows1251,
	"WIN1252":    charmap.Windows1252,
	"WIN1253":    charmap.Windows1253,
	"WIN1254":    charmap.Windows1254,
	"WIN1255":    charmap.Windows1255,
	"WIN1256":    charmap.Windows1256,
	"WIN1257":    charmap.Windows1257,
	"WIN1258":    charmap.Windows1258,
	"GBK":        simplifiedchinese.GBK,
	"EUCCN":      simplifiedchinese.GBK,
	"GB18030":    simplifiedchinese.GB18030,
	"EUCJP":      japanese.EUCJP,
	"SJIS":       japanese.ShiftJIS,
	"SHIFTJIS":   japanese.ShiftJIS,
	"EUCKR":      korean.EUCKR,
	"UHC":        korean.EUCKR,
	"BIG5":       traditionalchinese.Big5,
	"EUCTW":      traditionalchinese.Big5,
	"WINDOWS936": simplifiedchinese.GBK,
}

func normalizeEncodingName(name string) string {
	return strings.NewReplacer("_", "", "-", "").Replace(strings.ToUpper(strings.TrimSpace(name)))
}

func lookupEncoding(name string) (encoding.Encoding, error) {
	enc, ok := serverEncodings[normalizeEncodingName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
	}
	return enc, nil
}

// TextCodec converts text values between UTF-8 and the Map's client encoding.
type TextCodec struct{}

func (TextCodec) EncodeBinary(m *Map, value any, buf []byte) ([]byte, error) {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		if v == nil {
			return nil, nil
		}
		s = string(v)
	case fmt.Stringer:
		s = v.String()
	default:
		return nil, fmt.Errorf("cannot encode %T as text", value)
	}

	if buf == nil {
		buf = make([]byte, 0, len(s))
	}

	enc := m.encoding()
	if enc == nil {
		return append(buf, s...), nil
	}

	encoded, err := enc.NewEncoder().String(s)
	if err != nil {
		return nil, fmt.Errorf("cannot convert text to %s: %w", m.ClientEncoding(), err)
	}
	return append(buf, encoded...), nil
}

func (TextCodec) DecodeBinary(m *Map, src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}

	enc := m.encoding()
	if enc == nil {
		return string(src), nil
	}

	decoded, err := enc.NewDecoder().Bytes(src)
	if err != nil {
		return nil, fmt.Errorf("cannot convert text from %s: %w", m.ClientEncoding(), err)
	}
	return string(decoded), nil
}

// Text returns the binary representation of a text argument in the Map's client encoding.
func (m *Map) Text(s string) ([]byte, error) {
	return TextCodec{}.EncodeBinary(m, s, nil)
}
