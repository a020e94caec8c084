// Package gaussdbtype converts between Go values and the GaussDB binary wire format for the types used as fastpath
// function arguments and results.
package gaussdbtype

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/text/encoding"
)

// GaussDB OIDs for the types exchanged with the large object functions.
const (
	BoolOID  = 16
	ByteaOID = 17
	Int8OID  = 20
	Int4OID  = 23
	TextOID  = 25
	OIDOID   = 26
	VoidOID  = 2278
)

// Codec encodes and decodes the binary format of a single GaussDB type.
type Codec interface {
	// EncodeBinary appends the binary representation of value to buf. A nil result means the value is NULL.
	EncodeBinary(m *Map, value any, buf []byte) (newBuf []byte, err error)

	// DecodeBinary decodes src. A nil src is NULL.
	DecodeBinary(m *Map, src []byte) (any, error)
}

// Type is a GaussDB type known to a Map.
type Type struct {
	Codec Codec
	Name  string
	OID   uint32
}

// Map is the set of types and server functions a connection knows about. It also carries the connection's
// client_encoding which text values are converted to. A Map is safe for concurrent use.
type Map struct {
	oidToType  map[uint32]*Type
	nameToType map[string]*Type

	oidToFunction  map[uint32]*Function
	nameToFunction map[string]*Function

	mux              sync.RWMutex
	clientEncoding   string
	clientEncodingFn encoding.Encoding // nil means UTF-8
}

// NewMap returns a Map with the default types and large object functions registered.
func NewMap() *Map {
	defaultMapInitOnce.Do(initDefaultMap)

	m := &Map{
		oidToType:      make(map[uint32]*Type, len(defaultMap.oidToType)),
		nameToType:     make(map[string]*Type, len(defaultMap.nameToType)),
		oidToFunction:  make(map[uint32]*Function, len(defaultMap.oidToFunction)),
		nameToFunction: make(map[string]*Function, len(defaultMap.nameToFunction)),
		clientEncoding: "UTF8",
	}
	for _, t := range defaultMap.oidToType {
		m.RegisterType(t)
	}
	for _, f := range defaultMap.oidToFunction {
		m.RegisterFunction(f)
	}
	return m
}

// RegisterType registers a data type with the Map. t must not be mutated after it is registered.
func (m *Map) RegisterType(t *Type) {
	m.oidToType[t.OID] = t
	m.nameToType[t.Name] = t
}

// TypeForOID returns the Type registered for the given OID. The returned Type must not be mutated.
func (m *Map) TypeForOID(oid uint32) (*Type, bool) {
	t, ok := m.oidToType[oid]
	return t, ok
}

// TypeForName returns the Type registered for the given name. The returned Type must not be mutated.
func (m *Map) TypeForName(name string) (*Type, bool) {
	t, ok := m.nameToType[name]
	return t, ok
}

// Encode appends the binary representation of value as the type identified by oid to buf. A nil value encodes to a
// nil slice, which is sent as NULL.
func (m *Map) Encode(oid uint32, value any, buf []byte) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	t, ok := m.TypeForOID(oid)
	if !ok {
		return nil, fmt.Errorf("unknown type OID %d", oid)
	}

	newBuf, err := t.Codec.EncodeBinary(m, value, buf)
	if err != nil {
		return nil, fmt.Errorf("unable to encode %#v into binary format for %s (OID %d): %w", value, t.Name, t.OID, err)
	}
	return newBuf, nil
}

// Decode decodes src as the type identified by oid.
func (m *Map) Decode(oid uint32, src []byte) (any, error) {
	t, ok := m.TypeForOID(oid)
	if !ok {
		return nil, fmt.Errorf("unknown type OID %d", oid)
	}

	v, err := t.Codec.DecodeBinary(m, src)
	if err != nil {
		return nil, fmt.Errorf("unable to decode binary %s (OID %d): %w", t.Name, t.OID, err)
	}
	return v, nil
}

// ErrUnsupportedEncoding is returned by SetClientEncoding for an encoding text cannot be converted to.
var ErrUnsupportedEncoding = errors.New("unsupported client encoding")

// SetClientEncoding sets the encoding text values are converted to. name is a GaussDB encoding name as reported in
// the client_encoding parameter status.
func (m *Map) SetClientEncoding(name string) error {
	enc, err := lookupEncoding(name)
	if err != nil {
		return err
	}

	m.mux.Lock()
	m.clientEncoding = strings.ToUpper(name)
	m.clientEncodingFn = enc
	m.mux.Unlock()
	return nil
}

// ClientEncoding returns the current client encoding name.
func (m *Map) ClientEncoding() string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return m.clientEncoding
}

func (m *Map) encoding() encoding.Encoding {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return m.clientEncodingFn
}
