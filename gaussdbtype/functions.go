package gaussdbtype

import "fmt"

// OIDs of the server functions backing the large object interface. They are fixed in the system catalog.
const (
	LoCreateOID        = 715
	LoImportOID        = 764
	LoExportOID        = 765
	LoImportWithOIDOID = 767
	LoOpenOID          = 952
	LoCloseOID         = 953
	LoReadOID          = 954
	LoWriteOID         = 955
	LoLseekOID         = 956
	LoCreatOID         = 957
	LoTellOID          = 958
	LoUnlinkOID        = 964
	LoTruncateOID      = 1004
	LoLseek64OID       = 3170
	LoTell64OID        = 3171
	LoTruncate64OID    = 3172
	LoFromByteaOID     = 3457
	LoGetOID           = 3458
	LoGetFragmentOID   = 3459
	LoPutOID           = 3460
)

// Function describes a server function that can be called over the fastpath interface.
type Function struct {
	Name       string
	OID        uint32
	ArgTypes   []uint32
	ResultType uint32

	// MinServerVersion is the first server version providing the function in server_version_num form, e.g. 90300
	// for 9.3. Zero means every supported server.
	MinServerVersion int
}

// RegisterFunction registers a server function with the Map. f must not be mutated after it is registered.
func (m *Map) RegisterFunction(f *Function) {
	m.oidToFunction[f.OID] = f
	m.nameToFunction[f.Name] = f
}

// FunctionForOID returns the Function registered for the given OID.
func (m *Map) FunctionForOID(oid uint32) (*Function, bool) {
	f, ok := m.oidToFunction[oid]
	return f, ok
}

// FunctionForName returns the Function registered for the given name.
func (m *Map) FunctionForName(name string) (*Function, bool) {
	f, ok := m.nameToFunction[name]
	return f, ok
}

// FunctionName returns the name of the function with the given OID or its OID in text form when it is unknown.
func (m *Map) FunctionName(oid uint32) string {
	if f, ok := m.FunctionForOID(oid); ok {
		return f.Name
	}
	return fmt.Sprintf("function %d", oid)
}

// EncodeArgs encodes args as the argument types of f.
func (m *Map) EncodeArgs(f *Function, args ...any) ([][]byte, error) {
	if len(args) != len(f.ArgTypes) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", f.Name, len(f.ArgTypes), len(args))
	}

	encoded := make([][]byte, len(args))
	for i, arg := range args {
		buf, err := m.Encode(f.ArgTypes[i], arg, nil)
		if err != nil {
			return nil, fmt.Errorf("%s argument %d: %w", f.Name, i+1, err)
		}
		encoded[i] = buf
	}
	return encoded, nil
}
