package gaussdbtype

import "sync"

var (
	// defaultMap contains the types and functions every Map starts with.
	defaultMap         *Map
	defaultMapInitOnce = sync.Once{}
)

func initDefaultMap() {
	defaultMap = &Map{
		oidToType:      make(map[uint32]*Type),
		nameToType:     make(map[string]*Type),
		oidToFunction:  make(map[uint32]*Function),
		nameToFunction: make(map[string]*Function),
	}

	// Base types
	defaultMap.RegisterType(&Type{Name: "bool", OID: BoolOID, Codec: BoolCodec{}})
	defaultMap.RegisterType(&Type{Name: "bytea", OID: ByteaOID, Codec: ByteaCodec{}})
	defaultMap.RegisterType(&Type{Name: "int4", OID: Int4OID, Codec: Int4Codec{}})
	defaultMap.RegisterType(&Type{Name: "int8", OID: Int8OID, Codec: Int8Codec{}})
	defaultMap.RegisterType(&Type{Name: "oid", OID: OIDOID, Codec: Uint32Codec{}})
	defaultMap.RegisterType(&Type{Name: "text", OID: TextOID, Codec: TextCodec{}})
	defaultMap.RegisterType(&Type{Name: "void", OID: VoidOID, Codec: VoidCodec{}})

	// Large object functions
	defaultMap.RegisterFunction(&Function{Name: "lo_open", OID: LoOpenOID, ArgTypes: []uint32{OIDOID, Int4OID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_close", OID: LoCloseOID, ArgTypes: []uint32{Int4OID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "loread", OID: LoReadOID, ArgTypes: []uint32{Int4OID, Int4OID}, ResultType: ByteaOID})
	defaultMap.RegisterFunction(&Function{Name: "lowrite", OID: LoWriteOID, ArgTypes: []uint32{Int4OID, ByteaOID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_lseek", OID: LoLseekOID, ArgTypes: []uint32{Int4OID, Int4OID, Int4OID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_lseek64", OID: LoLseek64OID, ArgTypes: []uint32{Int4OID, Int8OID, Int4OID}, ResultType: Int8OID, MinServerVersion: 90300})
	defaultMap.RegisterFunction(&Function{Name: "lo_creat", OID: LoCreatOID, ArgTypes: []uint32{Int4OID}, ResultType: OIDOID})
	defaultMap.RegisterFunction(&Function{Name: "lo_create", OID: LoCreateOID, ArgTypes: []uint32{OIDOID}, ResultType: OIDOID, MinServerVersion: 80100})
	defaultMap.RegisterFunction(&Function{Name: "lo_tell", OID: LoTellOID, ArgTypes: []uint32{Int4OID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_tell64", OID: LoTell64OID, ArgTypes: []uint32{Int4OID}, ResultType: Int8OID, MinServerVersion: 90300})
	defaultMap.RegisterFunction(&Function{Name: "lo_truncate", OID: LoTruncateOID, ArgTypes: []uint32{Int4OID, Int4OID}, ResultType: Int4OID, MinServerVersion: 80300})
	defaultMap.RegisterFunction(&Function{Name: "lo_truncate64", OID: LoTruncate64OID, ArgTypes: []uint32{Int4OID, Int8OID}, ResultType: Int4OID, MinServerVersion: 90300})
	defaultMap.RegisterFunction(&Function{Name: "lo_unlink", OID: LoUnlinkOID, ArgTypes: []uint32{OIDOID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_import", OID: LoImportOID, ArgTypes: []uint32{TextOID}, ResultType: OIDOID})
	defaultMap.RegisterFunction(&Function{Name: "lo_import_with_oid", OID: LoImportWithOIDOID, ArgTypes: []uint32{TextOID, OIDOID}, ResultType: OIDOID, MinServerVersion: 80400})
	defaultMap.RegisterFunction(&Function{Name: "lo_export", OID: LoExportOID, ArgTypes: []uint32{OIDOID, TextOID}, ResultType: Int4OID})
	defaultMap.RegisterFunction(&Function{Name: "lo_from_bytea", OID: LoFromByteaOID, ArgTypes: []uint32{OIDOID, ByteaOID}, ResultType: OIDOID, MinServerVersion: 90400})
	defaultMap.RegisterFunction(&Function{Name: "lo_get", OID: LoGetOID, ArgTypes: []uint32{OIDOID}, ResultType: ByteaOID, MinServerVersion: 90400})
	defaultMap.RegisterFunction(&Function{Name: "lo_get_fragment", OID: LoGetFragmentOID, ArgTypes: []uint32{OIDOID, Int8OID, Int4OID}, ResultType: ByteaOID, MinServerVersion: 90400})
	defaultMap.RegisterFunction(&Function{Name: "lo_put", OID: LoPutOID, ArgTypes: []uint32{OIDOID, Int8OID, ByteaOID}, ResultType: VoidOID, MinServerVersion: 90400})
}
