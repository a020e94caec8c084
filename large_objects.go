package gaussdblo

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbtype"
)

// DefaultMaxTransferBlockSize is the default upper bound of bytes sent or requested in a single call.
const DefaultMaxTransferBlockSize = 4 * 1024 * 1024

// maxTransferBlockSize is the largest lowrite chunk that fits in one message: the body holds the function id, one
// format code, the argument count, the int4 descriptor and the chunk with their length prefixes, and the result format
// code.
const maxTransferBlockSize = gaussdbproto.MaxMessageBodyLen - (4 + 2 + 2 + 2 + 4 + 4 + 4 + 2)

var (
	ErrReadOnly          = gaussdbconn.NewUsageError("large object is opened read-only")
	ErrLargeObjectClosed = gaussdbconn.NewUsageError("large object is closed")
	ErrNoTransaction     = gaussdbconn.NewUsageError("large objects can only be opened in a transaction")
	ErrOffsetOutOfRange  = gaussdbconn.NewUsageError("offset out of range for a server without 64-bit large object support")
	ErrNotSupported      = gaussdbconn.NewUsageError("not supported by the server version")
)

// LargeObjectMode is the access mode a large object is opened or created with.
type LargeObjectMode int32

const (
	LargeObjectModeWrite LargeObjectMode = 0x20000
	LargeObjectModeRead  LargeObjectMode = 0x40000
)

// LargeObjects is a structure used to access the large objects API. Large object descriptors are only valid within the
// transaction they were opened in.
//
// For more details see: http://www.postgresql.org/docs/current/static/largeobjects.html
type LargeObjects struct {
	conn *gaussdbconn.GaussdbConn

	// MaxTransferBlockSize is the maximum number of bytes sent or requested in a single call. Larger reads and writes
	// are split into several calls.
	MaxTransferBlockSize int
}

// NewLargeObjects returns the large object API of conn.
func NewLargeObjects(conn *gaussdbconn.GaussdbConn) *LargeObjects {
	return &LargeObjects{conn: conn, MaxTransferBlockSize: DefaultMaxTransferBlockSize}
}

// Has64BitSupport reports whether the server provides the 64-bit seek, tell and truncate functions (9.3 and later).
func (o *LargeObjects) Has64BitSupport() bool {
	return o.requireFunction(gaussdbtype.LoLseek64OID) == nil
}

func (o *LargeObjects) blockSize() (int, error) {
	if o.MaxTransferBlockSize < 1 || o.MaxTransferBlockSize > maxTransferBlockSize {
		return 0, gaussdbconn.NewUsageError(fmt.Sprintf("MaxTransferBlockSize %d is outside 1..%d", o.MaxTransferBlockSize, maxTransferBlockSize))
	}
	return o.MaxTransferBlockSize, nil
}

// requireFunction checks the connection's function catalog for the server version that introduced fnOID.
func (o *LargeObjects) requireFunction(fnOID uint32) error {
	_, err := o.function(fnOID)
	return err
}

func (o *LargeObjects) function(fnOID uint32) (*gaussdbtype.Function, error) {
	f, ok := o.conn.TypeMap().FunctionForOID(fnOID)
	if !ok {
		return nil, fmt.Errorf("function %d is not registered: %w", fnOID, ErrNotSupported)
	}
	if v := o.conn.ServerVersion(); v.Num() < f.MinServerVersion {
		return nil, fmt.Errorf("%s requires server %d.%d, connected to %s: %w",
			f.Name, f.MinServerVersion/10000, f.MinServerVersion/100%100, v, ErrNotSupported)
	}
	return f, nil
}

// callArgs encodes args with the catalog argument types of fnOID after checking the server provides it.
func (o *LargeObjects) callArgs(fnOID uint32, args ...any) ([][]byte, error) {
	f, err := o.function(fnOID)
	if err != nil {
		return nil, err
	}
	encoded, err := o.conn.TypeMap().EncodeArgs(f, args...)
	if err != nil {
		return nil, &gaussdbconn.UsageError{Msg: "cannot encode arguments", Err: err}
	}
	return encoded, nil
}

func (o *LargeObjects) text(s string) ([]byte, error) {
	buf, err := o.conn.TypeMap().Text(s)
	if err != nil {
		return nil, &gaussdbconn.UsageError{Msg: "cannot encode text argument", Err: err}
	}
	return buf, nil
}

// Create creates a new large object. If oid is zero, the server assigns an unused OID.
func (o *LargeObjects) Create(ctx context.Context, oid uint32) (uint32, error) {
	newOID, err := o.conn.CallFunctionInt32(ctx, gaussdbtype.LoCreateOID, gaussdbtype.OID(oid))
	return uint32(newOID), err
}

// Creat creates a new large object with a server assigned OID. mode is ignored by servers since 8.1.
func (o *LargeObjects) Creat(ctx context.Context, mode LargeObjectMode) (uint32, error) {
	newOID, err := o.conn.CallFunctionInt32(ctx, gaussdbtype.LoCreatOID, gaussdbtype.Int4(int32(mode)))
	return uint32(newOID), err
}

// OpenRead opens the large object for reading. It sees the object as of the start of the transaction.
func (o *LargeObjects) OpenRead(ctx context.Context, oid uint32) (*LargeObject, error) {
	return o.Open(ctx, oid, LargeObjectModeRead)
}

// OpenReadWrite opens the large object for reading and writing.
func (o *LargeObjects) OpenReadWrite(ctx context.Context, oid uint32) (*LargeObject, error) {
	return o.Open(ctx, oid, LargeObjectModeRead|LargeObjectModeWrite)
}

// Open opens an existing large object with the given mode. ctx will also be used for all operations on the opened
// large object.
func (o *LargeObjects) Open(ctx context.Context, oid uint32, mode LargeObjectMode) (*LargeObject, error) {
	if o.conn.TxStatus() != 'T' {
		return nil, ErrNoTransaction
	}

	fd, err := o.conn.CallFunctionInt32(ctx, gaussdbtype.LoOpenOID, gaussdbtype.OID(oid), gaussdbtype.Int4(int32(mode)))
	if err != nil {
		return nil, err
	}
	return &LargeObject{
		ctx:      ctx,
		objects:  o,
		oid:      oid,
		fd:       fd,
		writable: mode&LargeObjectModeWrite != 0,
	}, nil
}

// Unlink removes a large object from the database.
func (o *LargeObjects) Unlink(ctx context.Context, oid uint32) error {
	_, err := o.conn.CallFunctionInt32(ctx, gaussdbtype.LoUnlinkOID, gaussdbtype.OID(oid))
	return err
}

// ExportRemote writes the large object to path on the server's file system. The server requires superuser
// privileges.
func (o *LargeObjects) ExportRemote(ctx context.Context, oid uint32, path string) error {
	pathArg, err := o.text(path)
	if err != nil {
		return err
	}
	_, err = o.conn.CallFunctionInt32(ctx, gaussdbtype.LoExportOID, gaussdbtype.OID(oid), pathArg)
	return err
}

// ImportRemote creates a large object from path on the server's file system and returns its OID. If oid is zero, the
// server assigns an unused OID. The server requires superuser privileges.
func (o *LargeObjects) ImportRemote(ctx context.Context, path string, oid uint32) (uint32, error) {
	pathArg, err := o.text(path)
	if err != nil {
		return 0, err
	}

	var newOID int32
	if oid == 0 {
		newOID, err = o.conn.CallFunctionInt32(ctx, gaussdbtype.LoImportOID, pathArg)
	} else {
		newOID, err = o.conn.CallFunctionInt32(ctx, gaussdbtype.LoImportWithOIDOID, pathArg, gaussdbtype.OID(oid))
	}
	return uint32(newOID), err
}

// FromBytes creates a large object holding data and returns its OID. If oid is zero, the server assigns an unused OID.
// It requires server 9.4 or later.
func (o *LargeObjects) FromBytes(ctx context.Context, oid uint32, data []byte) (uint32, error) {
	if data == nil {
		data = []byte{}
	}
	args, err := o.callArgs(gaussdbtype.LoFromByteaOID, oid, data)
	if err != nil {
		return 0, err
	}
	newOID, err := o.conn.CallFunctionInt32(ctx, gaussdbtype.LoFromByteaOID, args...)
	return uint32(newOID), err
}

// Get returns the whole contents of a large object. It requires server 9.4 or later.
func (o *LargeObjects) Get(ctx context.Context, oid uint32) ([]byte, error) {
	args, err := o.callArgs(gaussdbtype.LoGetOID, oid)
	if err != nil {
		return nil, err
	}
	return o.conn.CallFunctionBytes(ctx, gaussdbtype.LoGetOID, args...)
}

// GetAsync fetches the whole contents of a large object in the background. The result is delivered on the returned
// call's Done channel. The connection must not be used until then.
func (o *LargeObjects) GetAsync(ctx context.Context, oid uint32) *gaussdbconn.Call {
	args, err := o.callArgs(gaussdbtype.LoGetOID, oid)
	if err != nil {
		call := &gaussdbconn.Call{FunctionOID: gaussdbtype.LoGetOID, Err: err, Done: make(chan *gaussdbconn.Call, 1)}
		call.Done <- call
		return call
	}
	return o.conn.Go(ctx, gaussdbtype.LoGetOID, args, nil)
}

// GetFragment returns up to n bytes of a large object starting at offset. It requires server 9.4 or later.
func (o *LargeObjects) GetFragment(ctx context.Context, oid uint32, offset int64, n int) ([]byte, error) {
	if n < 0 || n > math.MaxInt32 {
		return nil, gaussdbconn.NewUsageError(fmt.Sprintf("fragment length %d is out of range", n))
	}
	args, err := o.callArgs(gaussdbtype.LoGetFragmentOID, oid, offset, int32(n))
	if err != nil {
		return nil, err
	}
	return o.conn.CallFunctionBytes(ctx, gaussdbtype.LoGetFragmentOID, args...)
}

// Put writes data into a large object at offset, extending it as needed. It requires server 9.4 or later.
func (o *LargeObjects) Put(ctx context.Context, oid uint32, offset int64, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	args, err := o.callArgs(gaussdbtype.LoPutOID, oid, offset, data)
	if err != nil {
		return err
	}
	return o.conn.CallFunctionVoid(ctx, gaussdbtype.LoPutOID, args...)
}

// A LargeObject is a large object stored on the server. It is only valid within the transaction that it was opened
// in. It uses the context it was opened with for all operations. It implements these interfaces:
//
//	io.Writer
//	io.Reader
//	io.Seeker
//	io.Closer
type LargeObject struct {
	ctx      context.Context
	objects  *LargeObjects
	oid      uint32
	fd       int32
	writable bool
	closed   bool
}

// OID returns the OID of the large object.
func (o *LargeObject) OID() uint32 {
	return o.oid
}

func (o *LargeObject) conn() *gaussdbconn.GaussdbConn {
	return o.objects.conn
}

// Write writes p to the large object and returns the number of bytes written and an error if not all of p was
// written. Writes larger than MaxTransferBlockSize are split into several calls.
func (o *LargeObject) Write(p []byte) (int, error) {
	if o.closed {
		return 0, ErrLargeObjectClosed
	}
	if !o.writable {
		return 0, ErrReadOnly
	}
	blockSize, err := o.objects.blockSize()
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		chunk := p[n:min(n+blockSize, len(p))]
		written, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoWriteOID, gaussdbtype.Int4(o.fd), chunk)
		if err != nil {
			return n, err
		}
		n += int(written)
		if int(written) != len(chunk) {
			return n, io.ErrShortWrite
		}
	}
	return n, nil
}

// Read reads up to len(p) bytes into p returning the number of bytes read. Reads larger than MaxTransferBlockSize are
// split into several calls. A read that reaches the end of the object returns fewer bytes. io.EOF is returned once
// nothing is left to read.
func (o *LargeObject) Read(p []byte) (int, error) {
	if o.closed {
		return 0, ErrLargeObjectClosed
	}
	blockSize, err := o.objects.blockSize()
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(p) {
		chunk := min(len(p)-n, blockSize)
		read, err := o.conn().CallFunctionInto(o.ctx, gaussdbtype.LoReadOID, p[n:n+chunk], gaussdbtype.Int4(o.fd), gaussdbtype.Int4(int32(chunk)))
		n += read
		if err != nil {
			return n, err
		}
		if read < chunk {
			break
		}
	}

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAll reads exactly len(p) bytes unless the end of the object comes first. It returns io.EOF if nothing was read
// and io.ErrUnexpectedEOF if the object ended after some bytes were read.
func (o *LargeObject) ReadAll(p []byte) (int, error) {
	return io.ReadFull(o, p)
}

// Seek moves the current location pointer to the new location specified by offset. whence is one of io.SeekStart,
// io.SeekCurrent and io.SeekEnd. Without 64-bit support offsets and results must fit in 32 bits.
func (o *LargeObject) Seek(offset int64, whence int) (int64, error) {
	if o.closed {
		return 0, ErrLargeObjectClosed
	}
	if whence != io.SeekStart && whence != io.SeekCurrent && whence != io.SeekEnd {
		return 0, gaussdbconn.NewUsageError(fmt.Sprintf("invalid whence %d", whence))
	}

	if o.objects.Has64BitSupport() {
		return o.conn().CallFunctionInt64(o.ctx, gaussdbtype.LoLseek64OID, gaussdbtype.Int4(o.fd), gaussdbtype.Int8(offset), gaussdbtype.Int4(int32(whence)))
	}

	if offset < math.MinInt32 || offset > math.MaxInt32 {
		return 0, ErrOffsetOutOfRange
	}
	pos, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoLseekOID, gaussdbtype.Int4(o.fd), gaussdbtype.Int4(int32(offset)), gaussdbtype.Int4(int32(whence)))
	return int64(pos), err
}

// Tell returns the current read or write location of the large object descriptor.
func (o *LargeObject) Tell() (int64, error) {
	if o.closed {
		return 0, ErrLargeObjectClosed
	}

	if o.objects.Has64BitSupport() {
		return o.conn().CallFunctionInt64(o.ctx, gaussdbtype.LoTell64OID, gaussdbtype.Int4(o.fd))
	}

	pos, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoTellOID, gaussdbtype.Int4(o.fd))
	return int64(pos), err
}

// Truncate the large object to size. The object is zero filled if size is past its end.
func (o *LargeObject) Truncate(size int64) error {
	if o.closed {
		return ErrLargeObjectClosed
	}
	if !o.writable {
		return ErrReadOnly
	}

	if o.objects.Has64BitSupport() {
		_, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoTruncate64OID, gaussdbtype.Int4(o.fd), gaussdbtype.Int8(size))
		return err
	}

	if size < 0 || size > math.MaxInt32 {
		return ErrOffsetOutOfRange
	}
	_, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoTruncateOID, gaussdbtype.Int4(o.fd), gaussdbtype.Int4(int32(size)))
	return err
}

// Close the large object descriptor. Closing an already closed descriptor does nothing.
func (o *LargeObject) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	_, err := o.conn().CallFunctionInt32(o.ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(o.fd))
	return err
}
