package gaussdbmock

import (
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"strings"
	"sync"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbtype"
)

const (
	invWrite = 0x00020000
	invRead  = 0x00040000

	maxLargeObjectSize = math.MaxInt32 * 2048
	firstOID           = 16384
)

// LargeObjectServer emulates a GaussDB server that understands transaction control statements and the fastpath
// large object functions. Objects are shared by all connections. Changes become visible to other connections when
// the transaction that made them commits. Server files used by lo_import and lo_export are kept in memory.
type LargeObjectServer struct {
	// ServerVersion is reported as the server_version parameter.
	ServerVersion string

	// ServerVersionNum hides functions that are newer than the emulated server.
	ServerVersionNum int

	// ClientEncoding is reported as the client_encoding parameter.
	ClientEncoding string

	// NotifyOnCall sends a notification on channel "lo" before each function call response.
	NotifyOnCall bool

	mu      sync.Mutex
	cancels []gaussdbproto.CancelRequest
	objects map[uint32][]byte
	files   map[string][]byte
	calls   map[uint32]int
	nextOID uint32
	nextPID uint32
}

// NewLargeObjectServer returns a server reporting serverVersion. serverVersionNum is the same version in
// server_version_num form.
func NewLargeObjectServer(serverVersion string, serverVersionNum int) *LargeObjectServer {
	return &LargeObjectServer{
		ServerVersion:    serverVersion,
		ServerVersionNum: serverVersionNum,
		ClientEncoding:   "UTF8",
		objects:          make(map[uint32][]byte),
		files:            make(map[string][]byte),
		calls:            make(map[uint32]int),
		nextOID:          firstOID,
		nextPID:          1,
	}
}

// Serve accepts connections on ln until ln is closed.
func (s *LargeObjectServer) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		go func() {
			defer conn.Close()
			s.ServeConn(conn)
		}()
	}
}

// Object returns a copy of the committed contents of large object oid.
func (s *LargeObjectServer) Object(oid uint32) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[oid]
	return append([]byte{}, data...), ok
}

// PutObject stores a committed large object.
func (s *LargeObjectServer) PutObject(oid uint32, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[oid] = append([]byte{}, data...)
}

// File returns a copy of a server file.
func (s *LargeObjectServer) File(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	return append([]byte{}, data...), ok
}

// SetFile stores a server file.
func (s *LargeObjectServer) SetFile(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = append([]byte{}, data...)
}

// CallCount returns how many times the function fnOID has been called.
func (s *LargeObjectServer) CallCount(fnOID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[fnOID]
}

// CancelRequests returns the cancel requests received so far.
func (s *LargeObjectServer) CancelRequests() []gaussdbproto.CancelRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gaussdbproto.CancelRequest(nil), s.cancels...)
}

// ServeConn serves a single client connection until it terminates.
func (s *LargeObjectServer) ServeConn(conn net.Conn) error {
	backend := gaussdbproto.NewBackend(conn, conn)

	msg, err := backend.ReceiveStartupMessage()
	if err != nil {
		return err
	}
	if cancel, ok := msg.(*gaussdbproto.CancelRequest); ok {
		// Calls are answered immediately, so there is nothing to interrupt.
		s.mu.Lock()
		s.cancels = append(s.cancels, *cancel)
		s.mu.Unlock()
		return nil
	}

	s.mu.Lock()
	pid := s.nextPID
	s.nextPID++
	s.mu.Unlock()

	sess := &loSession{
		server:   s,
		backend:  backend,
		pid:      pid,
		typeMap:  gaussdbtype.NewMap(),
		txStatus: 'I',
	}
	if err := sess.typeMap.SetClientEncoding(s.ClientEncoding); err != nil {
		return err
	}

	backend.Send(&gaussdbproto.AuthenticationOk{})
	backend.Send(&gaussdbproto.ParameterStatus{Name: "server_version", Value: s.ServerVersion})
	backend.Send(&gaussdbproto.ParameterStatus{Name: "client_encoding", Value: s.ClientEncoding})
	backend.Send(&gaussdbproto.BackendKeyData{ProcessID: pid, SecretKey: pid})
	backend.Send(&gaussdbproto.ReadyForQuery{TxStatus: sess.txStatus})
	if err := backend.Flush(); err != nil {
		return err
	}

	for {
		msg, err := backend.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		switch msg := msg.(type) {
		case *gaussdbproto.Query:
			sess.query(msg.String)
		case *gaussdbproto.FunctionCall:
			sess.functionCall(msg)
		case *gaussdbproto.Terminate:
			return nil
		default:
			sess.sendError(&sqlError{code: "08P01", message: fmt.Sprintf("unexpected message %T", msg)})
		}

		backend.Send(&gaussdbproto.ReadyForQuery{TxStatus: sess.txStatus})
		if err := backend.Flush(); err != nil {
			return err
		}
	}
}

type sqlError struct {
	code    string
	message string
}

func (e *sqlError) Error() string {
	return e.message
}

func errorf(code, format string, args ...any) *sqlError {
	return &sqlError{code: code, message: fmt.Sprintf(format, args...)}
}

type loDescriptor struct {
	oid      uint32
	writable bool
	pos      int64
}

// loSession is the per connection state. Outside a transaction block each function call runs in its own implicit
// transaction.
type loSession struct {
	server   *LargeObjectServer
	backend  *gaussdbproto.Backend
	pid      uint32
	typeMap  *gaussdbtype.Map
	txStatus byte

	objects map[uint32][]byte // transaction working copy
	dirty   map[uint32]bool
	fds     map[int32]*loDescriptor
	nextFD  int32
}

func (sess *loSession) sendError(err error) {
	var sqlErr *sqlError
	if !errors.As(err, &sqlErr) {
		sqlErr = &sqlError{code: "XX000", message: err.Error()}
	}
	sess.backend.Send(&gaussdbproto.ErrorResponse{
		Severity:            "ERROR",
		SeverityUnlocalized: "ERROR",
		Code:                sqlErr.code,
		Message:             sqlErr.message,
	})
}

func (sess *loSession) sendWarning(code, message string) {
	sess.backend.Send(&gaussdbproto.NoticeResponse{
		Severity:            "WARNING",
		SeverityUnlocalized: "WARNING",
		Code:                code,
		Message:             message,
	})
}

func (sess *loSession) begin() {
	s := sess.server
	s.mu.Lock()
	sess.objects = make(map[uint32][]byte, len(s.objects))
	for oid, data := range s.objects {
		sess.objects[oid] = append([]byte{}, data...)
	}
	s.mu.Unlock()

	sess.dirty = make(map[uint32]bool)
	sess.fds = make(map[int32]*loDescriptor)
	sess.txStatus = 'T'
}

func (sess *loSession) commit() {
	s := sess.server
	s.mu.Lock()
	for oid := range sess.dirty {
		if data, ok := sess.objects[oid]; ok {
			s.objects[oid] = data
		} else {
			delete(s.objects, oid)
		}
	}
	s.mu.Unlock()
	sess.end()
}

func (sess *loSession) end() {
	sess.objects = nil
	sess.dirty = nil
	sess.fds = nil
	sess.txStatus = 'I'
}

func (sess *loSession) query(sql string) {
	stmt := strings.ToUpper(strings.Join(strings.Fields(strings.TrimSuffix(strings.TrimSpace(sql), ";")), " "))

	switch {
	case stmt == "":
		sess.backend.Send(&gaussdbproto.EmptyQueryResponse{})
		return
	case stmt == "ROLLBACK" || stmt == "ABORT":
		if sess.txStatus == 'I' {
			sess.sendWarning("25P01", "there is no transaction in progress")
		}
		sess.end()
		sess.commandComplete("ROLLBACK")
		return
	case stmt == "COMMIT" || stmt == "END":
		switch sess.txStatus {
		case 'I':
			sess.sendWarning("25P01", "there is no transaction in progress")
			sess.commandComplete("COMMIT")
		case 'E':
			sess.end()
			sess.commandComplete("ROLLBACK")
		default:
			sess.commit()
			sess.commandComplete("COMMIT")
		}
		return
	}

	if sess.txStatus == 'E' {
		sess.sendError(errorf("25P02", "current transaction is aborted, commands ignored until end of transaction block"))
		return
	}

	switch {
	case stmt == "BEGIN" || stmt == "START TRANSACTION":
		if sess.txStatus == 'T' {
			sess.sendWarning("25001", "there is already a transaction in progress")
		} else {
			sess.begin()
		}
		sess.commandComplete("BEGIN")
	case strings.HasPrefix(stmt, "SET CLIENT_ENCODING"):
		value := strings.TrimSpace(strings.TrimPrefix(stmt, "SET CLIENT_ENCODING"))
		value = strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(value, "TO"), "="))
		value = strings.Trim(value, `'"`)
		if err := sess.typeMap.SetClientEncoding(value); err != nil {
			sess.fail(errorf("22023", "invalid value for parameter \"client_encoding\": %q", value))
			return
		}
		sess.backend.Send(&gaussdbproto.ParameterStatus{Name: "client_encoding", Value: sess.typeMap.ClientEncoding()})
		sess.commandComplete("SET")
	default:
		sess.fail(errorf("0A000", "statement not supported: %s", sql))
	}
}

func (sess *loSession) commandComplete(tag string) {
	sess.backend.Send(&gaussdbproto.CommandComplete{CommandTag: []byte(tag)})
}

// fail reports err and aborts an open transaction block.
func (sess *loSession) fail(err error) {
	sess.sendError(err)
	if sess.txStatus == 'T' {
		sess.txStatus = 'E'
	}
}

func (sess *loSession) functionCall(msg *gaussdbproto.FunctionCall) {
	if sess.txStatus == 'E' {
		sess.sendError(errorf("25P02", "current transaction is aborted, commands ignored until end of transaction block"))
		return
	}

	implicit := sess.txStatus == 'I'
	if implicit {
		sess.begin()
	}

	result, err := sess.call(msg)
	if err != nil {
		sess.sendError(err)
		if implicit {
			sess.end()
		} else {
			sess.txStatus = 'E'
		}
		return
	}

	if implicit {
		sess.commit()
	}

	if sess.server.NotifyOnCall {
		sess.backend.Send(&gaussdbproto.NotificationResponse{PID: sess.pid, Channel: "lo", Payload: sess.typeMap.FunctionName(msg.Function)})
	}
	sess.backend.Send(&gaussdbproto.FunctionCallResponse{Result: result})
}

func (sess *loSession) call(msg *gaussdbproto.FunctionCall) ([]byte, error) {
	s := sess.server
	fn, ok := sess.typeMap.FunctionForOID(msg.Function)
	if !ok || fn.MinServerVersion > s.ServerVersionNum {
		return nil, errorf("42883", "function with OID %d does not exist", msg.Function)
	}

	s.mu.Lock()
	s.calls[msg.Function]++
	s.mu.Unlock()

	if len(msg.Arguments) != len(fn.ArgTypes) {
		return nil, errorf("08P01", "function %s expects %d arguments, got %d", fn.Name, len(fn.ArgTypes), len(msg.Arguments))
	}
	for _, code := range msg.ArgFormatCodes {
		if code != gaussdbproto.BinaryFormat {
			return nil, errorf("0A000", "only binary arguments are supported")
		}
	}

	args := make([]any, len(msg.Arguments))
	for i, arg := range msg.Arguments {
		if arg == nil {
			return nil, errorf("22004", "null argument %d to %s", i+1, fn.Name)
		}
		v, err := sess.typeMap.Decode(fn.ArgTypes[i], arg)
		if err != nil {
			return nil, errorf("22P03", "incorrect binary data format in function argument %d: %v", i+1, err)
		}
		args[i] = v
	}

	switch msg.Function {
	case gaussdbtype.LoCreatOID:
		return gaussdbtype.OID(sess.create(0)), nil
	case gaussdbtype.LoCreateOID:
		oid := args[0].(uint32)
		if _, ok := sess.objects[oid]; ok {
			return nil, errorf("42710", "large object %d already exists", oid)
		}
		return gaussdbtype.OID(sess.create(oid)), nil
	case gaussdbtype.LoOpenOID:
		return sess.open(args[0].(uint32), args[1].(int32))
	case gaussdbtype.LoCloseOID:
		fd := args[0].(int32)
		if _, err := sess.descriptor(fd); err != nil {
			return nil, err
		}
		delete(sess.fds, fd)
		return gaussdbtype.Int4(0), nil
	case gaussdbtype.LoReadOID:
		return sess.read(args[0].(int32), args[1].(int32))
	case gaussdbtype.LoWriteOID:
		return sess.write(args[0].(int32), args[1].([]byte))
	case gaussdbtype.LoLseekOID:
		pos, err := sess.seek(args[0].(int32), int64(args[1].(int32)), args[2].(int32))
		if err != nil {
			return nil, err
		}
		if pos > math.MaxInt32 {
			return nil, errorf("22003", "lo_lseek result out of range for large-object descriptor %d", args[0].(int32))
		}
		return gaussdbtype.Int4(int32(pos)), nil
	case gaussdbtype.LoLseek64OID:
		pos, err := sess.seek(args[0].(int32), args[1].(int64), args[2].(int32))
		if err != nil {
			return nil, err
		}
		return gaussdbtype.Int8(pos), nil
	case gaussdbtype.LoTellOID:
		d, err := sess.descriptor(args[0].(int32))
		if err != nil {
			return nil, err
		}
		if d.pos > math.MaxInt32 {
			return nil, errorf("22003", "lo_tell result out of range for large-object descriptor %d", args[0].(int32))
		}
		return gaussdbtype.Int4(int32(d.pos)), nil
	case gaussdbtype.LoTell64OID:
		d, err := sess.descriptor(args[0].(int32))
		if err != nil {
			return nil, err
		}
		return gaussdbtype.Int8(d.pos), nil
	case gaussdbtype.LoTruncateOID:
		return sess.truncate(args[0].(int32), int64(args[1].(int32)))
	case gaussdbtype.LoTruncate64OID:
		return sess.truncate(args[0].(int32), args[1].(int64))
	case gaussdbtype.LoUnlinkOID:
		oid := args[0].(uint32)
		if _, ok := sess.objects[oid]; !ok {
			return nil, errorf("42704", "large object %d does not exist", oid)
		}
		delete(sess.objects, oid)
		sess.dirty[oid] = true
		for fd, d := range sess.fds {
			if d.oid == oid {
				delete(sess.fds, fd)
			}
		}
		return gaussdbtype.Int4(1), nil
	case gaussdbtype.LoImportOID:
		return sess.importFile(args[0].(string), 0)
	case gaussdbtype.LoImportWithOIDOID:
		return sess.importFile(args[0].(string), args[1].(uint32))
	case gaussdbtype.LoExportOID:
		oid := args[0].(uint32)
		data, ok := sess.objects[oid]
		if !ok {
			return nil, errorf("42704", "large object %d does not exist", oid)
		}
		s.SetFile(args[1].(string), data)
		return gaussdbtype.Int4(1), nil
	case gaussdbtype.LoFromByteaOID:
		oid := args[0].(uint32)
		if _, ok := sess.objects[oid]; ok && oid != 0 {
			return nil, errorf("42710", "large object %d already exists", oid)
		}
		oid = sess.create(oid)
		sess.objects[oid] = args[1].([]byte)
		return gaussdbtype.OID(oid), nil
	case gaussdbtype.LoGetOID:
		oid := args[0].(uint32)
		data, ok := sess.objects[oid]
		if !ok {
			return nil, errorf("42704", "large object %d does not exist", oid)
		}
		return append([]byte{}, data...), nil
	case gaussdbtype.LoGetFragmentOID:
		oid := args[0].(uint32)
		data, ok := sess.objects[oid]
		if !ok {
			return nil, errorf("42704", "large object %d does not exist", oid)
		}
		offset, n := args[1].(int64), args[2].(int32)
		if offset < 0 || n < 0 {
			return nil, errorf("22023", "invalid large object fragment: offset %d length %d", offset, n)
		}
		return fragment(data, offset, int64(n)), nil
	case gaussdbtype.LoPutOID:
		oid := args[0].(uint32)
		data, ok := sess.objects[oid]
		if !ok {
			return nil, errorf("42704", "large object %d does not exist", oid)
		}
		offset := args[1].(int64)
		if offset < 0 {
			return nil, errorf("22023", "invalid large object write offset: %d", offset)
		}
		sess.objects[oid] = writeAt(data, offset, args[2].([]byte))
		sess.dirty[oid] = true
		return []byte{}, nil
	default:
		return nil, errorf("42883", "function %s is not implemented", fn.Name)
	}
}

// create adds an empty object. oid 0 allocates an unused OID.
func (sess *loSession) create(oid uint32) uint32 {
	if oid == 0 {
		s := sess.server
		s.mu.Lock()
		for {
			oid = s.nextOID
			s.nextOID++
			_, committed := s.objects[oid]
			_, local := sess.objects[oid]
			if !committed && !local {
				break
			}
		}
		s.mu.Unlock()
	}

	sess.objects[oid] = []byte{}
	sess.dirty[oid] = true
	return oid
}

func (sess *loSession) open(oid uint32, mode int32) ([]byte, error) {
	if _, ok := sess.objects[oid]; !ok {
		return nil, errorf("42704", "large object %d does not exist", oid)
	}
	if mode&(invRead|invWrite) == 0 {
		return nil, errorf("22023", "invalid flags for opening a large object: %d", mode)
	}

	fd := sess.nextFD
	sess.nextFD++
	sess.fds[fd] = &loDescriptor{oid: oid, writable: mode&invWrite != 0}
	return gaussdbtype.Int4(fd), nil
}

func (sess *loSession) descriptor(fd int32) (*loDescriptor, error) {
	d, ok := sess.fds[fd]
	if !ok {
		return nil, errorf("42704", "invalid large-object descriptor: %d", fd)
	}
	return d, nil
}

func (sess *loSession) writableDescriptor(fd int32) (*loDescriptor, error) {
	d, err := sess.descriptor(fd)
	if err != nil {
		return nil, err
	}
	if !d.writable {
		return nil, errorf("55000", "large object descriptor %d was not opened for writing", fd)
	}
	return d, nil
}

func (sess *loSession) read(fd, n int32) ([]byte, error) {
	d, err := sess.descriptor(fd)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, errorf("22023", "requested length cannot be negative")
	}

	buf := fragment(sess.objects[d.oid], d.pos, int64(n))
	d.pos += int64(len(buf))
	return buf, nil
}

func (sess *loSession) write(fd int32, data []byte) ([]byte, error) {
	d, err := sess.writableDescriptor(fd)
	if err != nil {
		return nil, err
	}
	if d.pos+int64(len(data)) > maxLargeObjectSize {
		return nil, errorf("22023", "invalid large object write request size: %d", len(data))
	}

	sess.objects[d.oid] = writeAt(sess.objects[d.oid], d.pos, data)
	sess.dirty[d.oid] = true
	d.pos += int64(len(data))
	return gaussdbtype.Int4(int32(len(data))), nil
}

func (sess *loSession) seek(fd int32, offset int64, whence int32) (int64, error) {
	d, err := sess.descriptor(fd)
	if err != nil {
		return 0, err
	}

	var pos int64
	switch whence {
	case 0:
		pos = offset
	case 1:
		pos = d.pos + offset
	case 2:
		pos = int64(len(sess.objects[d.oid])) + offset
	default:
		return 0, errorf("22023", "invalid whence setting: %d", whence)
	}
	if pos < 0 || pos > maxLargeObjectSize {
		return 0, errorf("22023", "invalid seek offset: %d", pos)
	}

	d.pos = pos
	return pos, nil
}

func (sess *loSession) truncate(fd int32, n int64) ([]byte, error) {
	d, err := sess.writableDescriptor(fd)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > maxLargeObjectSize {
		return nil, errorf("22023", "invalid large object truncation target: %d", n)
	}

	data := sess.objects[d.oid]
	if n <= int64(len(data)) {
		data = data[:n]
	} else {
		data = append(data, make([]byte, n-int64(len(data)))...)
	}
	sess.objects[d.oid] = data
	sess.dirty[d.oid] = true
	return gaussdbtype.Int4(0), nil
}

func (sess *loSession) importFile(path string, oid uint32) ([]byte, error) {
	data, ok := sess.server.File(path)
	if !ok {
		return nil, errorf("58P01", "could not open server file %q: No such file or directory", path)
	}
	if _, ok := sess.objects[oid]; ok && oid != 0 {
		return nil, errorf("42710", "large object %d already exists", oid)
	}

	oid = sess.create(oid)
	sess.objects[oid] = data
	return gaussdbtype.OID(oid), nil
}

// fragment returns a copy of at most n bytes of data starting at offset.
func fragment(data []byte, offset, n int64) []byte {
	if offset >= int64(len(data)) {
		return []byte{}
	}
	end := min(offset+n, int64(len(data)))
	return append([]byte{}, data[offset:end]...)
}

// writeAt writes p at offset, zero filling any gap past the end of data.
func writeAt(data []byte, offset int64, p []byte) []byte {
	end := offset + int64(len(p))
	if end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	copy(data[offset:], p)
	return data
}
