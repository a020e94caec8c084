package gaussdbconn

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn/ctxwatch"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbtype"
)

const (
	connStatusUninitialized = iota
	connStatusConnecting
	connStatusClosed
	connStatusIdle
	connStatusBusy
)

// Notice represents a notice response message reported by the GaussDB server. Be aware that this is distinct from
// LISTEN/NOTIFY notification.
type Notice GaussdbError

// Notification is a message received from the GaussDB LISTEN/NOTIFY system
type Notification struct {
	PID     uint32 // backend pid that sent the notification
	Channel string // channel from which notification was received
	Payload string
}

// DialFunc is a function that can be used to connect to a GaussDB server.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// BuildFrontendFunc is a function that can be used to create Frontend implementation for connection.
type BuildFrontendFunc func(r io.Reader, w io.Writer) *gaussdbproto.Frontend

// GaussdbErrorHandler is a function that handles errors returned from GaussDB. This function must return true to keep
// the connection open. Returning false will cause the connection to be closed immediately. You should return
// false on any FATAL-severity errors. This will not receive network errors. The *GaussdbConn is provided so the handler is
// aware of the origin of the error, but it must not invoke any query method.
type GaussdbErrorHandler func(*GaussdbConn, *GaussdbError) bool

// NoticeHandler is a function that can handle notices received from the GaussDB server. Notices can be received at
// any time, usually during handling of a query response. The *GaussdbConn is provided so the handler is aware of the origin
// of the notice, but it must not invoke any query method. Be aware that this is distinct from LISTEN/NOTIFY
// notification.
type NoticeHandler func(*GaussdbConn, *Notice)

// NotificationHandler is a function that can handle notifications received from the GaussDB server. The *GaussdbConn
// is provided so the handler is aware of the origin of the notice, but it must not invoke any query method.
type NotificationHandler func(*GaussdbConn, *Notification)

// GaussdbConn is a low-level GaussDB connection handle. It is not safe for concurrent usage.
type GaussdbConn struct {
	conn              net.Conn
	pid               uint32            // backend pid
	secretKey         uint32            // key to use to send a cancel query message to the server
	parameterStatuses map[string]string // parameters that have been reported by the server
	serverVersion     ServerVersion
	txStatus          byte
	frontend          *gaussdbproto.Frontend
	typeMap           *gaussdbtype.Map

	customData map[string]any

	config *Config

	status byte // One of connStatus* constants

	// notificationsBlocked counts open BlockNotifications scopes. While it is non-zero received notifications are
	// queued in heldNotifications instead of being passed to OnNotification.
	notificationsBlocked int
	heldNotifications    []*Notification

	// Reusable / preallocated resources
	functionCallReader FunctionCallReader
	contextWatcher     *ctxwatch.ContextWatcher

	cleanupDone chan struct{}
}

// Connect establishes a connection to a GaussDB server using the environment and connString (in URL or keyword/value
// format) to provide configuration. See documentation for [ParseConfig] for details. ctx can be used to cancel a
// connect attempt.
func Connect(ctx context.Context, connString string) (*GaussdbConn, error) {
	config, err := ParseConfig(connString)
	if err != nil {
		return nil, err
	}

	return ConnectConfig(ctx, config)
}

// ConnectConfig establishes a connection to a GaussDB server using config. config must have been constructed with
// [ParseConfig]. ctx can be used to cancel a connect attempt.
func ConnectConfig(ctx context.Context, config *Config) (*GaussdbConn, error) {
	// Default values are set in ParseConfig. Enforce initial creation by ParseConfig rather than setting defaults from
	// zero values.
	if !config.createdByParseConfig {
		panic("config must be created by ParseConfig")
	}

	// ConnectTimeout restricts the whole connection process.
	if config.ConnectTimeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.ConnectTimeout)
		defer cancel()
	}

	network, address := NetworkAddress(config.Host, config.Port)
	gaussdbConn, err := connectOne(ctx, config, network, address)
	if err != nil {
		return nil, &ConnectError{Config: config, err: err}
	}

	return gaussdbConn, nil
}

// connectOne makes one connection attempt to a single host.
func connectOne(ctx context.Context, config *Config, network, address string) (*GaussdbConn, error) {
	gaussdbConn := newGaussdbConn(config)

	newPerDialConnectError := func(msg string, err error) *perDialConnectError {
		err = normalizeTimeoutError(ctx, err)
		return &perDialConnectError{address: address, err: fmt.Errorf("%s: %w", msg, err)}
	}

	var err error
	gaussdbConn.conn, err = config.DialFunc(ctx, network, address)
	if err != nil {
		return nil, newPerDialConnectError("dial error", err)
	}

	gaussdbConn.contextWatcher = ctxwatch.NewContextWatcher(config.BuildContextWatcherHandler(gaussdbConn))
	gaussdbConn.contextWatcher.Watch(ctx)
	defer gaussdbConn.contextWatcher.Unwatch()

	gaussdbConn.status = connStatusConnecting
	gaussdbConn.frontend = config.BuildFrontend(gaussdbConn.conn, gaussdbConn.conn)

	startupMsg := gaussdbproto.StartupMessage{
		ProtocolVersion: gaussdbproto.ProtocolVersionNumber,
		Parameters:      make(map[string]string),
	}

	// Copy default run-time params
	for k, v := range config.RuntimeParams {
		startupMsg.Parameters[k] = v
	}

	startupMsg.Parameters["user"] = config.User
	if config.Database != "" {
		startupMsg.Parameters["database"] = config.Database
	}

	if err := gaussdbConn.send(&startupMsg); err != nil {
		gaussdbConn.conn.Close()
		return nil, newPerDialConnectError("failed to write startup message", err)
	}

	for {
		msg, err := gaussdbConn.receiveMessage()
		if err != nil {
			gaussdbConn.conn.Close()
			if err, ok := err.(*GaussdbError); ok {
				return nil, newPerDialConnectError("server error", err)
			}
			return nil, newPerDialConnectError("failed to receive message", err)
		}

		switch msg := msg.(type) {
		case *gaussdbproto.BackendKeyData:
			gaussdbConn.pid = msg.ProcessID
			gaussdbConn.secretKey = msg.SecretKey

		case *gaussdbproto.AuthenticationOk:
		case *gaussdbproto.AuthenticationCleartextPassword:
			err = gaussdbConn.txPasswordMessage(gaussdbConn.config.Password)
			if err != nil {
				gaussdbConn.conn.Close()
				return nil, newPerDialConnectError("failed to write password message", err)
			}
		case *gaussdbproto.AuthenticationMD5Password:
			digestedPassword := "md5" + hexMD5(hexMD5(gaussdbConn.config.Password+gaussdbConn.config.User)+string(msg.Salt[:]))
			err = gaussdbConn.txPasswordMessage(digestedPassword)
			if err != nil {
				gaussdbConn.conn.Close()
				return nil, newPerDialConnectError("failed to write password message", err)
			}
		case *gaussdbproto.ReadyForQuery:
			gaussdbConn.status = connStatusIdle
			return gaussdbConn, nil
		case *gaussdbproto.ParameterStatus, *gaussdbproto.NoticeResponse:
			// handled by receiveMessage
		case *gaussdbproto.ErrorResponse:
			gaussdbConn.conn.Close()
			return nil, newPerDialConnectError("server error", ErrorResponseToGaussdbError(msg))
		default:
			gaussdbConn.conn.Close()
			return nil, newPerDialConnectError("received unexpected message", fmt.Errorf("%T", msg))
		}
	}
}

func newGaussdbConn(config *Config) *GaussdbConn {
	return &GaussdbConn{
		config:            config,
		parameterStatuses: make(map[string]string),
		typeMap:           gaussdbtype.NewMap(),
		customData:        make(map[string]any),
		cleanupDone:       make(chan struct{}),
	}
}

func (gaussdbConn *GaussdbConn) txPasswordMessage(password string) (err error) {
	return gaussdbConn.send(&gaussdbproto.PasswordMessage{Password: password})
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}

// send writes msg and flushes it to the server.
func (gaussdbConn *GaussdbConn) send(msg gaussdbproto.FrontendMessage) error {
	if err := gaussdbConn.frontend.Send(msg); err != nil {
		return err
	}
	return gaussdbConn.frontend.Flush()
}

// receiveMessage receives a message without setting up context cancellation. Any error other than a timeout closes
// the connection.
func (gaussdbConn *GaussdbConn) receiveMessage() (gaussdbproto.BackendMessage, error) {
	msg, err := gaussdbConn.frontend.Receive()
	if err != nil {
		// Close on anything other than timeout error - everything else is fatal
		var netErr net.Error
		isNetErr := errors.As(err, &netErr)
		if !(isNetErr && netErr.Timeout()) || gaussdbConn.status == connStatusBusy {
			gaussdbConn.asyncClose()
		}

		return nil, err
	}

	switch msg := msg.(type) {
	case *gaussdbproto.ReadyForQuery:
		gaussdbConn.txStatus = msg.TxStatus
	case *gaussdbproto.ParameterStatus:
		gaussdbConn.parameterStatuses[msg.Name] = msg.Value
		gaussdbConn.parameterStatusChanged(msg.Name, msg.Value)
	case *gaussdbproto.ErrorResponse:
		err := ErrorResponseToGaussdbError(msg)
		if gaussdbConn.config.OnGaussdbError != nil && !gaussdbConn.config.OnGaussdbError(gaussdbConn, err) {
			gaussdbConn.status = connStatusClosed
			gaussdbConn.conn.Close() // Ignore error as the connection is already broken and there is already an error to return.
			close(gaussdbConn.cleanupDone)
			return nil, err
		}
	case *gaussdbproto.NoticeResponse:
		if gaussdbConn.config.OnNotice != nil {
			gaussdbConn.config.OnNotice(gaussdbConn, noticeResponseToNotice(msg))
		}
	case *gaussdbproto.NotificationResponse:
		n := &Notification{PID: msg.PID, Channel: msg.Channel, Payload: msg.Payload}
		if gaussdbConn.notificationsBlocked > 0 {
			gaussdbConn.heldNotifications = append(gaussdbConn.heldNotifications, n)
		} else if gaussdbConn.config.OnNotification != nil {
			gaussdbConn.config.OnNotification(gaussdbConn, n)
		}
	}

	return msg, nil
}

func (gaussdbConn *GaussdbConn) parameterStatusChanged(name, value string) {
	switch name {
	case "server_version":
		if v, err := ParseServerVersion(value); err == nil {
			gaussdbConn.serverVersion = v
		}
	case "client_encoding":
		// An encoding text cannot be converted to leaves the previous one in place. Text arguments then fail to
		// encode rather than being sent in the wrong encoding.
		_ = gaussdbConn.typeMap.SetClientEncoding(value)
	}
}

// BlockNotifications holds back notifications until the returned function is called. Notifications received in the
// meantime are delivered to OnNotification in arrival order once the last open scope ends. The returned function may
// be called more than once.
func (gaussdbConn *GaussdbConn) BlockNotifications() (unblock func()) {
	gaussdbConn.notificationsBlocked++

	released := false
	return func() {
		if released {
			return
		}
		released = true

		gaussdbConn.notificationsBlocked--
		if gaussdbConn.notificationsBlocked > 0 {
			return
		}

		held := gaussdbConn.heldNotifications
		gaussdbConn.heldNotifications = nil
		if gaussdbConn.config.OnNotification == nil {
			return
		}
		for _, n := range held {
			gaussdbConn.config.OnNotification(gaussdbConn, n)
		}
	}
}

// Conn returns the underlying net.Conn. This rarely necessary.
func (gaussdbConn *GaussdbConn) Conn() net.Conn {
	return gaussdbConn.conn
}

// PID returns the backend PID.
func (gaussdbConn *GaussdbConn) PID() uint32 {
	return gaussdbConn.pid
}

// TxStatus returns the current TxStatus as reported by the server in the ReadyForQuery message.
//
// Possible return values:
//
//	'I' - idle / not in transaction
//	'T' - in a transaction
//	'E' - in a failed transaction
func (gaussdbConn *GaussdbConn) TxStatus() byte {
	return gaussdbConn.txStatus
}

// SecretKey returns the backend secret key used to send a cancel query message to the server.
func (gaussdbConn *GaussdbConn) SecretKey() uint32 {
	return gaussdbConn.secretKey
}

// Frontend returns the underlying *gaussdbproto.Frontend. This rarely necessary.
func (gaussdbConn *GaussdbConn) Frontend() *gaussdbproto.Frontend {
	return gaussdbConn.frontend
}

// TypeMap returns the connection's type and function map. Its client encoding follows the server's client_encoding.
func (gaussdbConn *GaussdbConn) TypeMap() *gaussdbtype.Map {
	return gaussdbConn.typeMap
}

// ServerVersion returns the server version reported at connection startup.
func (gaussdbConn *GaussdbConn) ServerVersion() ServerVersion {
	return gaussdbConn.serverVersion
}

// Close closes a connection. It is safe to call Close on an already closed connection. Close attempts a clean close by
// sending the exit message to GaussDB. However, this could block so ctx is available to limit the time to wait. The
// underlying net.Conn.Close() will always be called regardless of any other errors.
func (gaussdbConn *GaussdbConn) Close(ctx context.Context) error {
	if gaussdbConn.status == connStatusClosed {
		return nil
	}
	gaussdbConn.status = connStatusClosed

	defer close(gaussdbConn.cleanupDone)
	defer gaussdbConn.conn.Close()

	if ctx != context.Background() {
		// Close may be called while a cancellable call is in progress. Unwatch to end any previous watch. It is safe to
		// Unwatch regardless of whether a watch is already is progress.
		gaussdbConn.contextWatcher.Unwatch()

		gaussdbConn.contextWatcher.Watch(ctx)
		defer gaussdbConn.contextWatcher.Unwatch()
	}

	// Ignore any errors sending Terminate message and waiting for server to close connection.
	// This mimics the behavior of libpq PQfinish. It calls closePGconn which calls sendTerminateConn which purposefully
	// ignores errors.
	gaussdbConn.send(&gaussdbproto.Terminate{})

	return gaussdbConn.conn.Close()
}

// asyncClose marks the connection as closed and asynchronously sends a cancel query message and closes the underlying
// connection.
func (gaussdbConn *GaussdbConn) asyncClose() {
	if gaussdbConn.status == connStatusClosed {
		return
	}
	gaussdbConn.status = connStatusClosed

	go func() {
		defer close(gaussdbConn.cleanupDone)
		defer gaussdbConn.conn.Close()

		deadline := time.Now().Add(time.Second * 15)

		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()

		gaussdbConn.CancelRequest(ctx)

		gaussdbConn.conn.SetDeadline(deadline)

		gaussdbConn.send(&gaussdbproto.Terminate{})
	}()
}

// CleanupDone returns a channel that will be closed after all underlying resources have been cleaned up. A closed
// connection is no longer usable, but underlying resources, in particular the net.Conn, may not have finished closing
// yet. This is because certain errors such as a context cancellation require that the interrupted function call return
// immediately, but the error may also cause the connection to be closed. In these cases the underlying resources are
// closed asynchronously.
//
// This is only likely to be useful to connection pools. It gives them a way avoid establishing a new connection while
// an old connection is still being cleaned up and thereby exceeding the maximum pool size.
func (gaussdbConn *GaussdbConn) CleanupDone() chan (struct{}) {
	return gaussdbConn.cleanupDone
}

// IsClosed reports if the connection has been closed.
//
// CleanupDone() can be used to determine if all cleanup has been completed.
func (gaussdbConn *GaussdbConn) IsClosed() bool {
	return gaussdbConn.status < connStatusIdle
}

// IsBusy reports if the connection is busy.
func (gaussdbConn *GaussdbConn) IsBusy() bool {
	return gaussdbConn.status == connStatusBusy
}

// lock locks the connection.
func (gaussdbConn *GaussdbConn) lock() error {
	switch gaussdbConn.status {
	case connStatusBusy:
		return &connLockError{status: "conn busy"} // This only should be possible in case of an application bug.
	case connStatusClosed:
		return &connLockError{status: "conn closed"}
	case connStatusUninitialized:
		return &connLockError{status: "conn uninitialized"}
	}
	gaussdbConn.status = connStatusBusy
	return nil
}

func (gaussdbConn *GaussdbConn) unlock() {
	switch gaussdbConn.status {
	case connStatusBusy:
		gaussdbConn.status = connStatusIdle
	case connStatusClosed:
	default:
		panic("BUG: cannot unlock unlocked connection") // This should only be possible if there is a bug in this package.
	}
}

// ParameterStatus returns the value of a parameter reported by the server (e.g.
// server_version). Returns an empty string for unknown parameters.
func (gaussdbConn *GaussdbConn) ParameterStatus(key string) string {
	return gaussdbConn.parameterStatuses[key]
}

// CommandTag is the status text returned by GaussDB for a query.
type CommandTag struct {
	s string
}

// NewCommandTag makes a CommandTag from s.
func NewCommandTag(s string) CommandTag {
	return CommandTag{s: s}
}

func (ct CommandTag) String() string {
	return ct.s
}

// ErrorResponseToGaussdbError converts a wire protocol error message to a *GaussdbError.
func ErrorResponseToGaussdbError(msg *gaussdbproto.ErrorResponse) *GaussdbError {
	return &GaussdbError{
		Severity:            msg.Severity,
		SeverityUnlocalized: msg.SeverityUnlocalized,
		Code:                msg.Code,
		Message:             msg.Message,
		Detail:              msg.Detail,
		Hint:                msg.Hint,
		Position:            msg.Position,
		InternalPosition:    msg.InternalPosition,
		InternalQuery:       msg.InternalQuery,
		Where:               msg.Where,
		SchemaName:          msg.SchemaName,
		TableName:           msg.TableName,
		ColumnName:          msg.ColumnName,
		DataTypeName:        msg.DataTypeName,
		ConstraintName:      msg.ConstraintName,
		File:                msg.File,
		Line:                msg.Line,
		Routine:             msg.Routine,
	}
}

func noticeResponseToNotice(msg *gaussdbproto.NoticeResponse) *Notice {
	gaussdbError := ErrorResponseToGaussdbError((*gaussdbproto.ErrorResponse)(msg))
	return (*Notice)(gaussdbError)
}

// CancelRequest sends a cancel request to the GaussDB server. It returns an error if unable to deliver the cancel
// request, but lack of an error does not ensure that the query was canceled. As specified in the documentation, there
// is no way to be sure a query was canceled.
func (gaussdbConn *GaussdbConn) CancelRequest(ctx context.Context) error {
	// Open a cancellation request to the same server. The address is taken from the net.Conn directly instead of reusing
	// the connection config.
	serverAddr := gaussdbConn.conn.RemoteAddr()
	var serverNetwork string
	var serverAddress string
	if serverAddr.Network() == "unix" {
		// for unix sockets, RemoteAddr() calls getpeername() which returns the name the
		// server passed to bind(). This is a relative path so connecting to it will fail. Fall back to the config's value
		serverNetwork, serverAddress = NetworkAddress(gaussdbConn.config.Host, gaussdbConn.config.Port)
	} else {
		serverNetwork, serverAddress = serverAddr.Network(), serverAddr.String()
	}
	cancelConn, err := gaussdbConn.config.DialFunc(ctx, serverNetwork, serverAddress)
	if err != nil {
		return err
	}
	defer cancelConn.Close()

	if ctx != context.Background() {
		contextWatcher := ctxwatch.NewContextWatcher(&DeadlineContextWatcherHandler{Conn: cancelConn})
		contextWatcher.Watch(ctx)
		defer contextWatcher.Unwatch()
	}

	buf, err := (&gaussdbproto.CancelRequest{ProcessID: gaussdbConn.pid, SecretKey: gaussdbConn.secretKey}).Encode(nil)
	if err != nil {
		return err
	}

	if _, err := cancelConn.Write(buf); err != nil {
		return fmt.Errorf("write to connection for cancellation: %w", err)
	}

	// Wait for the cancel request to be acknowledged by the server.
	_, _ = cancelConn.Read(buf)

	return nil
}

// WaitForNotification waits for a LISTEN/NOTIFY message to be received. It returns an error if a notification was not
// received. The notification is delivered to OnNotification.
func (gaussdbConn *GaussdbConn) WaitForNotification(ctx context.Context) error {
	if err := gaussdbConn.lock(); err != nil {
		return err
	}
	defer gaussdbConn.unlock()

	if ctx != context.Background() {
		select {
		case <-ctx.Done():
			return newContextAlreadyDoneError(ctx)
		default:
		}

		gaussdbConn.contextWatcher.Watch(ctx)
		defer gaussdbConn.contextWatcher.Unwatch()
	}

	for {
		msg, err := gaussdbConn.receiveMessage()
		if err != nil {
			return normalizeTimeoutError(ctx, err)
		}

		switch msg.(type) {
		case *gaussdbproto.NotificationResponse:
			return nil
		}
	}
}

// Exec executes a single statement that returns no rows via the simple query protocol and returns its command tag.
// It is meant for transaction control around large object calls. Statements that return rows are rejected after
// their rows have been discarded.
func (gaussdbConn *GaussdbConn) Exec(ctx context.Context, sql string) (CommandTag, error) {
	if err := gaussdbConn.lock(); err != nil {
		return CommandTag{}, err
	}
	defer gaussdbConn.unlock()

	if ctx != context.Background() {
		select {
		case <-ctx.Done():
			return CommandTag{}, newContextAlreadyDoneError(ctx)
		default:
		}
		gaussdbConn.contextWatcher.Watch(ctx)
		defer gaussdbConn.contextWatcher.Unwatch()
	}

	if err := gaussdbConn.send(&gaussdbproto.Query{String: sql}); err != nil {
		gaussdbConn.asyncClose()
		return CommandTag{}, &IOError{Op: "write", err: normalizeTimeoutError(ctx, err)}
	}

	var commandTag CommandTag
	var resultErr error
	for {
		msg, err := gaussdbConn.receiveMessage()
		if err != nil {
			var gaussdbErr *GaussdbError
			if errors.As(err, &gaussdbErr) {
				return CommandTag{}, err
			}
			return CommandTag{}, &IOError{Op: "read", err: normalizeTimeoutError(ctx, err)}
		}

		switch msg := msg.(type) {
		case *gaussdbproto.CommandComplete:
			commandTag = NewCommandTag(string(msg.CommandTag))
		case *gaussdbproto.ErrorResponse:
			if resultErr == nil {
				resultErr = ErrorResponseToGaussdbError(msg)
			}
		case *gaussdbproto.EmptyQueryResponse:
		case *gaussdbproto.ReadyForQuery:
			return commandTag, resultErr
		case *gaussdbproto.NoticeResponse, *gaussdbproto.ParameterStatus, *gaussdbproto.NotificationResponse:
		default:
			gaussdbConn.asyncClose()
			return CommandTag{}, &ProtocolViolationError{msg: fmt.Sprintf("unexpected %T in response to Exec", msg)}
		}
	}
}

// HijackedConn is the result of hijacking a connection.
//
// Due to the necessary exposure of internal implementation details, it is not covered by the semantic versioning
// compatibility.
type HijackedConn struct {
	Conn              net.Conn
	PID               uint32            // backend pid
	SecretKey         uint32            // key to use to send a cancel query message to the server
	ParameterStatuses map[string]string // parameters that have been reported by the server
	TxStatus          byte
	Frontend          *gaussdbproto.Frontend
	Config            *Config
	CustomData        map[string]any
}

// Hijack extracts the internal connection data. gaussdbConn must be in an idle state. gaussdbConn is unusable after
// hijacking.
//
// Due to the necessary exposure of internal implementation details, it is not covered by the semantic versioning
// compatibility.
func (gaussdbConn *GaussdbConn) Hijack() (*HijackedConn, error) {
	if err := gaussdbConn.lock(); err != nil {
		return nil, err
	}
	gaussdbConn.status = connStatusClosed

	return &HijackedConn{
		Conn:              gaussdbConn.conn,
		PID:               gaussdbConn.pid,
		SecretKey:         gaussdbConn.secretKey,
		ParameterStatuses: gaussdbConn.parameterStatuses,
		TxStatus:          gaussdbConn.txStatus,
		Frontend:          gaussdbConn.frontend,
		Config:            gaussdbConn.config,
		CustomData:        gaussdbConn.customData,
	}, nil
}

// Construct created a GaussdbConn from an already established connection to a GaussDB server. This is the inverse of
// GaussdbConn.Hijack. The connection must be in an idle state.
//
// If hc.Frontend is nil a new one is built by hc.Config.BuildFrontend. The server version and client encoding are
// taken from hc.ParameterStatuses.
//
// Due to the necessary exposure of internal implementation details, it is not covered by the semantic versioning
// compatibility.
func Construct(hc *HijackedConn) (*GaussdbConn, error) {
	gaussdbConn := newGaussdbConn(hc.Config)
	gaussdbConn.conn = hc.Conn
	gaussdbConn.pid = hc.PID
	gaussdbConn.secretKey = hc.SecretKey
	gaussdbConn.txStatus = hc.TxStatus
	gaussdbConn.frontend = hc.Frontend
	if hc.CustomData != nil {
		gaussdbConn.customData = hc.CustomData
	}
	for name, value := range hc.ParameterStatuses {
		gaussdbConn.parameterStatuses[name] = value
		gaussdbConn.parameterStatusChanged(name, value)
	}

	if gaussdbConn.frontend == nil {
		gaussdbConn.frontend = hc.Config.BuildFrontend(gaussdbConn.conn, gaussdbConn.conn)
	}
	gaussdbConn.contextWatcher = ctxwatch.NewContextWatcher(hc.Config.BuildContextWatcherHandler(gaussdbConn))
	gaussdbConn.status = connStatusIdle

	return gaussdbConn, nil
}

// CustomData returns a map that can be used to associate custom data with the connection.
func (gaussdbConn *GaussdbConn) CustomData() map[string]any {
	return gaussdbConn.customData
}

// ServerVersion is the major and minor version of a server. For servers before 10 Major holds the first two
// components, e.g. 9.3 is reported as Major 9 and Minor 3.
type ServerVersion struct {
	Major int
	Minor int
}

// ParseServerVersion parses a server_version parameter such as "9.4.26", "13.2 (Debian 13.2-1)" or "9.2.4-GaussDB".
func ParseServerVersion(s string) (ServerVersion, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexFunc(s, func(r rune) bool { return !(r == '.' || r >= '0' && r <= '9') })
	if end >= 0 {
		s = s[:end]
	}

	parts := strings.Split(s, ".")
	if len(parts) == 0 || parts[0] == "" {
		return ServerVersion{}, fmt.Errorf("invalid server version %q", s)
	}

	var v ServerVersion
	var err error
	v.Major, err = strconv.Atoi(parts[0])
	if err != nil {
		return ServerVersion{}, fmt.Errorf("invalid server version %q: %w", s, err)
	}
	if len(parts) > 1 && parts[1] != "" {
		v.Minor, err = strconv.Atoi(parts[1])
		if err != nil {
			return ServerVersion{}, fmt.Errorf("invalid server version %q: %w", s, err)
		}
	}
	return v, nil
}

// AtLeast reports whether v is major.minor or later.
func (v ServerVersion) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Num returns v in server_version_num form, e.g. 90300 for 9.3.
func (v ServerVersion) Num() int {
	if v.Major >= 10 {
		return v.Major * 10000
	}
	return v.Major*10000 + v.Minor*100
}

func (v ServerVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// DeadlineContextWatcherHandler handles canceled contexts by setting a deadline on a net.Conn.
type DeadlineContextWatcherHandler struct {
	Conn net.Conn

	// DeadlineDelay is the delay to set on the deadline set on net.Conn when the context is canceled.
	DeadlineDelay time.Duration
}

func (h *DeadlineContextWatcherHandler) HandleCancel(ctx context.Context) {
	h.Conn.SetDeadline(time.Now().Add(h.DeadlineDelay))
}

func (h *DeadlineContextWatcherHandler) HandleUnwatchAfterCancel() {
	h.Conn.SetDeadline(time.Time{})
}
