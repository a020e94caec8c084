package gaussdbconn

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
)

// AnyLength disables the result length check of CallFunction.
const AnyLength = -1

// FunctionCallReader is the result of a fastpath function call. Its value is streamed from the connection. The
// connection stays busy until Close is called.
type FunctionCallReader struct {
	gaussdbConn *GaussdbConn
	ctx         context.Context
	response    *gaussdbproto.FunctionCallResponse
	length      int32 // -1 until a non-NULL result has been received
	hasResult   bool
	functionOID uint32
	unblock     func()
	watching    bool
	err         error
	closed      bool
}

// CallFunction calls the server function with OID fnOID through the fastpath protocol. args are sent in binary
// format and a nil argument is sent as NULL. If expectedLength is not AnyLength a result of any other length is a
// protocol violation and closes the connection.
//
// Notifications received during the call are held back until the reader is closed. The returned reader must be
// closed before the connection is used again.
func (gaussdbConn *GaussdbConn) CallFunction(ctx context.Context, fnOID uint32, expectedLength int, args [][]byte) *FunctionCallReader {
	if err := gaussdbConn.lock(); err != nil {
		return &FunctionCallReader{length: -1, err: err, closed: true}
	}

	if ctx != context.Background() {
		select {
		case <-ctx.Done():
			gaussdbConn.unlock()
			return &FunctionCallReader{length: -1, err: newContextAlreadyDoneError(ctx), closed: true}
		default:
		}
		gaussdbConn.contextWatcher.Watch(ctx)
	}

	fr := &gaussdbConn.functionCallReader
	*fr = FunctionCallReader{
		gaussdbConn: gaussdbConn,
		ctx:         ctx,
		length:      -1,
		functionOID: fnOID,
		unblock:     gaussdbConn.BlockNotifications(),
		watching:    ctx != context.Background(),
	}

	if gaussdbConn.config.Tracer != nil {
		fr.ctx = gaussdbConn.config.Tracer.TraceFastpathStart(ctx, gaussdbConn, TraceFastpathStartData{FunctionOID: fnOID, Args: args})
	}

	msg := gaussdbproto.NewFunctionCall(fnOID, args)
	if err := gaussdbConn.frontend.ValidateFunctionCall(msg); err != nil {
		fr.finish(&UsageError{Msg: fmt.Sprintf("cannot call function %d", fnOID), Err: err})
		return fr
	}

	err := gaussdbConn.frontend.SendFunctionCall(msg)
	if err == nil {
		err = gaussdbConn.frontend.Flush()
	}
	if err != nil {
		gaussdbConn.asyncClose()
		fr.finish(&IOError{Op: "write", err: normalizeTimeoutError(ctx, err)})
		return fr
	}

	fr.receiveResponse(expectedLength)
	return fr
}

// receiveResponse reads up to the FunctionCallResponse. On a server error the rest of the response is read up to
// ReadyForQuery so the connection stays usable.
func (fr *FunctionCallReader) receiveResponse(expectedLength int) {
	gaussdbConn := fr.gaussdbConn
	for {
		msg, err := fr.receiveMessage()
		if err != nil {
			fr.finish(err)
			return
		}

		switch msg := msg.(type) {
		case *gaussdbproto.FunctionCallResponse:
			if expectedLength != AnyLength && int(msg.Len()) != expectedLength {
				got := msg.Len()
				// Consume the response so the server is left at a message boundary before the connection is closed.
				if err := msg.Discard(); err == nil {
					fr.readUntilReadyForQuery()
				}
				gaussdbConn.asyncClose()
				fr.finish(&ProtocolViolationError{msg: fmt.Sprintf("function %d returned %d bytes, expected %d", fr.functionOID, got, expectedLength)})
				return
			}
			fr.response = msg
			fr.length = msg.Len()
			fr.hasResult = true
			return
		case *gaussdbproto.ErrorResponse:
			gaussdbErr := ErrorResponseToGaussdbError(msg)
			if err := fr.readUntilReadyForQuery(); err != nil {
				fr.finish(err)
				return
			}
			fr.finish(gaussdbErr)
			return
		case *gaussdbproto.NoticeResponse, *gaussdbproto.ParameterStatus, *gaussdbproto.NotificationResponse:
		default:
			gaussdbConn.asyncClose()
			fr.finish(&ProtocolViolationError{msg: fmt.Sprintf("unexpected %T in response to function call", msg)})
			return
		}
	}
}

func (fr *FunctionCallReader) receiveMessage() (gaussdbproto.BackendMessage, error) {
	msg, err := fr.gaussdbConn.receiveMessage()
	if err != nil {
		var gaussdbErr *GaussdbError
		if errors.As(err, &gaussdbErr) {
			// OnGaussdbError closed the connection.
			return nil, err
		}
		fr.gaussdbConn.asyncClose()
		if errors.Is(err, gaussdbproto.ErrResponseNotConsumed) {
			return nil, &ProtocolViolationError{msg: fmt.Sprintf("result of function %d read out of order", fr.functionOID), err: err}
		}
		return nil, &IOError{Op: "read", err: normalizeTimeoutError(fr.ctx, err)}
	}
	return msg, nil
}

// readUntilReadyForQuery consumes messages up to and including ReadyForQuery.
func (fr *FunctionCallReader) readUntilReadyForQuery() error {
	for {
		msg, err := fr.receiveMessage()
		if err != nil {
			return err
		}

		switch msg.(type) {
		case *gaussdbproto.ReadyForQuery:
			return nil
		case *gaussdbproto.NoticeResponse, *gaussdbproto.ParameterStatus, *gaussdbproto.NotificationResponse, *gaussdbproto.ErrorResponse:
		default:
			fr.gaussdbConn.asyncClose()
			return &ProtocolViolationError{msg: fmt.Sprintf("unexpected %T while waiting for ReadyForQuery", msg)}
		}
	}
}

// Len returns the length of the result value. -1 means NULL or that no result was received.
func (fr *FunctionCallReader) Len() int32 {
	return fr.length
}

// IsNull reports whether the function returned NULL.
func (fr *FunctionCallReader) IsNull() bool {
	return fr.hasResult && fr.length == -1
}

// Read reads the result value. It returns io.EOF at the end of the value. Reading large values into large buffers
// bypasses the connection's read buffer.
func (fr *FunctionCallReader) Read(p []byte) (int, error) {
	if fr.err != nil {
		return 0, fr.err
	}
	if fr.response == nil {
		return 0, io.EOF
	}

	n, err := fr.response.Read(p)
	if err != nil && err != io.EOF {
		fr.fail(err)
		return n, fr.err
	}
	return n, err
}

// ReadInt32 reads a 4 byte integer from the result value.
func (fr *FunctionCallReader) ReadInt32() (int32, error) {
	if err := fr.readable(4); err != nil {
		return 0, err
	}
	n, err := fr.response.ReadInt32()
	if err != nil {
		fr.fail(err)
		return 0, fr.err
	}
	return n, nil
}

// ReadInt64 reads an 8 byte integer from the result value.
func (fr *FunctionCallReader) ReadInt64() (int64, error) {
	if err := fr.readable(8); err != nil {
		return 0, err
	}
	n, err := fr.response.ReadInt64()
	if err != nil {
		fr.fail(err)
		return 0, fr.err
	}
	return n, nil
}

// readable checks that n more bytes of the result can be read. A result too short for the read is a protocol
// violation.
func (fr *FunctionCallReader) readable(n int) error {
	if fr.err != nil {
		return fr.err
	}
	if fr.closed {
		return NewUsageError("function call result is closed")
	}

	var violation *ProtocolViolationError
	if fr.IsNull() {
		violation = &ProtocolViolationError{msg: fmt.Sprintf("function %d returned NULL", fr.functionOID)}
	} else if fr.response.Remaining() < n {
		violation = &ProtocolViolationError{msg: fmt.Sprintf("function %d result too short for %d byte read", fr.functionOID, n)}
	}
	if violation != nil {
		fr.gaussdbConn.asyncClose()
		fr.finish(violation)
		return fr.err
	}
	return nil
}

// fail records a transport error from the middle of a value. The connection cannot be resynchronized.
func (fr *FunctionCallReader) fail(err error) {
	fr.gaussdbConn.asyncClose()
	fr.finish(&IOError{Op: "read", err: normalizeTimeoutError(fr.ctx, err)})
}

// Close discards any unread part of the result, waits for ReadyForQuery and releases the connection. It returns the
// error of the call, if any. Close is safe to call more than once.
func (fr *FunctionCallReader) Close() error {
	if fr.closed {
		return fr.err
	}

	if fr.response != nil {
		if err := fr.response.Discard(); err != nil {
			fr.gaussdbConn.asyncClose()
			fr.finish(&IOError{Op: "read", err: normalizeTimeoutError(fr.ctx, err)})
			return fr.err
		}
		fr.response = nil
		if err := fr.readUntilReadyForQuery(); err != nil {
			fr.finish(err)
			return fr.err
		}
	}

	fr.finish(nil)
	return fr.err
}

// finish ends the call with err. The first error is kept.
func (fr *FunctionCallReader) finish(err error) {
	if fr.closed {
		return
	}
	fr.closed = true
	if fr.err == nil {
		fr.err = err
	}

	gaussdbConn := fr.gaussdbConn
	if gaussdbConn.config.Tracer != nil {
		gaussdbConn.config.Tracer.TraceFastpathEnd(fr.ctx, gaussdbConn, TraceFastpathEndData{
			FunctionOID:  fr.functionOID,
			ResultLength: fr.Len(),
			Err:          fr.err,
		})
	}

	if fr.watching {
		gaussdbConn.contextWatcher.Unwatch()
	}
	gaussdbConn.unlock()
	fr.unblock()
}

// CallFunctionInt32 calls a function returning a 4 byte integer.
func (gaussdbConn *GaussdbConn) CallFunctionInt32(ctx context.Context, fnOID uint32, args ...[]byte) (int32, error) {
	fr := gaussdbConn.CallFunction(ctx, fnOID, 4, args)
	n, err := fr.ReadInt32()
	closeErr := fr.Close()
	if closeErr != nil {
		return 0, closeErr
	}
	return n, err
}

// CallFunctionInt64 calls a function returning an 8 byte integer.
func (gaussdbConn *GaussdbConn) CallFunctionInt64(ctx context.Context, fnOID uint32, args ...[]byte) (int64, error) {
	fr := gaussdbConn.CallFunction(ctx, fnOID, 8, args)
	n, err := fr.ReadInt64()
	closeErr := fr.Close()
	if closeErr != nil {
		return 0, closeErr
	}
	return n, err
}

// CallFunctionBytes calls a function and returns a copy of its result. A NULL result is returned as nil.
func (gaussdbConn *GaussdbConn) CallFunctionBytes(ctx context.Context, fnOID uint32, args ...[]byte) ([]byte, error) {
	fr := gaussdbConn.CallFunction(ctx, fnOID, AnyLength, args)
	var buf []byte
	var err error
	if n := fr.Len(); n >= 0 {
		buf = make([]byte, n)
		_, err = io.ReadFull(fr, buf)
	}
	closeErr := fr.Close()
	if closeErr != nil {
		return nil, closeErr
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

// CallFunctionInto calls a function and reads its result into p. It returns the number of bytes read. A result longer
// than p is an error and leaves the connection closed.
func (gaussdbConn *GaussdbConn) CallFunctionInto(ctx context.Context, fnOID uint32, p []byte, args ...[]byte) (int, error) {
	fr := gaussdbConn.CallFunction(ctx, fnOID, AnyLength, args)
	n := 0
	var err error
	if l := int(fr.Len()); l > len(p) {
		fr.gaussdbConn.asyncClose()
		fr.finish(&ProtocolViolationError{msg: fmt.Sprintf("function %d returned %d bytes, expected at most %d", fnOID, l, len(p))})
	} else if l > 0 {
		n, err = io.ReadFull(fr, p[:l])
	}
	closeErr := fr.Close()
	if closeErr != nil {
		return 0, closeErr
	}
	return n, err
}

// CallFunctionVoid calls a function and discards its result.
func (gaussdbConn *GaussdbConn) CallFunctionVoid(ctx context.Context, fnOID uint32, args ...[]byte) error {
	return gaussdbConn.CallFunction(ctx, fnOID, AnyLength, args).Close()
}

// Call is an asynchronous function call started by Go.
type Call struct {
	FunctionOID uint32
	Args        [][]byte
	Result      []byte // nil for a NULL result
	Err         error
	Done        chan *Call // receives the call when it is complete
}

// Go calls a function in a new goroutine and sends the completed call on done. If done is nil a new channel is
// allocated. A non-nil done must be buffered. The connection must not be used by the caller until the call is
// received from done.
func (gaussdbConn *GaussdbConn) Go(ctx context.Context, fnOID uint32, args [][]byte, done chan *Call) *Call {
	if done == nil {
		done = make(chan *Call, 1)
	} else if cap(done) == 0 {
		panic("gaussdbconn: unbuffered done channel")
	}

	call := &Call{FunctionOID: fnOID, Args: args, Done: done}
	go func() {
		call.Result, call.Err = gaussdbConn.CallFunctionBytes(ctx, fnOID, args...)
		call.Done <- call
	}()
	return call
}
