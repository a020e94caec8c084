package gaussdbconn_test

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gaussdblo "github.com/HuaweiCloudDeveloper/gaussdb-lo"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbproto"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbtype"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbxtest"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbmock"
)

// runScript serves steps to the first connection on a new listener and returns a connection string for it.
func runScript(t *testing.T, steps []gaussdbmock.Step) (string, chan error) {
	t.Helper()

	script := &gaussdbmock.Script{Steps: steps}

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	serverErrChan := make(chan error, 1)
	go func() {
		defer close(serverErrChan)

		conn, err := ln.Accept()
		if err != nil {
			serverErrChan <- err
			return
		}
		defer conn.Close()

		err = conn.SetDeadline(time.Now().Add(5 * time.Second))
		if err != nil {
			serverErrChan <- err
			return
		}

		err = script.Run(gaussdbproto.NewBackend(conn, conn))
		if err != nil {
			serverErrChan <- err
			return
		}
	}()

	host, port, _ := strings.Cut(ln.Addr().String(), ":")
	return fmt.Sprintf("sslmode=disable host=%s port=%s", host, port), serverErrChan
}

func connectScript(t *testing.T, ctx context.Context, steps []gaussdbmock.Step) (*gaussdbconn.GaussdbConn, chan error) {
	t.Helper()

	connStr, serverErrChan := runScript(t, steps)
	gaussdbConn, err := gaussdbconn.Connect(ctx, connStr)
	require.NoError(t, err)
	return gaussdbConn, serverErrChan
}

func closeConn(t testing.TB, conn *gaussdbconn.GaussdbConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Close(ctx))
	select {
	case <-conn.CleanupDone():
	case <-time.After(30 * time.Second):
		t.Fatal("Connection cleanup exceeded maximum time")
	}
}

type sleepStep time.Duration

func (s sleepStep) Step(*gaussdbproto.Backend) error {
	time.Sleep(time.Duration(s))
	return nil
}

func expectFunctionCall(fnOID uint32, args ...[]byte) gaussdbmock.Step {
	return gaussdbmock.ExpectMessage(&gaussdbproto.FunctionCall{
		Function:         fnOID,
		ArgFormatCodes:   []uint16{gaussdbproto.BinaryFormat},
		Arguments:        args,
		ResultFormatCode: gaussdbproto.BinaryFormat,
	})
}

func TestConnect(t *testing.T) {
	connString := os.Getenv(gaussdblo.EnvGaussdbTestDatabase)
	if connString == "" {
		t.Skipf("Skipping due to missing environment variable %v", gaussdblo.EnvGaussdbTestDatabase)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	conn, err := gaussdbconn.Connect(ctx, connString)
	require.NoError(t, err)
	assert.NotZero(t, conn.ServerVersion().Major)

	closeConn(t, conn)
}

func TestConnectReportsParameterStatus(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptConnRequestSteps(map[string]string{
		"server_version":  "9.2.4",
		"client_encoding": "GBK",
	})
	steps = append(steps, gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}))
	conn, serverErrChan := connectScript(t, ctx, steps)

	assert.Equal(t, gaussdbconn.ServerVersion{Major: 9, Minor: 2}, conn.ServerVersion())
	assert.Equal(t, "9.2.4", conn.ParameterStatus("server_version"))
	assert.Equal(t, "GBK", conn.TypeMap().ClientEncoding())
	assert.EqualValues(t, 'I', conn.TxStatus())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestConnectMD5Password(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	salt := [4]byte{1, 2, 3, 4}
	hexMD5 := func(s string) string {
		sum := md5.Sum([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	want := "md5" + hexMD5(hexMD5("secret"+"jack")+string(salt[:]))

	steps := []gaussdbmock.Step{
		gaussdbmock.ExpectAnyMessage(&gaussdbproto.StartupMessage{ProtocolVersion: gaussdbproto.ProtocolVersionNumber, Parameters: map[string]string{}}),
		gaussdbmock.SendMessage(&gaussdbproto.AuthenticationMD5Password{Salt: salt}),
		gaussdbmock.ExpectMessage(&gaussdbproto.PasswordMessage{Password: want}),
		gaussdbmock.SendMessage(&gaussdbproto.AuthenticationOk{}),
		gaussdbmock.SendMessage(&gaussdbproto.BackendKeyData{ProcessID: 42, SecretKey: 7}),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	}
	connStr, serverErrChan := runScript(t, steps)

	conn, err := gaussdbconn.Connect(ctx, connStr+" user=jack password=secret")
	require.NoError(t, err)
	assert.EqualValues(t, 42, conn.PID())
	assert.EqualValues(t, 7, conn.SecretKey())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestConnectServerError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := []gaussdbmock.Step{
		gaussdbmock.ExpectAnyMessage(&gaussdbproto.StartupMessage{ProtocolVersion: gaussdbproto.ProtocolVersionNumber, Parameters: map[string]string{}}),
		gaussdbmock.SendMessage(&gaussdbproto.ErrorResponse{Severity: "FATAL", Code: "28P01", Message: "password authentication failed"}),
	}
	connStr, serverErrChan := runScript(t, steps)

	_, err := gaussdbconn.Connect(ctx, connStr)
	var connectErr *gaussdbconn.ConnectError
	require.ErrorAs(t, err, &connectErr)
	var gaussdbErr *gaussdbconn.GaussdbError
	require.ErrorAs(t, err, &gaussdbErr)
	assert.Equal(t, "28P01", gaussdbErr.Code)

	assert.NoError(t, <-serverErrChan)
}

func TestConnectUnsupportedAuthentication(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name     string
		authType byte
	}{
		{"sha256", 10},
		{"sm3", 13},
	} {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			steps := []gaussdbmock.Step{
				gaussdbmock.ExpectAnyMessage(&gaussdbproto.StartupMessage{ProtocolVersion: gaussdbproto.ProtocolVersionNumber, Parameters: map[string]string{}}),
				gaussdbmock.SendRaw([]byte{'R', 0, 0, 0, 8, 0, 0, 0, tt.authType}),
			}
			connStr, serverErrChan := runScript(t, steps)

			_, err := gaussdbconn.Connect(ctx, connStr)
			var connectErr *gaussdbconn.ConnectError
			require.ErrorAs(t, err, &connectErr)
			assert.ErrorContains(t, err, fmt.Sprintf("unsupported authentication type: %d", tt.authType))

			assert.NoError(t, <-serverErrChan)
		})
	}
}

func TestConnectWithConnectionRefused(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Presumably nothing is listening on 127.0.0.1:1
	conn, err := gaussdbconn.Connect(ctx, "host=127.0.0.1 port=1")
	if err == nil {
		conn.Close(ctx)
		t.Fatal("Expected error establishing connection to bad port")
	}
}

func TestConnectConfigRequiresConfigFromParseConfig(t *testing.T) {
	config := &gaussdbconn.Config{}

	require.PanicsWithValue(t, "config must be created by ParseConfig", func() {
		gaussdbconn.ConnectConfig(context.Background(), config)
	})
}

func TestCallFunctionInt32(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoOpenOID, gaussdbtype.OID(16400), gaussdbtype.Int4(0x00040000)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(3)),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	fd, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoOpenOID, gaussdbtype.OID(16400), gaussdbtype.Int4(0x00040000))
	require.NoError(t, err)
	assert.EqualValues(t, 3, fd)
	assert.EqualValues(t, 'T', conn.TxStatus())
	assert.False(t, conn.IsBusy())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionInt64(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoTell64OID, gaussdbtype.Int4(0)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int8(math.MaxInt32+10)),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	pos, err := conn.CallFunctionInt64(ctx, gaussdbtype.LoTell64OID, gaussdbtype.Int4(0))
	require.NoError(t, err)
	assert.EqualValues(t, math.MaxInt32+10, pos)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionStreamsLargeResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result := make([]byte, 1<<20)
	for i := range result {
		result[i] = byte(i % 251)
	}

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoReadOID, gaussdbtype.Int4(0), gaussdbtype.Int4(int32(len(result)))),
		gaussdbmock.SendFunctionCallResponse(result),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	conn, err := gaussdbconn.Connect(ctx, connStr+" read_buffer_size=4096")
	require.NoError(t, err)

	fr := conn.CallFunction(ctx, gaussdbtype.LoReadOID, gaussdbconn.AnyLength, [][]byte{gaussdbtype.Int4(0), gaussdbtype.Int4(int32(len(result)))})
	require.EqualValues(t, len(result), fr.Len())
	assert.True(t, conn.IsBusy())

	var buf bytes.Buffer
	n, err := io.Copy(&buf, fr)
	require.NoError(t, err)
	assert.EqualValues(t, len(result), n)
	assert.Equal(t, result, buf.Bytes())
	require.NoError(t, fr.Close())
	assert.False(t, conn.IsBusy())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionCloseDiscardsUnreadResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(1)),
		gaussdbmock.SendFunctionCallResponse(bytes.Repeat([]byte("x"), 10000)),
		gaussdbmock.SendReadyForQuery('I'),
		expectFunctionCall(gaussdbtype.LoUnlinkOID, gaussdbtype.OID(1)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(1)),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	fr := conn.CallFunction(ctx, gaussdbtype.LoGetOID, gaussdbconn.AnyLength, [][]byte{gaussdbtype.OID(1)})
	buf := make([]byte, 10)
	_, err := io.ReadFull(fr, buf)
	require.NoError(t, err)
	require.NoError(t, fr.Close())
	require.NoError(t, fr.Close())

	n, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoUnlinkOID, gaussdbtype.OID(1))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionNullResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(1)),
		gaussdbmock.SendFunctionCallResponse(nil),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	buf, err := conn.CallFunctionBytes(ctx, gaussdbtype.LoGetOID, gaussdbtype.OID(1))
	require.NoError(t, err)
	assert.Nil(t, buf)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionNullArgument(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoFromByteaOID, gaussdbtype.OID(0), nil),
		gaussdbmock.SendError("22004", "null argument"),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	_, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoFromByteaOID, gaussdbtype.OID(0), nil)
	var gaussdbErr *gaussdbconn.GaussdbError
	require.ErrorAs(t, err, &gaussdbErr)
	assert.Equal(t, "22004", gaussdbErr.Code)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionServerErrorKeepsConnUsable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoUnlinkOID, gaussdbtype.OID(99)),
		gaussdbmock.SendError("42704", "large object 99 does not exist"),
		gaussdbmock.SendReadyForQuery('I'),
		expectFunctionCall(gaussdbtype.LoCreateOID, gaussdbtype.OID(0)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.OID(16384)),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	_, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoUnlinkOID, gaussdbtype.OID(99))
	var gaussdbErr *gaussdbconn.GaussdbError
	require.ErrorAs(t, err, &gaussdbErr)
	assert.Equal(t, "42704", gaussdbErr.Code)
	assert.Equal(t, "large object 99 does not exist", gaussdbErr.Message)
	assert.False(t, conn.IsClosed())

	oid, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoCreateOID, gaussdbtype.OID(0))
	require.NoError(t, err)
	assert.EqualValues(t, 16384, oid)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionUnexpectedResultLengthClosesConn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoTellOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int8(5)),
		gaussdbmock.SendReadyForQuery('T'),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	_, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoTellOID, gaussdbtype.Int4(0))
	var protocolErr *gaussdbconn.ProtocolViolationError
	require.ErrorAs(t, err, &protocolErr)
	assert.True(t, conn.IsClosed())

	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionProtocolViolationCancelsBackend(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := gaussdbmock.NewLargeObjectServer("9.6.0", 90600)
	server.PutObject(16384, []byte("0123456789"))
	conn, err := gaussdbconn.Connect(ctx, gaussdbxtest.StartLargeObjectServer(t, server))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = conn.CallFunctionInto(ctx, gaussdbtype.LoGetOID, buf, gaussdbtype.OID(16384))
	var protocolErr *gaussdbconn.ProtocolViolationError
	require.ErrorAs(t, err, &protocolErr)
	assert.True(t, conn.IsClosed())

	select {
	case <-conn.CleanupDone():
	case <-ctx.Done():
		t.Fatal("Connection cleanup exceeded maximum time")
	}

	require.Len(t, server.CancelRequests(), 1)
	assert.Equal(t, gaussdbproto.CancelRequest{ProcessID: conn.PID(), SecretKey: conn.SecretKey()}, server.CancelRequests()[0])
}

func TestCallFunctionReadyForQueryWithoutResponseClosesConn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoCloseOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendReadyForQuery('I'),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	_, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	var protocolErr *gaussdbconn.ProtocolViolationError
	require.ErrorAs(t, err, &protocolErr)
	assert.True(t, conn.IsClosed())

	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionTruncatedResponseClosesConn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(1)),
		// Announces 10 value bytes and delivers 3.
		gaussdbmock.SendRaw([]byte{'V', 0, 0, 0, 14, 0, 0, 0, 10, 'a', 'b', 'c'}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	_, err := conn.CallFunctionBytes(ctx, gaussdbtype.LoGetOID, gaussdbtype.OID(1))
	require.Error(t, err)
	assert.True(t, conn.IsClosed())

	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionReceiveBeforeResultConsumedClosesConn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(1)),
		gaussdbmock.SendFunctionCallResponse(bytes.Repeat([]byte("x"), 100)),
		gaussdbmock.SendReadyForQuery('I'),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	fr := conn.CallFunction(ctx, gaussdbtype.LoGetOID, gaussdbconn.AnyLength, [][]byte{gaussdbtype.OID(1)})
	require.EqualValues(t, 100, fr.Len())

	err := fr.ReceiveMessage()
	var protocolErr *gaussdbconn.ProtocolViolationError
	require.ErrorAs(t, err, &protocolErr)
	assert.ErrorIs(t, err, gaussdbproto.ErrResponseNotConsumed)
	var ioErr *gaussdbconn.IOError
	assert.False(t, errors.As(err, &ioErr))
	assert.True(t, conn.IsClosed())
	assert.Equal(t, err, fr.Close())

	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionTooManyArguments(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps, gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}))
	conn, serverErrChan := connectScript(t, ctx, steps)

	args := make([][]byte, math.MaxUint16+1)
	err := conn.CallFunctionVoid(ctx, gaussdbtype.LoPutOID, args...)
	var usageErr *gaussdbconn.UsageError
	require.ErrorAs(t, err, &usageErr)
	assert.ErrorIs(t, err, gaussdbproto.ErrTooManyFunctionArguments)
	assert.False(t, gaussdbconn.SafeToRetry(err))
	assert.False(t, conn.IsClosed())
	assert.False(t, conn.IsBusy())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionContextPrecanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps, gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}))
	conn, serverErrChan := connectScript(t, ctx, steps)

	canceledCtx, cancel := context.WithCancel(ctx)
	cancel()
	_, err := conn.CallFunctionInt32(canceledCtx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, gaussdbconn.SafeToRetry(err))
	assert.False(t, conn.IsClosed())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionContextDeadlineClosesConn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoCloseOID, gaussdbtype.Int4(0)),
		sleepStep(time.Second),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	callCtx, callCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer callCancel()
	_, err := conn.CallFunctionInt32(callCtx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.Error(t, err)
	assert.True(t, gaussdbconn.Timeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, conn.IsClosed())

	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionConnBusy(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(1)),
		gaussdbmock.SendFunctionCallResponse([]byte("abc")),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	fr := conn.CallFunction(ctx, gaussdbtype.LoGetOID, gaussdbconn.AnyLength, [][]byte{gaussdbtype.OID(1)})

	_, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.Error(t, err)
	assert.Equal(t, "conn busy", err.Error())
	assert.True(t, gaussdbconn.SafeToRetry(err))

	buf, err := io.ReadAll(fr)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf))
	require.NoError(t, fr.Close())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestCallFunctionHoldsNotificationsUntilClose(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoTellOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendMessage(&gaussdbproto.NotificationResponse{PID: 1, Channel: "ch", Payload: "first"}),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(10)),
		gaussdbmock.SendMessage(&gaussdbproto.NotificationResponse{PID: 1, Channel: "ch", Payload: "second"}),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	config, err := gaussdbconn.ParseConfig(connStr)
	require.NoError(t, err)
	var payloads []string
	config.OnNotification = func(_ *gaussdbconn.GaussdbConn, n *gaussdbconn.Notification) {
		payloads = append(payloads, n.Payload)
	}
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	require.NoError(t, err)

	fr := conn.CallFunction(ctx, gaussdbtype.LoTellOID, 4, [][]byte{gaussdbtype.Int4(0)})
	pos, err := fr.ReadInt32()
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos)
	assert.Empty(t, payloads)

	require.NoError(t, fr.Close())
	assert.Equal(t, []string{"first", "second"}, payloads)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestBlockNotificationsNests(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoCloseOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendMessage(&gaussdbproto.NotificationResponse{PID: 1, Channel: "ch", Payload: "held"}),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(0)),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	config, err := gaussdbconn.ParseConfig(connStr)
	require.NoError(t, err)
	var payloads []string
	config.OnNotification = func(_ *gaussdbconn.GaussdbConn, n *gaussdbconn.Notification) {
		payloads = append(payloads, n.Payload)
	}
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	require.NoError(t, err)

	unblock := conn.BlockNotifications()
	_, err = conn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.NoError(t, err)
	assert.Empty(t, payloads)

	unblock()
	assert.Equal(t, []string{"held"}, payloads)
	unblock()
	assert.Equal(t, []string{"held"}, payloads)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestGoCall(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoGetOID, gaussdbtype.OID(7)),
		gaussdbmock.SendFunctionCallResponse([]byte("Hello")),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	call := conn.Go(ctx, gaussdbtype.LoGetOID, [][]byte{gaussdbtype.OID(7)}, nil)
	select {
	case done := <-call.Done:
		require.Same(t, call, done)
		require.NoError(t, done.Err)
		assert.Equal(t, "Hello", string(done.Result))
		assert.EqualValues(t, gaussdbtype.LoGetOID, done.FunctionOID)
	case <-ctx.Done():
		t.Fatal("call did not complete")
	}

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestGoPanicsOnUnbufferedChannel(t *testing.T) {
	require.Panics(t, func() {
		(&gaussdbconn.GaussdbConn{}).Go(context.Background(), gaussdbtype.LoGetOID, nil, make(chan *gaussdbconn.Call))
	})
}

type recordingTracer struct {
	starts []gaussdbconn.TraceFastpathStartData
	ends   []gaussdbconn.TraceFastpathEndData
}

type tracerKey struct{}

func (rt *recordingTracer) TraceFastpathStart(ctx context.Context, _ *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathStartData) context.Context {
	rt.starts = append(rt.starts, data)
	return context.WithValue(ctx, tracerKey{}, len(rt.starts))
}

func (rt *recordingTracer) TraceFastpathEnd(ctx context.Context, _ *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathEndData) {
	if ctx.Value(tracerKey{}) != len(rt.starts) {
		panic("TraceFastpathEnd did not receive the context returned by TraceFastpathStart")
	}
	rt.ends = append(rt.ends, data)
}

func TestTracer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoUnlinkOID, gaussdbtype.OID(5)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(1)),
		gaussdbmock.SendReadyForQuery('I'),
		expectFunctionCall(gaussdbtype.LoUnlinkOID, gaussdbtype.OID(5)),
		gaussdbmock.SendError("42704", "large object 5 does not exist"),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	config, err := gaussdbconn.ParseConfig(connStr)
	require.NoError(t, err)
	tracer := &recordingTracer{}
	config.Tracer = tracer
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	require.NoError(t, err)

	_, err = conn.CallFunctionInt32(ctx, gaussdbtype.LoUnlinkOID, gaussdbtype.OID(5))
	require.NoError(t, err)
	_, err = conn.CallFunctionInt32(ctx, gaussdbtype.LoUnlinkOID, gaussdbtype.OID(5))
	require.Error(t, err)

	require.Len(t, tracer.starts, 2)
	require.Len(t, tracer.ends, 2)
	assert.EqualValues(t, gaussdbtype.LoUnlinkOID, tracer.starts[0].FunctionOID)
	assert.Equal(t, [][]byte{gaussdbtype.OID(5)}, tracer.starts[0].Args)
	assert.EqualValues(t, 4, tracer.ends[0].ResultLength)
	assert.NoError(t, tracer.ends[0].Err)
	assert.EqualValues(t, -1, tracer.ends[1].ResultLength)
	assert.Error(t, tracer.ends[1].Err)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestExec(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		gaussdbmock.ExpectMessage(&gaussdbproto.Query{String: "begin"}),
		gaussdbmock.SendMessage(&gaussdbproto.CommandComplete{CommandTag: []byte("BEGIN")}),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Query{String: "select bogus"}),
		gaussdbmock.SendError("42703", `column "bogus" does not exist`),
		gaussdbmock.SendReadyForQuery('E'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Query{String: "rollback"}),
		gaussdbmock.SendMessage(&gaussdbproto.CommandComplete{CommandTag: []byte("ROLLBACK")}),
		gaussdbmock.SendReadyForQuery('I'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	conn, serverErrChan := connectScript(t, ctx, steps)

	tag, err := conn.Exec(ctx, "begin")
	require.NoError(t, err)
	assert.Equal(t, "BEGIN", tag.String())
	assert.EqualValues(t, 'T', conn.TxStatus())

	_, err = conn.Exec(ctx, "select bogus")
	var gaussdbErr *gaussdbconn.GaussdbError
	require.ErrorAs(t, err, &gaussdbErr)
	assert.Equal(t, "42703", gaussdbErr.SQLState())
	assert.EqualValues(t, 'E', conn.TxStatus())

	tag, err = conn.Exec(ctx, "rollback")
	require.NoError(t, err)
	assert.Equal(t, "ROLLBACK", tag.String())
	assert.EqualValues(t, 'I', conn.TxStatus())

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestConnOnNotice(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoCloseOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendMessage(&gaussdbproto.NoticeResponse{Severity: "NOTICE", Code: "00000", Message: "hello, world"}),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(0)),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	config, err := gaussdbconn.ParseConfig(connStr)
	require.NoError(t, err)
	var msg string
	config.OnNotice = func(c *gaussdbconn.GaussdbConn, notice *gaussdbconn.Notice) {
		msg = notice.Message
	}
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	require.NoError(t, err)

	_, err = conn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.NoError(t, err)
	assert.Equal(t, "hello, world", msg)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestConnWaitForNotification(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps,
		gaussdbmock.SendMessage(&gaussdbproto.NotificationResponse{PID: 3, Channel: "lo", Payload: "changed"}),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	connStr, serverErrChan := runScript(t, steps)

	config, err := gaussdbconn.ParseConfig(connStr)
	require.NoError(t, err)
	var received *gaussdbconn.Notification
	config.OnNotification = func(_ *gaussdbconn.GaussdbConn, n *gaussdbconn.Notification) {
		received = n
	}
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	require.NoError(t, err)

	require.NoError(t, conn.WaitForNotification(ctx))
	require.NotNil(t, received)
	assert.Equal(t, &gaussdbconn.Notification{PID: 3, Channel: "lo", Payload: "changed"}, received)

	closeConn(t, conn)
	assert.NoError(t, <-serverErrChan)
}

func TestConnWaitForNotificationTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptUnauthenticatedConnRequestSteps()
	steps = append(steps, sleepStep(time.Second))
	conn, serverErrChan := connectScript(t, ctx, steps)

	waitCtx, waitCancel := context.WithTimeout(ctx, 5*time.Millisecond)
	err := conn.WaitForNotification(waitCtx)
	waitCancel()
	assert.True(t, gaussdbconn.Timeout(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.NoError(t, <-serverErrChan)
}

func TestHijackAndConstruct(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	steps := gaussdbmock.AcceptConnRequestSteps(map[string]string{"server_version": "9.6.2"})
	steps = append(steps,
		expectFunctionCall(gaussdbtype.LoCloseOID, gaussdbtype.Int4(0)),
		gaussdbmock.SendFunctionCallResponse(gaussdbtype.Int4(0)),
		gaussdbmock.SendReadyForQuery('T'),
		gaussdbmock.ExpectMessage(&gaussdbproto.Terminate{}),
	)
	origConn, serverErrChan := connectScript(t, ctx, steps)

	hc, err := origConn.Hijack()
	require.NoError(t, err)

	_, err = origConn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.Error(t, err)

	newConn, err := gaussdbconn.Construct(hc)
	require.NoError(t, err)
	assert.Equal(t, gaussdbconn.ServerVersion{Major: 9, Minor: 6}, newConn.ServerVersion())

	_, err = newConn.CallFunctionInt32(ctx, gaussdbtype.LoCloseOID, gaussdbtype.Int4(0))
	require.NoError(t, err)

	closeConn(t, newConn)
	assert.NoError(t, <-serverErrChan)
}

func TestParseServerVersion(t *testing.T) {
	tests := []struct {
		in   string
		want gaussdbconn.ServerVersion
		num  int
	}{
		{in: "9.2.4", want: gaussdbconn.ServerVersion{Major: 9, Minor: 2}, num: 90200},
		{in: "9.3", want: gaussdbconn.ServerVersion{Major: 9, Minor: 3}, num: 90300},
		{in: "13.2 (Debian 13.2-1.pgdg100+1)", want: gaussdbconn.ServerVersion{Major: 13, Minor: 2}, num: 130000},
		{in: "10beta1", want: gaussdbconn.ServerVersion{Major: 10}, num: 100000},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			v, err := gaussdbconn.ParseServerVersion(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
			assert.Equal(t, tt.num, v.Num())
		})
	}

	_, err := gaussdbconn.ParseServerVersion("devel")
	assert.Error(t, err)
}

func TestServerVersionAtLeast(t *testing.T) {
	v := gaussdbconn.ServerVersion{Major: 9, Minor: 3}
	assert.True(t, v.AtLeast(9, 3))
	assert.True(t, v.AtLeast(8, 4))
	assert.False(t, v.AtLeast(9, 4))
	assert.False(t, gaussdbconn.ServerVersion{Major: 9, Minor: 2}.AtLeast(9, 3))
	assert.True(t, gaussdbconn.ServerVersion{Major: 10}.AtLeast(9, 3))
}

func TestCallFunctionAgainstServer(t *testing.T) {
	connString := os.Getenv(gaussdblo.EnvGaussdbTestDatabase)
	if connString == "" {
		t.Skipf("Skipping due to missing environment variable %v", gaussdblo.EnvGaussdbTestDatabase)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	conn, err := gaussdbconn.Connect(ctx, connString)
	require.NoError(t, err)
	defer closeConn(t, conn)

	_, err = conn.Exec(ctx, "begin")
	require.NoError(t, err)
	defer conn.Exec(ctx, "rollback")

	oid, err := conn.CallFunctionInt32(ctx, gaussdbtype.LoCreateOID, gaussdbtype.OID(0))
	require.NoError(t, err)
	assert.NotZero(t, oid)

	_, err = conn.CallFunctionInt32(ctx, gaussdbtype.LoOpenOID, gaussdbtype.OID(uint32(oid)), gaussdbtype.Int4(0))
	var gaussdbErr *gaussdbconn.GaussdbError
	if errors.As(err, &gaussdbErr) {
		assert.Equal(t, "22023", gaussdbErr.Code)
	} else {
		require.Error(t, err)
	}
}
