// Package gaussdbxtest provides utilities for testing gaussdblo and packages that integrate with gaussdblo.
package gaussdbxtest

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/internal/gaussdbmock"
)

// ServerVersion is a server version emulated by gaussdbmock.LargeObjectServer.
type ServerVersion struct {
	Version string // server_version
	Num     int    // server_version_num
}

func (sv ServerVersion) String() string {
	return sv.Version
}

var (
	// ServerVersion92 is the version GaussDB reports. It has no 64-bit large object functions.
	ServerVersion92 = ServerVersion{Version: "9.2.4", Num: 90204}
	ServerVersion96 = ServerVersion{Version: "9.6.0", Num: 90600}
)

// AllServerVersions is a slice of all emulated server versions.
var AllServerVersions = []ServerVersion{ServerVersion92, ServerVersion96}

// StartLargeObjectServer serves server on a new loopback listener until the test ends and returns a connection string
// for it.
func StartLargeObjectServer(t testing.TB, server *gaussdbmock.LargeObjectServer) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go server.Serve(ln)

	host, port, _ := strings.Cut(ln.Addr().String(), ":")
	return fmt.Sprintf("sslmode=disable host=%s port=%s", host, port)
}

// ConnTestRunner controls how a *gaussdbconn.GaussdbConn is created and closed by tests. All fields are required. Use
// DefaultConnTestRunner to get a ConnTestRunner with reasonable default values.
type ConnTestRunner struct {
	// CreateConfig returns a *gaussdbconn.Config suitable for use with gaussdbconn.ConnectConfig.
	CreateConfig func(ctx context.Context, t testing.TB) *gaussdbconn.Config

	// AfterConnect is called after conn is established. It allows for arbitrary connection setup before a test begins.
	AfterConnect func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn)

	// AfterTest is called after the test is run. It allows for validating the state of the connection before it is closed.
	AfterTest func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn)

	// CloseConn closes conn.
	CloseConn func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn)
}

// DefaultConnTestRunner returns a new ConnTestRunner with all fields set to reasonable default values. The config is
// taken from the PG* environment variables.
func DefaultConnTestRunner() ConnTestRunner {
	return ConnTestRunner{
		CreateConfig: func(ctx context.Context, t testing.TB) *gaussdbconn.Config {
			config, err := gaussdbconn.ParseConfig("")
			if err != nil {
				t.Fatalf("ParseConfig failed: %v", err)
			}
			return config
		},
		AfterConnect: func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn) {},
		AfterTest: func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn) {
			if conn.IsClosed() {
				t.Errorf("connection was closed by the test")
			}
		},
		CloseConn: func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn) {
			err := conn.Close(ctx)
			if err != nil {
				t.Errorf("Close failed: %v", err)
			}
		},
	}
}

// MockConnTestRunner returns a ConnTestRunner that connects to server.
func MockConnTestRunner(server *gaussdbmock.LargeObjectServer) ConnTestRunner {
	ctr := DefaultConnTestRunner()
	var connString string
	ctr.CreateConfig = func(ctx context.Context, t testing.TB) *gaussdbconn.Config {
		if connString == "" {
			connString = StartLargeObjectServer(t, server)
		}
		config, err := gaussdbconn.ParseConfig(connString)
		if err != nil {
			t.Fatalf("ParseConfig failed: %v", err)
		}
		return config
	}
	return ctr
}

func (ctr *ConnTestRunner) RunTest(ctx context.Context, t testing.TB, f func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn)) {
	t.Helper()

	config := ctr.CreateConfig(ctx, t)
	conn, err := gaussdbconn.ConnectConfig(ctx, config)
	if err != nil {
		t.Fatalf("ConnectConfig failed: %v", err)
	}
	defer ctr.CloseConn(ctx, t, conn)

	ctr.AfterConnect(ctx, t, conn)
	f(ctx, t, conn)
	ctr.AfterTest(ctx, t, conn)
}

// RunWithServerVersions runs f in a new test for each element of versions with a new emulated server and a connection
// to it. If versions is nil all emulated server versions are tested.
func RunWithServerVersions(ctx context.Context, t *testing.T, versions []ServerVersion, f func(ctx context.Context, t testing.TB, server *gaussdbmock.LargeObjectServer, conn *gaussdbconn.GaussdbConn)) {
	if versions == nil {
		versions = AllServerVersions
	}

	for _, version := range versions {
		version := version
		t.Run(version.String(),
			func(t *testing.T) {
				server := gaussdbmock.NewLargeObjectServer(version.Version, version.Num)
				ctr := MockConnTestRunner(server)
				ctr.RunTest(ctx, t, func(ctx context.Context, t testing.TB, conn *gaussdbconn.GaussdbConn) {
					f(ctx, t, server, conn)
				})
			},
		)
	}
}
