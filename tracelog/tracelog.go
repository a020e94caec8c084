// Package tracelog provides a tracer that acts as a traditional logger.
package tracelog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbxpool"
)

// LogLevel represents the GaussDB large object logging level. See LogLevel* constants for possible values.
type LogLevel int

// The values for log levels are chosen such that the zero value means that no
// log level was specified.
const (
	LogLevelTrace = LogLevel(6)
	LogLevelDebug = LogLevel(5)
	LogLevelInfo  = LogLevel(4)
	LogLevelWarn  = LogLevel(3)
	LogLevelError = LogLevel(2)
	LogLevelNone  = LogLevel(1)
)

func (ll LogLevel) String() string {
	switch ll {
	case LogLevelTrace:
		return "trace"
	case LogLevelDebug:
		return "debug"
	case LogLevelInfo:
		return "info"
	case LogLevelWarn:
		return "warn"
	case LogLevelError:
		return "error"
	case LogLevelNone:
		return "none"
	default:
		return fmt.Sprintf("invalid level %d", ll)
	}
}

// Logger is the interface used to get log output.
type Logger interface {
	Log(ctx context.Context, level LogLevel, msg string, data map[string]any)
}

// LoggerFunc is a wrapper around a function to satisfy the tracelog.Logger interface.
type LoggerFunc func(ctx context.Context, level LogLevel, msg string, data map[string]any)

// Log delegates the logging request to the wrapped function.
func (f LoggerFunc) Log(ctx context.Context, level LogLevel, msg string, data map[string]any) {
	f(ctx, level, msg, data)
}

// LogLevelFromString converts log level string to constant.
//
// Valid levels:
//
//	trace
//	debug
//	info
//	warn
//	error
//	none
func LogLevelFromString(s string) (LogLevel, error) {
	switch s {
	case "trace":
		return LogLevelTrace, nil
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn":
		return LogLevelWarn, nil
	case "error":
		return LogLevelError, nil
	case "none":
		return LogLevelNone, nil
	default:
		return 0, errors.New("invalid log level")
	}
}

// TraceLogConfig holds the configuration for key names.
type TraceLogConfig struct {
	TimeKey   string
	CallIDKey string
}

// DefaultTraceLogConfig returns the default configuration for TraceLog.
func DefaultTraceLogConfig() *TraceLogConfig {
	return &TraceLogConfig{
		TimeKey:   "time",
		CallIDKey: "callID",
	}
}

// TraceLog implements gaussdbconn.FastpathTracer and the gaussdbxpool tracers. Logger and LogLevel are required. Config
// will be automatically initialized on the first use if nil.
type TraceLog struct {
	Logger   Logger
	LogLevel LogLevel

	Config *TraceLogConfig
}

func (tl *TraceLog) ensureConfig() {
	if tl.Config == nil {
		tl.Config = DefaultTraceLogConfig()
	}
}

type ctxKey int

const (
	_ ctxKey = iota
	tracelogFastpathCtxKey
	tracelogAcquireCtxKey
)

type traceFastpathData struct {
	startTime   time.Time
	callID      string
	functionOID uint32
	args        [][]byte
}

func (tl *TraceLog) TraceFastpathStart(ctx context.Context, conn *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathStartData) context.Context {
	return context.WithValue(ctx, tracelogFastpathCtxKey, &traceFastpathData{
		startTime:   time.Now(),
		callID:      uuid.NewString(),
		functionOID: data.FunctionOID,
		args:        data.Args,
	})
}

func (tl *TraceLog) TraceFastpathEnd(ctx context.Context, conn *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathEndData) {
	tl.ensureConfig()
	callData := ctx.Value(tracelogFastpathCtxKey).(*traceFastpathData)

	endTime := time.Now()
	interval := endTime.Sub(callData.startTime)

	logData := map[string]any{
		tl.Config.CallIDKey: callData.callID,
		"function":          conn.TypeMap().FunctionName(callData.functionOID),
		"functionOID":       callData.functionOID,
		"argCount":          len(callData.args),
		tl.Config.TimeKey:   interval,
	}

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			logData["err"] = data.Err
			tl.log(ctx, conn, LogLevelError, "Fastpath", logData)
		}
		return
	}

	if tl.shouldLog(LogLevelDebug) {
		argSizes := make([]int, len(callData.args))
		for i, arg := range callData.args {
			if arg == nil {
				argSizes[i] = -1
			} else {
				argSizes[i] = len(arg)
			}
		}
		logData["argSizes"] = argSizes
	}

	if tl.shouldLog(LogLevelInfo) {
		logData["resultLength"] = data.ResultLength
		tl.log(ctx, conn, LogLevelInfo, "Fastpath", logData)
	}
}

type traceAcquireData struct {
	startTime time.Time
}

func (tl *TraceLog) TraceAcquireStart(ctx context.Context, _ *gaussdbxpool.Pool, _ gaussdbxpool.TraceAcquireStartData) context.Context {
	return context.WithValue(ctx, tracelogAcquireCtxKey, &traceAcquireData{
		startTime: time.Now(),
	})
}

func (tl *TraceLog) TraceAcquireEnd(ctx context.Context, _ *gaussdbxpool.Pool, data gaussdbxpool.TraceAcquireEndData) {
	tl.ensureConfig()
	acquireData := ctx.Value(tracelogAcquireCtxKey).(*traceAcquireData)

	interval := time.Since(acquireData.startTime)

	if data.Err != nil {
		if tl.shouldLog(LogLevelError) {
			tl.Logger.Log(ctx, LogLevelError, "Acquire", map[string]any{"err": data.Err, tl.Config.TimeKey: interval})
		}
		return
	}

	if data.Conn != nil {
		if tl.shouldLog(LogLevelDebug) {
			tl.log(ctx, data.Conn, LogLevelDebug, "Acquire", map[string]any{tl.Config.TimeKey: interval})
		}
	}
}

func (tl *TraceLog) TraceRelease(_ *gaussdbxpool.Pool, data gaussdbxpool.TraceReleaseData) {
	if tl.shouldLog(LogLevelDebug) {
		// there is no context on the TraceRelease callback
		tl.log(context.Background(), data.Conn, LogLevelDebug, "Release", map[string]any{})
	}
}

func (tl *TraceLog) shouldLog(lvl LogLevel) bool {
	return tl.LogLevel >= lvl
}

func (tl *TraceLog) log(ctx context.Context, conn *gaussdbconn.GaussdbConn, lvl LogLevel, msg string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}

	if conn != nil {
		if pid := conn.PID(); pid != 0 {
			data["pid"] = pid
		}
	}

	tl.Logger.Log(ctx, lvl, msg, data)
}
