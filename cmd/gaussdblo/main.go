// Command gaussdblo copies large objects between local files and a GaussDB server.
//
// Usage:
//
//	gaussdblo [flags] import FILE...
//	gaussdblo [flags] export OID FILE
//	gaussdblo [flags] cat OID
//	gaussdblo [flags] unlink OID...
//
// The connection string is taken from -conn, the conn_string setting of the -config file or the PG* environment
// variables. GAUSSDBLO_LOG_LEVEL overrides the configured log level.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/log/zerologadapter"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/tracelog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gaussdblo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path of a TOML config file")
	connString := fs.String("conn", "", "connection string")
	logLevel := fs.String("log-level", "", "log level: trace|debug|info|warn|error|none")
	parallel := fs.Int("parallel", 0, "number of objects transferred at once")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if *connString != "" {
		cfg.ConnString = *connString
	}
	if *logLevel != "" {
		if cfg.LogLevel, err = tracelog.LogLevelFromString(*logLevel); err != nil {
			fmt.Fprintf(stderr, "parse -log-level: %v\n", err)
			return 2
		}
	}
	if *parallel != 0 {
		cfg.Parallel = *parallel
	}
	if err := validateConfig(cfg); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	logger := newLogger(stderr, cfg.LogLevel)

	a, err := newApp(ctx, cfg, logger, stdout)
	if err != nil {
		logger.Error().Err(err).Msg("failed to configure connection")
		return 1
	}
	defer a.Close()

	if err := a.run(ctx, fs.Args()); err != nil {
		if usageErr, ok := err.(*usageError); ok {
			fmt.Fprintln(stderr, usageErr)
			return 2
		}
		logger.Error().Err(err).Msg("command failed")
		return 1
	}
	return 0
}

func newLogger(out io.Writer, level tracelog.LogLevel) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    true,
	}
	return zerolog.New(output).Level(zerologLevel(level)).With().Timestamp().Str("app", "gaussdblo").Logger()
}

func newTracer(logger zerolog.Logger, level tracelog.LogLevel) *tracelog.TraceLog {
	return &tracelog.TraceLog{
		Logger:   zerologadapter.NewLogger(logger),
		LogLevel: level,
	}
}

func zerologLevel(level tracelog.LogLevel) zerolog.Level {
	switch level {
	case tracelog.LogLevelTrace:
		return zerolog.TraceLevel
	case tracelog.LogLevelDebug:
		return zerolog.DebugLevel
	case tracelog.LogLevelInfo:
		return zerolog.InfoLevel
	case tracelog.LogLevelWarn:
		return zerolog.WarnLevel
	case tracelog.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.Disabled
	}
}
