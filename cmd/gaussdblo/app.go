package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	gaussdblo "github.com/HuaweiCloudDeveloper/gaussdb-lo"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbxpool"
)

type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type app struct {
	cfg    cliConfig
	log    zerolog.Logger
	pool   *gaussdbxpool.Pool
	stdout io.Writer
	outMux sync.Mutex
}

func newApp(ctx context.Context, cfg cliConfig, logger zerolog.Logger, stdout io.Writer) (*app, error) {
	poolConfig, err := gaussdbxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.Parallel)
	poolConfig.ConnConfig.Tracer = newTracer(logger, cfg.LogLevel)
	poolConfig.ConnConfig.OnNotice = func(_ *gaussdbconn.GaussdbConn, n *gaussdbconn.Notice) {
		logger.Warn().Str("code", n.Code).Msg(n.Message)
	}

	pool, err := gaussdbxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: logger, pool: pool, stdout: stdout}, nil
}

func (a *app) Close() {
	a.pool.Close()
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usagef("missing command: import, export, cat or unlink")
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "import":
		if len(args) == 0 {
			return usagef("import requires at least one file")
		}
		return a.importFiles(ctx, args)
	case "export":
		if len(args) != 2 {
			return usagef("export requires an OID and a file")
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return a.exportFile(ctx, oid, args[1])
	case "cat":
		if len(args) != 1 {
			return usagef("cat requires an OID")
		}
		oid, err := parseOID(args[0])
		if err != nil {
			return err
		}
		return a.copyOut(ctx, oid, a.stdout)
	case "unlink":
		if len(args) == 0 {
			return usagef("unlink requires at least one OID")
		}
		oids := make([]uint32, len(args))
		for i, s := range args {
			oid, err := parseOID(s)
			if err != nil {
				return err
			}
			oids[i] = oid
		}
		return a.unlink(ctx, oids)
	default:
		return usagef("unknown command %q", cmd)
	}
}

func parseOID(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, usagef("invalid OID %q", s)
	}
	return uint32(n), nil
}

// inTx runs f on a pooled connection inside a transaction. The transaction commits when f succeeds.
func (a *app) inTx(ctx context.Context, f func(lo *gaussdblo.LargeObjects) error) error {
	return a.pool.AcquireFunc(ctx, func(c *gaussdbxpool.Conn) (err error) {
		if _, err := c.Exec(ctx, "begin"); err != nil {
			return err
		}
		defer func() {
			if err != nil {
				c.Exec(ctx, "rollback")
				return
			}
			_, err = c.Exec(ctx, "commit")
		}()

		lo := gaussdblo.NewLargeObjects(c.Conn())
		lo.MaxTransferBlockSize = a.cfg.MaxTransferBlockSize
		return f(lo)
	})
}

func (a *app) importFiles(ctx context.Context, paths []string) error {
	oids := make([]uint32, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallel)
	for i, path := range paths {
		i := i
		path := path
		g.Go(func() error {
			oid, err := a.importFile(ctx, path)
			if err != nil {
				return fmt.Errorf("import %s: %w", path, err)
			}
			oids[i] = oid
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, path := range paths {
		fmt.Fprintf(a.stdout, "%s\t%d\n", path, oids[i])
	}
	return nil
}

func (a *app) importFile(ctx context.Context, path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var oid uint32
	err = a.inTx(ctx, func(lo *gaussdblo.LargeObjects) error {
		var err error
		oid, err = lo.Create(ctx, 0)
		if err != nil {
			return err
		}

		obj, err := lo.OpenReadWrite(ctx, oid)
		if err != nil {
			return err
		}
		n, err := io.CopyBuffer(obj, struct{ io.Reader }{f}, a.copyBuffer())
		if err != nil {
			return err
		}
		a.log.Info().Str("file", path).Uint32("oid", oid).Int64("bytes", n).Msg("imported")
		return obj.Close()
	})
	return oid, err
}

func (a *app) exportFile(ctx context.Context, oid uint32, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	err = a.copyOut(ctx, oid, f)
	closeErr := f.Close()
	if err != nil {
		os.Remove(path)
		return err
	}
	return closeErr
}

func (a *app) copyOut(ctx context.Context, oid uint32, w io.Writer) error {
	return a.inTx(ctx, func(lo *gaussdblo.LargeObjects) error {
		obj, err := lo.OpenRead(ctx, oid)
		if err != nil {
			return err
		}

		a.outMux.Lock()
		n, err := io.CopyBuffer(struct{ io.Writer }{w}, obj, a.copyBuffer())
		a.outMux.Unlock()
		if err != nil {
			return err
		}
		a.log.Info().Uint32("oid", oid).Int64("bytes", n).Msg("exported")
		return obj.Close()
	})
}

func (a *app) unlink(ctx context.Context, oids []uint32) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Parallel)
	for _, oid := range oids {
		oid := oid
		g.Go(func() error {
			err := a.pool.AcquireFunc(ctx, func(c *gaussdbxpool.Conn) error {
				return gaussdblo.NewLargeObjects(c.Conn()).Unlink(ctx, oid)
			})
			if err != nil {
				return fmt.Errorf("unlink %d: %w", oid, err)
			}
			a.log.Info().Uint32("oid", oid).Msg("unlinked")
			return nil
		})
	}
	return g.Wait()
}

func (a *app) copyBuffer() []byte {
	return make([]byte, min(a.cfg.MaxTransferBlockSize, 1024*1024))
}
