package gaussdbxpool

import (
	"context"

	"github.com/jackc/puddle/v2"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
)

// Conn is an acquired *gaussdbconn.GaussdbConn from a Pool.
type Conn struct {
	res *puddle.Resource[*gaussdbconn.GaussdbConn]
	p   *Pool
}

// Release returns c to the pool it was acquired from. Once Release has been called, other methods must not be called.
// However, it is safe to call Release multiple times. Subsequent calls after the first will be ignored.
//
// A connection that is closed, busy or still inside a transaction is destroyed instead of being returned.
func (c *Conn) Release() {
	if c.res == nil {
		return
	}

	conn := c.Conn()
	res := c.res
	c.res = nil

	if c.p.releaseTracer != nil {
		c.p.releaseTracer.TraceRelease(c.p, TraceReleaseData{Conn: conn})
	}

	if conn.IsClosed() || conn.IsBusy() || conn.TxStatus() != 'I' {
		res.Destroy()
		return
	}

	res.Release()
}

// Hijack assumes ownership of the connection from the pool. Caller is responsible for closing the connection. Hijack
// will panic if called on an already released or hijacked connection.
func (c *Conn) Hijack() *gaussdbconn.GaussdbConn {
	if c.res == nil {
		panic("cannot hijack already released or hijacked connection")
	}

	conn := c.Conn()
	res := c.res
	c.res = nil

	res.Hijack()

	return conn
}

// Exec runs a transaction control statement on the connection.
func (c *Conn) Exec(ctx context.Context, sql string) (gaussdbconn.CommandTag, error) {
	return c.Conn().Exec(ctx, sql)
}

// Conn returns the underlying connection.
func (c *Conn) Conn() *gaussdbconn.GaussdbConn {
	return c.res.Value()
}
