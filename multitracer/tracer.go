// Package multitracer provides a Tracer that can combine several tracers into one.
package multitracer

import (
	"context"

	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbconn"
	"github.com/HuaweiCloudDeveloper/gaussdb-lo/gaussdbxpool"
)

// Tracer can combine several tracers into one.
// You can use New to automatically split tracers by interface.
type Tracer struct {
	FastpathTracers    []gaussdbconn.FastpathTracer
	PoolAcquireTracers []gaussdbxpool.AcquireTracer
	PoolReleaseTracers []gaussdbxpool.ReleaseTracer
}

// New returns new Tracer from tracers with automatically split tracers by interface.
func New(tracers ...gaussdbconn.FastpathTracer) *Tracer {
	var t Tracer

	for _, tracer := range tracers {
		t.FastpathTracers = append(t.FastpathTracers, tracer)

		if poolAcquireTracer, ok := tracer.(gaussdbxpool.AcquireTracer); ok {
			t.PoolAcquireTracers = append(t.PoolAcquireTracers, poolAcquireTracer)
		}

		if poolReleaseTracer, ok := tracer.(gaussdbxpool.ReleaseTracer); ok {
			t.PoolReleaseTracers = append(t.PoolReleaseTracers, poolReleaseTracer)
		}
	}

	return &t
}

func (t *Tracer) TraceFastpathStart(ctx context.Context, conn *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathStartData) context.Context {
	for _, tracer := range t.FastpathTracers {
		ctx = tracer.TraceFastpathStart(ctx, conn, data)
	}

	return ctx
}

func (t *Tracer) TraceFastpathEnd(ctx context.Context, conn *gaussdbconn.GaussdbConn, data gaussdbconn.TraceFastpathEndData) {
	for _, tracer := range t.FastpathTracers {
		tracer.TraceFastpathEnd(ctx, conn, data)
	}
}

func (t *Tracer) TraceAcquireStart(ctx context.Context, pool *gaussdbxpool.Pool, data gaussdbxpool.TraceAcquireStartData) context.Context {
	for _, tracer := range t.PoolAcquireTracers {
		ctx = tracer.TraceAcquireStart(ctx, pool, data)
	}

	return ctx
}

func (t *Tracer) TraceAcquireEnd(ctx context.Context, pool *gaussdbxpool.Pool, data gaussdbxpool.TraceAcquireEndData) {
	for _, tracer := range t.PoolAcquireTracers {
		tracer.TraceAcquireEnd(ctx, pool, data)
	}
}

func (t *Tracer) TraceRelease(pool *gaussdbxpool.Pool, data gaussdbxpool.TraceReleaseData) {
	for _, tracer := range t.PoolReleaseTracers {
		tracer.TraceRelease(pool, data)
	}
}
