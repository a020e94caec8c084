package gaussdbconn

import "context"

// FastpathTracer traces fastpath function calls.
type FastpathTracer interface {
	// TraceFastpathStart is called at the beginning of a function call. The returned context is used for the rest of
	// the call and will be passed to TraceFastpathEnd.
	TraceFastpathStart(ctx context.Context, conn *GaussdbConn, data TraceFastpathStartData) context.Context

	TraceFastpathEnd(ctx context.Context, conn *GaussdbConn, data TraceFastpathEndData)
}

type TraceFastpathStartData struct {
	FunctionOID uint32
	Args        [][]byte
}

type TraceFastpathEndData struct {
	FunctionOID  uint32
	ResultLength int32 // -1 for NULL or when no result was received
	Err          error
}
