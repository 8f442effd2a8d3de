// Package transport wraps sourcegraph/jsonrpc2 into the read/dispatch
// loop this server (and its spawned workers) run: Content-Length-framed
// JSON-RPC over stdio for the client connection, and the identical
// framing over a worker's pipe pair for controller-worker IPC. A
// registrable Router sits on top of the library transport so both
// connection kinds — client-facing and worker-facing — share one
// dispatch mechanism instead of each hand-rolling its own read loop.
package transport

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/jsonrpc2"
)

// HandlerFunc answers one JSON-RPC method. Returning an error produces
// a JSON-RPC error reply for requests, or is merely logged for
// notifications (which have no reply channel).
type HandlerFunc func(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (result interface{}, err error)

// Router dispatches by method name to a registered HandlerFunc.
type Router struct {
	log      zerolog.Logger
	handlers map[string]HandlerFunc
}

func NewRouter(log zerolog.Logger) *Router {
	return &Router{log: log, handlers: make(map[string]HandlerFunc)}
}

// Register binds fn to method, overwriting any previous binding.
func (r *Router) Register(method string, fn HandlerFunc) {
	r.handlers[method] = fn
}

// Handle implements jsonrpc2.Handler. jsonrpc2 calls it from the
// connection's read loop, one message at a time (Serve does not wrap the
// router in jsonrpc2.AsyncHandler), so a slow handler delays every
// message queued behind it on the same connection; a panic is recovered
// here, logged, and turned into a null reply rather than crashing the
// connection — one bad request must never take the whole connection
// down with it.
func (r *Router) Handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().Interface("panic", p).Str("method", req.Method).Msg("recovered panic in handler")
			if req.Notif {
				return
			}
			_ = conn.Reply(ctx, req.ID, nil)
		}
	}()

	fn, ok := r.handlers[req.Method]
	if !ok {
		r.log.Debug().Str("method", req.Method).Msg("no handler registered")
		if !req.Notif {
			_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
				Code:    jsonrpc2.CodeMethodNotFound,
				Message: "method not found: " + req.Method,
			})
		}
		return
	}

	var params json.RawMessage
	if req.Params != nil {
		params = *req.Params
	}

	result, err := fn(ctx, conn, params)
	if req.Notif {
		if err != nil {
			r.log.Warn().Err(err).Str("method", req.Method).Msg("notification handler failed")
		}
		return
	}
	if err != nil {
		r.log.Warn().Err(err).Str("method", req.Method).Msg("request handler failed")
		_ = conn.ReplyWithError(ctx, req.ID, &jsonrpc2.Error{
			Code:    jsonrpc2.CodeInternalError,
			Message: err.Error(),
		})
		return
	}
	_ = conn.Reply(ctx, req.ID, result)
}

// Serve establishes a Content-Length-framed JSON-RPC connection over
// rwc (stdio for the client connection, a worker's pipe pair for
// controller-worker IPC) and blocks until it closes.
func Serve(ctx context.Context, rwc io.ReadWriteCloser, router *Router) *jsonrpc2.Conn {
	stream := jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	return jsonrpc2.NewConn(ctx, stream, router)
}

// rwc adapts a separate reader and writer (e.g. an os.Pipe pair, or
// os.Stdin/os.Stdout) into an io.ReadWriteCloser jsonrpc2 requires.
type rwc struct {
	io.Reader
	io.Writer
}

func (rwc) Close() error { return nil }

// Combine pairs a reader and a writer into an io.ReadWriteCloser, for
// connections (stdio) whose halves are not already one value.
func Combine(r io.Reader, w io.Writer) io.ReadWriteCloser {
	return rwc{Reader: r, Writer: w}
}
