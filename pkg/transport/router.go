package transport

import (
	"context"
	"errors"
	"net"

	"github.com/cuemby/weft/pkg/log"
)

// Handler serves one accepted inbound connection. HandleConn owns the
// connection and must close it on every exit path.
type Handler interface {
	HandleConn(ctx context.Context, conn Conn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, conn Conn)

func (f HandlerFunc) HandleConn(ctx context.Context, conn Conn) {
	f(ctx, conn)
}

// Router dispatches accepted connections to per-ALPN handlers. It is the
// single accept loop for an endpoint; an unexpected listener failure is
// returned to the caller, which treats it as process-fatal.
type Router struct {
	endpoint Endpoint
	handlers map[string]Handler
}

// NewRouter creates a router for endpoint. Handlers must be registered before
// Serve is called.
func NewRouter(endpoint Endpoint) *Router {
	return &Router{
		endpoint: endpoint,
		handlers: make(map[string]Handler),
	}
}

// Handle registers the handler for a protocol identifier.
func (r *Router) Handle(alpn string, h Handler) {
	r.handlers[alpn] = h
}

// Serve accepts connections until ctx is cancelled, dispatching each to its
// protocol handler in its own goroutine. Per-connection failures (handshake,
// unknown ALPN) are logged and survived; a listener failure ends the loop.
func (r *Router) Serve(ctx context.Context) error {
	logger := log.WithComponent("transport")

	// Unblock Accept when the context is cancelled. The stop channel ends
	// the watcher when Serve returns for any other reason.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			r.endpoint.Close()
		case <-stop:
		}
	}()

	for {
		conn, err := r.endpoint.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if IsTransient(err) {
				logger.Warn().Err(err).Msg("rejected inbound connection")
				continue
			}
			return err
		}

		handler, ok := r.handlers[conn.ALPN()]
		if !ok {
			logger.Warn().
				Str("alpn", conn.ALPN()).
				Str("peer", conn.PeerID().Short()).
				Msg("no handler for negotiated protocol")
			conn.Close()
			continue
		}

		go handler.HandleConn(ctx, conn)
	}
}
