package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/events"
	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/metrics"
	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

// metadataTimeout bounds how long a client may take to present routing
// metadata before the connection is rejected.
const metadataTimeout = 15 * time.Second

// connState tracks a data-plane connection through its lifecycle. States only
// advance; Failed absorbs any error.
type connState string

const (
	stateAccepted          connState = "accepted"
	stateRoutingResolved   connState = "routing_resolved"
	stateTunnelEstablished connState = "tunnel_established"
	stateRelaying          connState = "relaying"
	stateClosed            connState = "closed"
	stateFailed            connState = "failed"
)

// Proxy is the mesh data plane: it terminates local client connections,
// resolves a target cluster and service from request metadata, and relays
// bytes through a secure tunnel to the remote cluster's handler.
type Proxy struct {
	clusterID types.ClusterID
	bindAddr  string
	registry  *registry.Registry
	endpoint  transport.Endpoint
	broker    *events.Broker
	logger    zerolog.Logger

	dialTimeout   time.Duration
	idleTimeout   time.Duration
	shutdownGrace time.Duration

	mu       sync.Mutex
	listener net.Listener
	open     map[string]net.Conn
	wg       sync.WaitGroup
}

// Config configures a Proxy.
type Config struct {
	ClusterID types.ClusterID

	// BindAddress is the local TCP ingress address.
	BindAddress string

	Registry *registry.Registry
	Endpoint transport.Endpoint

	// Broker receives tunnel lifecycle events; may be nil.
	Broker *events.Broker

	DialTimeout   time.Duration
	IdleTimeout   time.Duration
	ShutdownGrace time.Duration
}

// New creates a proxy. The listener is bound by Run.
func New(cfg Config) *Proxy {
	return &Proxy{
		clusterID:     cfg.ClusterID,
		bindAddr:      cfg.BindAddress,
		registry:      cfg.Registry,
		endpoint:      cfg.Endpoint,
		broker:        cfg.Broker,
		logger:        log.WithComponent("proxy"),
		dialTimeout:   cfg.DialTimeout,
		idleTimeout:   cfg.IdleTimeout,
		shutdownGrace: cfg.ShutdownGrace,
		open:          make(map[string]net.Conn),
	}
}

// Run binds the local listener and accepts connections until ctx is done.
// Failure to bind is returned immediately (startup-fatal); an accept-loop
// failure while the context is still live is returned as well, since losing
// the ingress silently is not acceptable. On shutdown, in-flight relays get
// the configured grace period before being force-closed.
func (p *Proxy) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", p.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to bind proxy listener on %s: %w", p.bindAddr, err)
	}
	p.mu.Lock()
	p.listener = listener
	p.mu.Unlock()

	p.logger.Info().Str("addr", listener.Addr().String()).Msg("mesh proxy listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return fmt.Errorf("proxy accept loop failed: %w", err)
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.handleConn(ctx, conn)
		}()
	}

	p.shutdown()
	return nil
}

// Addr returns the bound listener address, once Run has bound it.
func (p *Proxy) Addr() net.Addr {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return nil
	}
	return p.listener.Addr()
}

// shutdown waits out the grace period, then force-closes whatever is left.
func (p *Proxy) shutdown() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("all relays drained")
	case <-time.After(p.shutdownGrace):
		p.mu.Lock()
		remaining := len(p.open)
		for _, conn := range p.open {
			conn.Close()
		}
		p.mu.Unlock()
		p.logger.Warn().Int("connections", remaining).Msg("grace period expired, force-closed relays")
		p.wg.Wait()
	}
}

func (p *Proxy) track(id string, conn net.Conn) {
	p.mu.Lock()
	p.open[id] = conn
	p.mu.Unlock()
}

func (p *Proxy) untrack(id string) {
	p.mu.Lock()
	delete(p.open, id)
	p.mu.Unlock()
}

// handleConn drives one client connection through the data-plane state
// machine. Every exit path closes both the client socket and, once opened,
// the tunnel stream.
func (p *Proxy) handleConn(ctx context.Context, conn net.Conn) {
	connID := uuid.NewString()
	logger := p.logger.With().Str("conn_id", connID).Str("client", conn.RemoteAddr().String()).Logger()

	p.track(connID, conn)
	defer p.untrack(connID)
	defer conn.Close()

	state := stateAccepted
	logger.Debug().Str("state", string(state)).Msg("accepted client connection")

	// The client must present routing metadata promptly.
	br := bufio.NewReaderSize(conn, sniffBufferSize)
	conn.SetReadDeadline(time.Now().Add(metadataTimeout))
	route, err := extractRoute(br)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultNoRoute).Inc()
		logger.Warn().Err(err).Str("state", string(stateFailed)).Msg("rejected connection without routing metadata")
		return
	}

	target, found := p.registry.FindService(route.Service, route.Namespace)
	if !found {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultNoRoute).Inc()
		p.respondError(conn, route, 404, fmt.Sprintf("service %s/%s not found in any cluster", route.Namespace, route.Service))
		logger.Warn().
			Str("service", route.Service).
			Str("namespace", route.Namespace).
			Str("state", string(stateFailed)).
			Msg("no cluster advertises requested service")
		return
	}
	state = stateRoutingResolved
	logger.Debug().
		Str("state", string(state)).
		Str("service", route.Service).
		Str("namespace", route.Namespace).
		Str("cluster", target.ID.String()).
		Msg("route resolved")

	stream, err := p.openTunnel(ctx, route, target)
	if err != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultError).Inc()
		p.publishTunnel(events.EventTunnelFailed, connID, route, target.ID)
		p.respondError(conn, route, 502, "mesh tunnel unavailable")
		logger.Warn().Err(err).Str("cluster", target.ID.String()).Str("state", string(stateFailed)).Msg("failed to establish tunnel")
		return
	}
	defer stream.Close()
	state = stateTunnelEstablished
	logger.Debug().Str("state", string(state)).Msg("tunnel established")

	state = stateRelaying
	logger.Debug().Str("state", string(state)).Msg("relaying")
	p.publishTunnel(events.EventTunnelOpened, connID, route, target.ID)
	metrics.TunnelsActive.Inc()

	clientEnd := relayEnd{
		name:            "client",
		reader:          br,
		writer:          conn,
		closer:          conn,
		setReadDeadline: conn.SetReadDeadline,
	}
	tunnelEnd := relayEnd{
		name:            "tunnel",
		reader:          stream,
		writer:          stream,
		closer:          stream,
		setReadDeadline: stream.SetReadDeadline,
	}
	up, down, relayErr := relay(clientEnd, tunnelEnd, p.idleTimeout)

	metrics.TunnelsActive.Dec()
	metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionUp).Add(float64(up))
	metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionDown).Add(float64(down))

	if relayErr != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultError).Inc()
		p.publishTunnel(events.EventTunnelFailed, connID, route, target.ID)
		logger.Warn().Err(relayErr).Int64("up", up).Int64("down", down).Str("state", string(stateFailed)).Msg("relay ended with error")
		return
	}

	state = stateClosed
	metrics.TunnelsTotal.WithLabelValues(metrics.ResultOK).Inc()
	p.publishTunnel(events.EventTunnelClosed, connID, route, target.ID)
	logger.Debug().Str("state", string(state)).Int64("up", up).Int64("down", down).Msg("relay finished")
}

// openTunnel dials the target cluster's endpoint and completes the preamble
// exchange for the resolved service.
func (p *Proxy) openTunnel(ctx context.Context, route Route, target types.ClusterInfo) (transport.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	stream, err := p.endpoint.Dial(dialCtx, target.NodeAddr, types.MeshALPN)
	if err != nil {
		return nil, err
	}

	reply, err := writePreamble(stream, Preamble{
		Service:       route.Service,
		Namespace:     route.Namespace,
		Port:          route.Port,
		SourceCluster: p.clusterID,
	})
	if err != nil {
		stream.Close()
		return nil, err
	}
	if !reply.OK {
		stream.Close()
		return nil, fmt.Errorf("peer rejected tunnel: %s", reply.Error)
	}
	return stream, nil
}

// respondError gives text-framed clients an explicit error instead of a bare
// close; opaque streams just get the close.
func (p *Proxy) respondError(conn net.Conn, route Route, status int, message string) {
	if route.Kind != KindHTTP {
		return
	}
	statusText := "Bad Gateway"
	if status == 404 {
		statusText = "Not Found"
	}
	body := "weft: " + message + "\n"
	fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Type: text/plain\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		status, statusText, len(body), body)
}

func (p *Proxy) publishTunnel(eventType events.EventType, connID string, route Route, target types.ClusterID) {
	if p.broker == nil {
		return
	}
	p.broker.Publish(&events.Event{
		ID:      connID,
		Type:    eventType,
		Message: fmt.Sprintf("%s %s/%s via %s", eventType, route.Namespace, route.Service, target),
		Metadata: map[string]string{
			"service":   route.Service,
			"namespace": route.Namespace,
			"cluster":   target.String(),
		},
	})
}
