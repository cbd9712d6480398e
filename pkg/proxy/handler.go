package proxy

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/metrics"
	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

// BackendResolver maps a tunneled service to a local dial address. Overrides
// take precedence over the generated DNS form, keyed "namespace/name".
type BackendResolver struct {
	Overrides    map[string]string
	DomainSuffix string
}

// Resolve returns the host:port to dial for a preamble. The default form is
// "<name>.<namespace>[.<suffix>]:<port>", matching in-cluster service DNS.
func (r BackendResolver) Resolve(pre Preamble) string {
	if addr, ok := r.Overrides[pre.Namespace+"/"+pre.Service]; ok {
		return addr
	}
	host := pre.Service + "." + pre.Namespace
	if r.DomainSuffix != "" {
		host += "." + r.DomainSuffix
	}
	return net.JoinHostPort(host, strconv.Itoa(int(pre.Port)))
}

// Handler terminates mesh tunnel streams arriving from peer clusters and
// relays them to the local backend for the requested service. It only serves
// services the local cluster actually advertises.
type Handler struct {
	registry    *registry.Registry
	resolver    BackendResolver
	dialTimeout time.Duration
	idleTimeout time.Duration
	logger      zerolog.Logger
}

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Registry    *registry.Registry
	Resolver    BackendResolver
	DialTimeout time.Duration
	IdleTimeout time.Duration
}

// NewHandler creates the inbound tunnel handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		registry:    cfg.Registry,
		resolver:    cfg.Resolver,
		dialTimeout: cfg.DialTimeout,
		idleTimeout: cfg.IdleTimeout,
		logger:      log.WithComponent("mesh-handler"),
	}
}

// HandleConn serves one tunnel stream: preamble in, reply out, then a
// bidirectional relay to the local backend until either side closes.
func (h *Handler) HandleConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	logger := h.logger.With().Str("peer", conn.PeerID().Short()).Logger()

	pre, err := readPreamble(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("rejected tunnel without preamble")
		return
	}
	logger = logger.With().
		Str("service", pre.Service).
		Str("namespace", pre.Namespace).
		Str("source_cluster", pre.SourceCluster.String()).
		Logger()

	backendAddr, ok := h.dialAddress(pre)
	if !ok {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultNoRoute).Inc()
		writeReply(conn, PreambleReply{OK: false, Error: fmt.Sprintf("service %s/%s not served by this cluster", pre.Namespace, pre.Service)})
		logger.Warn().Msg("tunnel requested a service this cluster does not advertise")
		return
	}
	dialer := net.Dialer{Timeout: h.dialTimeout}
	backend, err := dialer.DialContext(ctx, "tcp", backendAddr)
	if err != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultError).Inc()
		writeReply(conn, PreambleReply{OK: false, Error: "backend unreachable"})
		logger.Warn().Err(err).Str("backend", backendAddr).Msg("failed to dial backend")
		return
	}
	defer backend.Close()

	if err := writeReply(conn, PreambleReply{OK: true}); err != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultError).Inc()
		logger.Warn().Err(err).Msg("failed to confirm tunnel")
		return
	}
	logger.Debug().Str("backend", backendAddr).Msg("tunnel accepted")

	tunnelEnd := relayEnd{
		name:            "tunnel",
		reader:          conn,
		writer:          conn,
		closer:          conn,
		setReadDeadline: conn.SetReadDeadline,
	}
	backendEnd := relayEnd{
		name:            "backend",
		reader:          backend,
		writer:          backend,
		closer:          backend,
		setReadDeadline: backend.SetReadDeadline,
	}
	up, down, relayErr := relay(tunnelEnd, backendEnd, h.idleTimeout)

	metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionUp).Add(float64(up))
	metrics.RelayBytesTotal.WithLabelValues(metrics.DirectionDown).Add(float64(down))

	if relayErr != nil {
		metrics.TunnelsTotal.WithLabelValues(metrics.ResultError).Inc()
		logger.Warn().Err(relayErr).Int64("up", up).Int64("down", down).Msg("tunnel relay ended with error")
		return
	}
	metrics.TunnelsTotal.WithLabelValues(metrics.ResultOK).Inc()
	logger.Debug().Int64("up", up).Int64("down", down).Msg("tunnel relay finished")
}

// dialAddress resolves a preamble to the local backend address. A zero
// preamble port means the client carried no port (SNI routing, portless Host
// header); the advertised service port is substituted before resolution.
func (h *Handler) dialAddress(pre Preamble) (string, bool) {
	svc, ok := h.localService(pre)
	if !ok {
		return "", false
	}
	if pre.Port == 0 {
		pre.Port = svc.Port
	}
	return h.resolver.Resolve(pre), true
}

// localService returns the local cluster's advertised entry for the
// requested service, if any.
func (h *Handler) localService(pre Preamble) (types.ServiceInfo, bool) {
	local, ok := h.registry.Local()
	if !ok {
		return types.ServiceInfo{}, false
	}
	for _, svc := range local.Services {
		if svc.Name == pre.Service && svc.Namespace == pre.Namespace {
			return svc, true
		}
	}
	return types.ServiceInfo{}, false
}

var _ transport.Handler = (*Handler)(nil)
