package gossip

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/metrics"
	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/storage"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

// exchangeTimeout bounds one full gossip exchange with a peer.
const exchangeTimeout = 15 * time.Second

// PeerSource supplies additional peer addresses for a gossip round, beyond
// the configured seeds and the clusters already in the registry.
type PeerSource interface {
	Lookup(ctx context.Context) ([]types.NodeAddr, error)
}

// Gossiper propagates cluster registrations between mesh nodes. Each round it
// exchanges full registration sets with every known peer; records are applied
// last-writer-wins by their UpdatedAt timestamp, so the mesh converges on the
// newest advertisement for every cluster.
type Gossiper struct {
	localID  types.ClusterID
	endpoint transport.Endpoint
	registry *registry.Registry
	store    storage.Store
	interval time.Duration
	seeds    []types.NodeAddr
	source   PeerSource
	logger   zerolog.Logger
}

// Config configures a Gossiper.
type Config struct {
	LocalID  types.ClusterID
	Endpoint transport.Endpoint
	Registry *registry.Registry

	// Store persists applied registrations; may be nil.
	Store storage.Store

	Interval time.Duration

	// Seeds are dialed every round regardless of registry state.
	Seeds []types.NodeAddr

	// Source contributes bootstrap peers (DNS records); may be nil.
	Source PeerSource
}

// New creates a gossiper. Register it on the transport router under
// types.GossipALPN and start Run for the outbound side.
func New(cfg Config) *Gossiper {
	return &Gossiper{
		localID:  cfg.LocalID,
		endpoint: cfg.Endpoint,
		registry: cfg.Registry,
		store:    cfg.Store,
		interval: cfg.Interval,
		seeds:    cfg.Seeds,
		source:   cfg.Source,
		logger:   log.WithComponent("gossip"),
	}
}

// Run gossips on the configured interval until ctx is done. The first round
// starts immediately so a fresh node learns the mesh without waiting a full
// interval.
func (g *Gossiper) Run(ctx context.Context) {
	g.logger.Info().Dur("interval", g.interval).Int("seeds", len(g.seeds)).Msg("starting gossip")

	g.round(ctx)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			g.logger.Info().Msg("gossip stopped")
			return
		case <-ticker.C:
			g.round(ctx)
		}
	}
}

// round exchanges registrations with every currently known peer.
func (g *Gossiper) round(ctx context.Context) {
	for _, peer := range g.peers(ctx) {
		if err := g.exchangeWith(ctx, peer); err != nil {
			metrics.GossipExchangesTotal.WithLabelValues(metrics.ResultError).Inc()
			g.logger.Warn().Err(err).Str("peer", peer.ID.Short()).Msg("gossip exchange failed")
			continue
		}
		metrics.GossipExchangesTotal.WithLabelValues(metrics.ResultOK).Inc()
	}
}

// peers merges seeds, bootstrap records, and clusters already learned,
// deduplicated by node ID. The local node is never dialed.
func (g *Gossiper) peers(ctx context.Context) []types.NodeAddr {
	seen := make(map[types.NodeID]struct{})
	var out []types.NodeAddr

	add := func(addr types.NodeAddr) {
		if addr.IsZero() || addr.ID == g.endpoint.NodeID() {
			return
		}
		if _, dup := seen[addr.ID]; dup {
			return
		}
		seen[addr.ID] = struct{}{}
		out = append(out, addr)
	}

	for _, seed := range g.seeds {
		add(seed)
	}
	if g.source != nil {
		addrs, err := g.source.Lookup(ctx)
		if err != nil {
			g.logger.Warn().Err(err).Msg("peer bootstrap lookup failed")
		}
		for _, addr := range addrs {
			add(addr)
		}
	}
	for _, info := range g.registry.List() {
		if info.ID != g.localID {
			add(info.NodeAddr)
		}
	}
	return out
}

// exchangeWith runs the dialing side of one exchange: send our full set,
// read the peer's, apply.
func (g *Gossiper) exchangeWith(ctx context.Context, peer types.NodeAddr) error {
	dialCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()

	stream, err := g.endpoint.Dial(dialCtx, peer, types.GossipALPN)
	if err != nil {
		return fmt.Errorf("failed to dial gossip peer: %w", err)
	}
	defer stream.Close()

	if err := stream.SetDeadline(time.Now().Add(exchangeTimeout)); err != nil {
		return err
	}
	if err := transport.WriteFrame(stream, g.snapshot()); err != nil {
		return fmt.Errorf("failed to send registrations: %w", err)
	}
	var theirs []types.ClusterRegistration
	if err := transport.ReadFrame(stream, &theirs); err != nil {
		return fmt.Errorf("failed to read peer registrations: %w", err)
	}

	g.apply(theirs)
	return nil
}

// HandleConn serves the accepting side of an exchange: read the dialer's set,
// apply, answer with ours.
func (g *Gossiper) HandleConn(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(exchangeTimeout)); err != nil {
		return
	}

	var theirs []types.ClusterRegistration
	if err := transport.ReadFrame(conn, &theirs); err != nil {
		metrics.GossipExchangesTotal.WithLabelValues(metrics.ResultError).Inc()
		g.logger.Warn().Err(err).Str("peer", conn.PeerID().Short()).Msg("failed to read gossip frame")
		return
	}
	g.apply(theirs)

	if err := transport.WriteFrame(conn, g.snapshot()); err != nil {
		metrics.GossipExchangesTotal.WithLabelValues(metrics.ResultError).Inc()
		g.logger.Warn().Err(err).Str("peer", conn.PeerID().Short()).Msg("failed to answer gossip frame")
		return
	}
	metrics.GossipExchangesTotal.WithLabelValues(metrics.ResultOK).Inc()
}

// snapshot returns the full registration set the registry currently holds.
func (g *Gossiper) snapshot() []types.ClusterRegistration {
	return lo.Map(g.registry.List(), func(info types.ClusterInfo, _ int) types.ClusterRegistration {
		return types.RegistrationOf(info)
	})
}

// apply merges peer records into the registry, newest writer wins. Records
// about the local cluster are ignored: this node is the sole authority on its
// own advertisement.
func (g *Gossiper) apply(records []types.ClusterRegistration) {
	for _, rec := range records {
		if rec.ClusterID == g.localID || rec.ClusterID == "" {
			continue
		}
		existing, known := g.registry.Get(rec.ClusterID)
		if known && !rec.UpdatedAt.After(existing.UpdatedAt) {
			continue
		}

		g.registry.RegisterOrUpdate(rec.Info())
		g.logger.Debug().
			Str("cluster", rec.ClusterID.String()).
			Int("services", len(rec.Services)).
			Msg("applied gossiped registration")

		if g.store != nil {
			if err := g.store.SaveRegistration(rec); err != nil {
				g.logger.Warn().Err(err).Str("cluster", rec.ClusterID.String()).Msg("failed to persist registration")
			}
		}
	}
}
