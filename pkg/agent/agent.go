package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/config"
	"github.com/cuemby/weft/pkg/discovery"
	"github.com/cuemby/weft/pkg/events"
	"github.com/cuemby/weft/pkg/gossip"
	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/storage"
	"github.com/cuemby/weft/pkg/transport"
	"github.com/cuemby/weft/pkg/types"
)

// Options assembles an agent from its configuration sections. The proxy and
// agent commands share this core; the proxy command additionally registers
// the mesh data-plane handler before Run.
type Options struct {
	ClusterID     types.ClusterID
	DataDir       string
	StatusAddress string

	Transport config.TransportConfig
	Discovery config.DiscoveryConfig
	Gossip    config.GossipConfig

	// Lister overrides the service source; nil uses a static lister fed
	// from Discovery.StaticServices.
	Lister discovery.ServiceLister

	// Endpoint overrides the transport; nil binds a TLS endpoint from the
	// Transport section. Tests inject a mem endpoint here.
	Endpoint transport.Endpoint

	// Store overrides persistence; nil opens a bolt store under DataDir.
	Store storage.Store
}

// Agent is one Weft node's control plane: the secure endpoint, the cluster
// registry with its eviction janitor, the discovery coordinator, the gossip
// propagator, persistence, and the HTTP status API.
type Agent struct {
	clusterID   types.ClusterID
	endpoint    transport.Endpoint
	registry    *registry.Registry
	broker      *events.Broker
	coordinator *discovery.Coordinator
	gossiper    *gossip.Gossiper
	store       storage.Store
	ownsStore   bool
	router      *transport.Router
	statusAddr  string
	ttl         time.Duration
	logger      zerolog.Logger
}

// New assembles an agent. No loops start until Run.
func New(opts Options) (*Agent, error) {
	if err := opts.ClusterID.Validate(); err != nil {
		return nil, err
	}
	logger := log.WithComponent("agent")

	endpoint := opts.Endpoint
	if endpoint == nil {
		keyPath := opts.Transport.KeyPath
		if keyPath == "" && opts.DataDir != "" {
			keyPath = filepath.Join(opts.DataDir, "identity.key")
		}
		identity, err := loadIdentity(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load node identity: %w", err)
		}
		endpoint, err = transport.BindTLS(identity, opts.Transport.ListenAddress, transport.TLSOptions{
			ALPNs:          []string{types.MeshALPN, types.GossipALPN},
			RelayURL:       opts.Transport.RelayURL,
			AdvertiseAddrs: opts.Transport.AdvertiseAddrs,
		})
		if err != nil {
			return nil, err
		}
	}

	store := opts.Store
	ownsStore := false
	if store == nil {
		var err error
		store, err = storage.NewBoltStore(opts.DataDir)
		if err != nil {
			endpoint.Close()
			return nil, fmt.Errorf("failed to open registration store: %w", err)
		}
		ownsStore = true
	}

	broker := events.NewBroker()
	reg := registry.New(opts.ClusterID, broker)
	ttl := registry.DefaultTTLMultiplier * opts.Discovery.RegisterInterval.Std()

	lister := opts.Lister
	if lister == nil {
		lister = discovery.NewStaticLister(opts.Discovery.StaticServices)
	}
	coordinator := discovery.NewCoordinator(discovery.Config{
		ClusterID:              opts.ClusterID,
		Lister:                 lister,
		Registry:               reg,
		NodeAddr:               endpoint.Addr,
		Broker:                 broker,
		Namespace:              opts.Discovery.Namespace,
		RefreshInterval:        opts.Discovery.RefreshInterval.Std(),
		RegisterInterval:       opts.Discovery.RegisterInterval.Std(),
		MaxConsecutiveFailures: opts.Discovery.MaxConsecutiveFailures,
	})

	var source gossip.PeerSource
	if opts.Discovery.DNS.Zone != "" {
		source = discovery.NewDNSBootstrap(opts.Discovery.DNS.Zone, opts.Discovery.DNS.Servers)
	}
	gossiper := gossip.New(gossip.Config{
		LocalID:  opts.ClusterID,
		Endpoint: endpoint,
		Registry: reg,
		Store:    store,
		Interval: opts.Gossip.Interval.Std(),
		Seeds:    opts.Gossip.Seeds,
		Source:   source,
	})

	router := transport.NewRouter(endpoint)
	router.Handle(types.GossipALPN, gossiper)

	return &Agent{
		clusterID:   opts.ClusterID,
		endpoint:    endpoint,
		registry:    reg,
		broker:      broker,
		coordinator: coordinator,
		gossiper:    gossiper,
		store:       store,
		ownsStore:   ownsStore,
		router:      router,
		statusAddr:  opts.StatusAddress,
		ttl:         ttl,
		logger:      logger,
	}, nil
}

// loadIdentity resolves the node key. An empty path means an ephemeral
// identity: peers re-pin the new node ID on the next gossip round.
func loadIdentity(keyPath string) (transport.Identity, error) {
	if keyPath == "" {
		return transport.GenerateIdentity()
	}
	return transport.LoadOrCreateIdentity(keyPath)
}

// Handle registers an additional protocol handler on the agent's transport.
// Must be called before Run.
func (a *Agent) Handle(alpn string, h transport.Handler) {
	a.router.Handle(alpn, h)
}

// Endpoint returns the agent's transport endpoint.
func (a *Agent) Endpoint() transport.Endpoint {
	return a.endpoint
}

// Registry returns the agent's cluster registry.
func (a *Agent) Registry() *registry.Registry {
	return a.registry
}

// Broker returns the agent's event broker.
func (a *Agent) Broker() *events.Broker {
	return a.broker
}

// Run starts every control-plane loop and blocks until ctx is done or the
// transport accept loop fails. Losing the accept loop is fatal: a node that
// cannot accept tunnels or gossip silently would rot the whole mesh's view.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().
		Str("cluster_id", a.clusterID.String()).
		Str("node_id", a.endpoint.NodeID().Short()).
		Msg("starting mesh agent")

	a.rehydrate()

	a.broker.Start()
	defer a.broker.Stop()
	if a.ownsStore {
		defer a.store.Close()
	}

	go a.registry.RunJanitor(ctx, a.ttl)
	go a.coordinator.Run(ctx)
	go a.gossiper.Run(ctx)

	if a.statusAddr != "" {
		statusDone, err := a.serveStatus(ctx)
		if err != nil {
			return err
		}
		defer func() { <-statusDone }()
	}

	return a.router.Serve(ctx)
}

// Status reports the node's current operational snapshot.
func (a *Agent) Status() types.ClusterStatus {
	var services []types.ServiceInfo
	if local, ok := a.registry.Local(); ok {
		services = local.Services
	}
	return types.ClusterStatus{
		ClusterID:      a.clusterID,
		NodeID:         a.endpoint.NodeID(),
		NodeAddr:       a.endpoint.Addr(),
		Services:       services,
		PeerClusters:   a.registry.PeerIDs(),
		DiscoveryStale: a.coordinator.Stale(),
	}
}

// rehydrate loads persisted registrations so the node can route from its last
// known mesh view before the first gossip round. Records older than the TTL
// would be evicted immediately and are skipped; our own record is skipped
// because the coordinator re-registers from live discovery.
func (a *Agent) rehydrate() {
	records, err := a.store.ListRegistrations()
	if err != nil {
		a.logger.Warn().Err(err).Msg("failed to load persisted registrations")
		return
	}

	cutoff := time.Now().Add(-a.ttl)
	loaded := 0
	for _, rec := range records {
		if rec.ClusterID == a.clusterID {
			continue
		}
		if rec.UpdatedAt.Before(cutoff) {
			if err := a.store.DeleteRegistration(rec.ClusterID); err != nil {
				a.logger.Warn().Err(err).Str("cluster", rec.ClusterID.String()).Msg("failed to drop stale registration")
			}
			continue
		}
		a.registry.RegisterOrUpdate(rec.Info())
		loaded++
	}
	if loaded > 0 {
		a.logger.Info().Int("clusters", loaded).Msg("rehydrated mesh view from disk")
	}
}
