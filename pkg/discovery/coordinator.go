package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/weft/pkg/events"
	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/metrics"
	"github.com/cuemby/weft/pkg/registry"
	"github.com/cuemby/weft/pkg/types"
)

// Coordinator keeps the local cluster's registry entry fresh: it refreshes
// the service list on one interval and re-registers the cluster on another.
// Discovery failures are never fatal; the previous registry entry survives
// until a refresh succeeds, and prolonged failure only marks the local view
// stale.
type Coordinator struct {
	clusterID types.ClusterID
	lister    ServiceLister
	registry  *registry.Registry
	nodeAddr  func() types.NodeAddr
	broker    *events.Broker
	logger    zerolog.Logger

	namespace        string
	refreshInterval  time.Duration
	registerInterval time.Duration
	maxFailures      int

	mu           sync.Mutex
	services     []types.ServiceInfo
	haveServices bool
	failures     int
}

// Config configures a Coordinator.
type Config struct {
	ClusterID types.ClusterID
	Lister    ServiceLister
	Registry  *registry.Registry

	// NodeAddr supplies the endpoint reachability advertised with each
	// registration; called every tick because direct addresses can change.
	NodeAddr func() types.NodeAddr

	// Broker receives discovery.failed events; may be nil.
	Broker *events.Broker

	Namespace        string
	RefreshInterval  time.Duration
	RegisterInterval time.Duration

	// MaxConsecutiveFailures marks discovery stale after this many failed
	// refreshes in a row. Zero uses a default of 5.
	MaxConsecutiveFailures int
}

// NewCoordinator creates a coordinator. It performs no I/O until Run.
func NewCoordinator(cfg Config) *Coordinator {
	maxFailures := cfg.MaxConsecutiveFailures
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &Coordinator{
		clusterID:        cfg.ClusterID,
		lister:           cfg.Lister,
		registry:         cfg.Registry,
		nodeAddr:         cfg.NodeAddr,
		broker:           cfg.Broker,
		logger:           log.WithComponent("discovery"),
		namespace:        cfg.Namespace,
		refreshInterval:  cfg.RefreshInterval,
		registerInterval: cfg.RegisterInterval,
		maxFailures:      maxFailures,
	}
}

// Run drives both periodic loops until ctx is done. An initial refresh and
// registration happen immediately so the process is routable before the first
// tick.
func (c *Coordinator) Run(ctx context.Context) {
	if err := c.RefreshOnce(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("initial service discovery failed")
	}
	c.registerOnce()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.refreshLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.registerLoop(ctx)
	}()
	wg.Wait()
}

func (c *Coordinator) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.RefreshOnce(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("service discovery failed, retrying next tick")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Coordinator) registerLoop(ctx context.Context) {
	ticker := time.NewTicker(c.registerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.registerOnce()
		case <-ctx.Done():
			return
		}
	}
}

// RefreshOnce performs a single service discovery cycle. On failure the
// previously discovered service set is kept.
func (c *Coordinator) RefreshOnce(ctx context.Context) error {
	services, err := c.lister.ListServices(ctx, c.namespace)
	if err != nil {
		metrics.DiscoveryRefreshTotal.WithLabelValues(metrics.ResultError).Inc()

		c.mu.Lock()
		c.failures++
		failures := c.failures
		c.mu.Unlock()

		if failures == c.maxFailures {
			c.logger.Error().
				Int("consecutive_failures", failures).
				Msg("local service discovery is stale")
		}
		if c.broker != nil {
			c.broker.Publish(&events.Event{
				Type:     events.EventDiscoveryFailed,
				Message:  err.Error(),
				Metadata: map[string]string{"cluster_id": c.clusterID.String()},
			})
		}
		return err
	}

	metrics.DiscoveryRefreshTotal.WithLabelValues(metrics.ResultOK).Inc()

	c.mu.Lock()
	c.services = services
	c.haveServices = true
	c.failures = 0
	c.mu.Unlock()

	c.logger.Debug().Int("services", len(services)).Msg("discovered local services")

	// A fresh service list is worth registering immediately rather than
	// waiting for the next registration tick.
	c.registerOnce()
	return nil
}

// registerOnce publishes the current local view into the registry. Without a
// successful discovery cycle yet there is nothing to register.
func (c *Coordinator) registerOnce() {
	c.mu.Lock()
	if !c.haveServices {
		c.mu.Unlock()
		return
	}
	services := append([]types.ServiceInfo(nil), c.services...)
	c.mu.Unlock()

	info := types.ClusterInfo{
		ID:        c.clusterID,
		NodeAddr:  c.nodeAddr(),
		Services:  services,
		UpdatedAt: time.Now(),
	}
	c.registry.RegisterOrUpdate(info)
	c.logger.Debug().
		Int("services", len(services)).
		Msg("local cluster registration updated")
}

// Stale reports whether discovery has failed often enough in a row that the
// local registration can no longer be trusted as fresh.
func (c *Coordinator) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures >= c.maxFailures
}
