package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/weft/pkg/agent"
	"github.com/cuemby/weft/pkg/config"
	"github.com/cuemby/weft/pkg/log"
	"github.com/cuemby/weft/pkg/proxy"
	"github.com/cuemby/weft/pkg/types"
)

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Run the mesh proxy node",
	Long: `Run a full mesh node: the control plane (discovery, gossip, status
API) plus the data plane. The proxy listens on a local address for
application traffic, routes by HTTP Host header or TLS SNI, and
tunnels to whichever cluster advertises the destination service. It
also accepts tunnels from peer clusters and relays them to local
backends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging()

		cfg := config.DefaultProxyConfig()
		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			if err := config.Load(configPath, cfg); err != nil {
				return err
			}
		}
		applyProxyFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		node, err := agent.New(agent.Options{
			ClusterID:     types.ClusterID(cfg.ClusterID),
			DataDir:       cfg.DataDir,
			StatusAddress: cfg.StatusAddress,
			Transport:     cfg.Transport,
			Discovery:     cfg.Discovery,
			Gossip:        cfg.Gossip,
		})
		if err != nil {
			return err
		}

		node.Handle(types.MeshALPN, proxy.NewHandler(proxy.HandlerConfig{
			Registry: node.Registry(),
			Resolver: proxy.BackendResolver{
				Overrides:    cfg.Backends.Overrides,
				DomainSuffix: cfg.Backends.DomainSuffix,
			},
			DialTimeout: cfg.Timeouts.DialTimeout.Std(),
			IdleTimeout: cfg.Timeouts.IdleTimeout.Std(),
		}))

		dataPlane := proxy.New(proxy.Config{
			ClusterID:     types.ClusterID(cfg.ClusterID),
			BindAddress:   cfg.BindAddress,
			Registry:      node.Registry(),
			Endpoint:      node.Endpoint(),
			Broker:        node.Broker(),
			DialTimeout:   cfg.Timeouts.DialTimeout.Std(),
			IdleTimeout:   cfg.Timeouts.IdleTimeout.Std(),
			ShutdownGrace: cfg.Timeouts.ShutdownGrace.Std(),
		})

		ctx, cancel := signalContext()
		defer cancel()

		// Either side failing takes the whole process down: a node with
		// half its planes dead would keep attracting traffic it cannot
		// serve.
		group, groupCtx := errgroup.WithContext(ctx)
		group.Go(func() error { return node.Run(groupCtx) })
		group.Go(func() error { return dataPlane.Run(groupCtx) })

		return group.Wait()
	},
}

func applyProxyFlags(cmd *cobra.Command, cfg *config.ProxyConfig) {
	if v, _ := cmd.Flags().GetString("cluster-id"); v != "" {
		cfg.ClusterID = v
	}
	if v, _ := cmd.Flags().GetString("bind"); v != "" {
		cfg.BindAddress = v
	}
	if v, _ := cmd.Flags().GetString("status-addr"); v != "" {
		cfg.StatusAddress = v
	}
	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Transport.ListenAddress = v
	}
	if v, _ := cmd.Flags().GetDuration("gossip-interval"); v > 0 {
		cfg.Gossip.Interval = config.Duration(v)
	}
	if seeds, _ := cmd.Flags().GetStringSlice("seed"); len(seeds) > 0 {
		for _, seed := range seeds {
			addr, err := types.ParseNodeAddr(seed)
			if err != nil {
				log.Logger.Warn().Err(err).Str("seed", seed).Msg("ignoring malformed seed")
				continue
			}
			cfg.Gossip.Seeds = append(cfg.Gossip.Seeds, addr)
		}
	}
}

func init() {
	proxyCmd.Flags().String("config", "", "Path to YAML configuration file")
	proxyCmd.Flags().String("cluster-id", "", "Cluster identifier advertised to the mesh")
	proxyCmd.Flags().String("bind", "", fmt.Sprintf("Local proxy listen address (default 127.0.0.1:%d)", types.DefaultProxyPort))
	proxyCmd.Flags().String("status-addr", "", fmt.Sprintf("Status API listen address (default 127.0.0.1:%d)", types.DefaultAgentPort))
	proxyCmd.Flags().String("data-dir", "", "Data directory for identity key and registration store")
	proxyCmd.Flags().String("listen", "", "Transport listen address for peer connections")
	proxyCmd.Flags().Duration("gossip-interval", 0, "Gossip propagation interval")
	proxyCmd.Flags().StringSlice("seed", nil, "Seed peer as id@host:port (repeatable)")
}
