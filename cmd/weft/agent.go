package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cuemby/weft/pkg/agent"
	"github.com/cuemby/weft/pkg/config"
	"github.com/cuemby/weft/pkg/types"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the mesh control plane without the data plane",
	Long: `Run only the control plane: service discovery, registration gossip,
the registration store, and the status API. Use this on nodes that
advertise services into the mesh but do not originate cross-cluster
traffic themselves.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		initLogging()

		cfg := config.DefaultAgentConfig()
		if configPath, _ := cmd.Flags().GetString("config"); configPath != "" {
			if err := config.Load(configPath, cfg); err != nil {
				return err
			}
		}
		if v, _ := cmd.Flags().GetString("cluster-id"); v != "" {
			cfg.ClusterID = v
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

		ctx, cancel := signalContext()
		defer cancel()
		return node.Run(ctx)
	},
}

func init() {
	agentCmd.Flags().String("config", "", "Path to YAML configuration file")
	agentCmd.Flags().String("cluster-id", "", "Cluster identifier advertised to the mesh")
	agentCmd.Flags().String("status-addr", "", fmt.Sprintf("Status API listen address (default 127.0.0.1:%d)", types.DefaultAgentPort))
	agentCmd.Flags().String("data-dir", "", "Data directory for identity key and registration store")
	agentCmd.Flags().String("listen", "", "Transport listen address for peer connections")
}
