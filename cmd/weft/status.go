package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/cuemby/weft/pkg/types"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running mesh node",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		showClusters, _ := cmd.Flags().GetBool("clusters")

		client := resty.New().
			SetBaseURL("http://" + addr).
			SetTimeout(5 * time.Second)

		var status types.ClusterStatus
		resp, err := client.R().SetResult(&status).Get("/v1/status")
		if err != nil {
			return fmt.Errorf("failed to reach node at %s: %w", addr, err)
		}
		if resp.IsError() {
			return fmt.Errorf("node returned %s", resp.Status())
		}

		fmt.Printf("Cluster:   %s\n", status.ClusterID)
		fmt.Printf("Node:      %s\n", status.NodeID.Short())
		fmt.Printf("Endpoint:  %v\n", status.NodeAddr.DirectAddrs)
		if status.NodeAddr.RelayURL != "" {
			fmt.Printf("Relay:     %s\n", status.NodeAddr.RelayURL)
		}
		if status.DiscoveryStale {
			fmt.Printf("Discovery: STALE\n")
		} else {
			fmt.Printf("Discovery: ok\n")
		}

		fmt.Printf("\nLocal services (%d):\n", len(status.Services))
		for _, svc := range status.Services {
			fmt.Printf("  %s/%s :%d %s\n", svc.Namespace, svc.Name, svc.Port, svc.Protocol)
		}

		fmt.Printf("\nPeer clusters (%d):\n", len(status.PeerClusters))
		for _, peer := range status.PeerClusters {
			fmt.Printf("  %s\n", peer)
		}

		if !showClusters {
			return nil
		}

		var clusters []types.ClusterInfo
		resp, err = client.R().SetResult(&clusters).Get("/v1/clusters")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("node returned %s", resp.Status())
		}

		fmt.Printf("\nMesh view:\n")
		for _, info := range clusters {
			fmt.Printf("  %s (updated %s)\n", info.ID, info.UpdatedAt.Format(time.RFC3339))
			for _, svc := range info.Services {
				fmt.Printf("    %s/%s :%d\n", svc.Namespace, svc.Name, svc.Port)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().String("addr", fmt.Sprintf("127.0.0.1:%d", types.DefaultAgentPort), "Status API address of the node")
	statusCmd.Flags().Bool("clusters", false, "Also print the full mesh view")
}
