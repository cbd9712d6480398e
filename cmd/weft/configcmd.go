package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/weft/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage node configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default configuration file",
	Long: `Write a configuration file populated with defaults, ready to edit.
Use --agent for a control-plane-only configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "weft.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, refusing to overwrite", path)
		}

		var cfg interface{}
		if agentOnly, _ := cmd.Flags().GetBool("agent"); agentOnly {
			cfg = config.DefaultAgentConfig()
		} else {
			cfg = config.DefaultProxyConfig()
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().Bool("agent", false, "Write an agent (control-plane-only) configuration")
	configCmd.AddCommand(configInitCmd)
}
