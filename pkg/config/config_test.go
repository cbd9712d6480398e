package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/weft/pkg/types"
)

func TestDefaultConfigsValidate(t *testing.T) {
	assert.NoError(t, DefaultProxyConfig().Validate())
	assert.NoError(t, DefaultAgentConfig().Validate())
}

func TestProxyConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProxyConfig)
		errMsg string
	}{
		{
			name:   "empty cluster id",
			mutate: func(c *ProxyConfig) { c.ClusterID = "" },
			errMsg: "cluster",
		},
		{
			name:   "bind address without port",
			mutate: func(c *ProxyConfig) { c.BindAddress = "127.0.0.1" },
			errMsg: "bind_address",
		},
		{
			name:   "empty status address",
			mutate: func(c *ProxyConfig) { c.StatusAddress = "" },
			errMsg: "status_address",
		},
		{
			name:   "zero refresh interval",
			mutate: func(c *ProxyConfig) { c.Discovery.RefreshInterval = 0 },
			errMsg: "refresh_interval",
		},
		{
			name:   "zero register interval",
			mutate: func(c *ProxyConfig) { c.Discovery.RegisterInterval = 0 },
			errMsg: "register_interval",
		},
		{
			name:   "zero gossip interval",
			mutate: func(c *ProxyConfig) { c.Gossip.Interval = 0 },
			errMsg: "gossip.interval",
		},
		{
			name:   "zero idle timeout",
			mutate: func(c *ProxyConfig) { c.Timeouts.IdleTimeout = 0 },
			errMsg: "idle_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultProxyConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")

	cfg := DefaultProxyConfig()
	cfg.ClusterID = "east"
	cfg.Discovery.RefreshInterval = Duration(90 * time.Second)
	cfg.Discovery.StaticServices = []types.ServiceInfo{
		{Name: "api", Namespace: "prod", Port: 8080, Protocol: "tcp"},
	}
	cfg.Gossip.Seeds = []types.NodeAddr{
		{ID: "abcd1234", DirectAddrs: []string{"10.0.0.1:4242"}},
	}
	cfg.Backends.Overrides = map[string]string{"prod/api": "127.0.0.1:9000"}

	require.NoError(t, Save(path, cfg))

	loaded := DefaultProxyConfig()
	require.NoError(t, Load(path, loaded))
	assert.Equal(t, cfg, loaded)
}

func TestDurationParsing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")
	raw := "cluster_id: east\ndiscovery:\n  refresh_interval: 1m30s\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	cfg := &ProxyConfig{}
	require.NoError(t, Load(path, cfg))
	assert.Equal(t, 90*time.Second, cfg.Discovery.RefreshInterval.Std())
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weft.yaml")
	raw := "discovery:\n  refresh_interval: soon\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0600))

	err := Load(path, &ProxyConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoadMissingFile(t *testing.T) {
	err := Load(filepath.Join(t.TempDir(), "absent.yaml"), &ProxyConfig{})
	assert.Error(t, err)
}
