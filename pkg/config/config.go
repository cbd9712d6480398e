package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/weft/pkg/types"
)

// Duration wraps time.Duration for YAML round-tripping ("30s", "1m30s").
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// TransportConfig configures the secure transport endpoint.
type TransportConfig struct {
	// ListenAddress is the address the endpoint binds for peer connections.
	ListenAddress string `yaml:"listen_address"`

	// KeyPath is the identity key file. Created on first start if absent;
	// empty means an ephemeral key.
	KeyPath string `yaml:"key_path"`

	// RelayURL is an optional relay hint advertised to peers.
	RelayURL string `yaml:"relay_url"`

	// AdvertiseAddrs are the direct address candidates advertised to peers.
	// Empty means the bound listen address.
	AdvertiseAddrs []string `yaml:"advertise_addrs"`
}

// DNSConfig configures DNS-based peer bootstrap.
type DNSConfig struct {
	// Zone is the DNS zone queried for peer TXT records; empty disables
	// DNS bootstrap.
	Zone string `yaml:"zone"`

	// Servers are the resolvers to query (host:port). Empty uses the
	// system resolver configuration.
	Servers []string `yaml:"servers"`
}

// DiscoveryConfig configures local service discovery and registration.
type DiscoveryConfig struct {
	// Namespace restricts discovery to one namespace; empty means all.
	Namespace string `yaml:"namespace"`

	// RefreshInterval is the service list refresh period.
	RefreshInterval Duration `yaml:"refresh_interval"`

	// RegisterInterval is the registration/heartbeat period.
	RegisterInterval Duration `yaml:"register_interval"`

	// MaxConsecutiveFailures marks local discovery stale after this many
	// failed refreshes in a row.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// StaticServices are advertised when no cluster API is available
	// (standalone mode).
	StaticServices []types.ServiceInfo `yaml:"static_services"`

	DNS DNSConfig `yaml:"dns"`
}

// GossipConfig configures registration propagation between clusters.
type GossipConfig struct {
	// Interval is the propagation period.
	Interval Duration `yaml:"interval"`

	// Seeds are peer endpoints contacted at startup before any records
	// have been learned.
	Seeds []types.NodeAddr `yaml:"seeds"`
}

// BackendConfig configures how the inbound handler resolves local backends.
type BackendConfig struct {
	// Overrides maps "namespace/name" to an explicit host:port, taking
	// precedence over the default address form.
	Overrides map[string]string `yaml:"overrides"`

	// DomainSuffix is appended when deriving a backend host from a service
	// name, e.g. "svc.cluster.local". Empty derives "<name>.<namespace>".
	DomainSuffix string `yaml:"domain_suffix"`
}

// TimeoutConfig holds the data-plane timing knobs.
type TimeoutConfig struct {
	// DialTimeout bounds tunnel and backend dials.
	DialTimeout Duration `yaml:"dial_timeout"`

	// IdleTimeout force-closes a relay with no bytes in either direction.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// ShutdownGrace bounds how long in-flight relays may finish after a
	// shutdown signal.
	ShutdownGrace Duration `yaml:"shutdown_grace"`
}

// ProxyConfig is the full configuration of a weft proxy process.
type ProxyConfig struct {
	ClusterID     string          `yaml:"cluster_id"`
	BindAddress   string          `yaml:"bind_address"`
	StatusAddress string          `yaml:"status_address"`
	DataDir       string          `yaml:"data_dir"`
	Transport     TransportConfig `yaml:"transport"`
	Discovery     DiscoveryConfig `yaml:"discovery"`
	Gossip        GossipConfig    `yaml:"gossip"`
	Backends      BackendConfig   `yaml:"backends"`
	Timeouts      TimeoutConfig   `yaml:"timeouts"`
}

// AgentConfig is the full configuration of a weft agent process.
type AgentConfig struct {
	ClusterID     string          `yaml:"cluster_id"`
	StatusAddress string          `yaml:"status_address"`
	DataDir       string          `yaml:"data_dir"`
	Transport     TransportConfig `yaml:"transport"`
	Discovery     DiscoveryConfig `yaml:"discovery"`
	Gossip        GossipConfig    `yaml:"gossip"`
	Timeouts      TimeoutConfig   `yaml:"timeouts"`
}

// DefaultProxyConfig returns a proxy configuration with standalone defaults.
func DefaultProxyConfig() *ProxyConfig {
	return &ProxyConfig{
		ClusterID:     "default",
		BindAddress:   fmt.Sprintf("127.0.0.1:%d", types.DefaultProxyPort),
		StatusAddress: fmt.Sprintf("127.0.0.1:%d", types.DefaultAgentPort),
		DataDir:       defaultDataDir(),
		Transport:     TransportConfig{ListenAddress: "0.0.0.0:0"},
		Discovery:     defaultDiscovery(),
		Gossip:        GossipConfig{Interval: Duration(60 * time.Second)},
		Timeouts:      defaultTimeouts(),
	}
}

// DefaultAgentConfig returns an agent configuration with standalone defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		ClusterID:     "default",
		StatusAddress: fmt.Sprintf("127.0.0.1:%d", types.DefaultAgentPort),
		DataDir:       defaultDataDir(),
		Transport:     TransportConfig{ListenAddress: "0.0.0.0:0"},
		Discovery:     defaultDiscovery(),
		Gossip:        GossipConfig{Interval: Duration(60 * time.Second)},
		Timeouts:      defaultTimeouts(),
	}
}

func defaultDiscovery() DiscoveryConfig {
	return DiscoveryConfig{
		RefreshInterval:        Duration(30 * time.Second),
		RegisterInterval:       Duration(60 * time.Second),
		MaxConsecutiveFailures: 5,
	}
}

func defaultTimeouts() TimeoutConfig {
	return TimeoutConfig{
		DialTimeout:   Duration(10 * time.Second),
		IdleTimeout:   Duration(5 * time.Minute),
		ShutdownGrace: Duration(15 * time.Second),
	}
}

func defaultDataDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".weft"
	}
	return homeDir + "/.weft"
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *ProxyConfig) Validate() error {
	if err := types.ClusterID(c.ClusterID).Validate(); err != nil {
		return err
	}
	if err := validateAddr("bind_address", c.BindAddress); err != nil {
		return err
	}
	return validateCommon(c.StatusAddress, &c.Transport, &c.Discovery, &c.Gossip, &c.Timeouts)
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *AgentConfig) Validate() error {
	if err := types.ClusterID(c.ClusterID).Validate(); err != nil {
		return err
	}
	return validateCommon(c.StatusAddress, &c.Transport, &c.Discovery, &c.Gossip, &c.Timeouts)
}

func validateCommon(statusAddr string, tr *TransportConfig, disc *DiscoveryConfig, gossip *GossipConfig, timeouts *TimeoutConfig) error {
	if err := validateAddr("status_address", statusAddr); err != nil {
		return err
	}
	if err := validateAddr("transport.listen_address", tr.ListenAddress); err != nil {
		return err
	}
	if disc.RefreshInterval <= 0 {
		return fmt.Errorf("discovery.refresh_interval must be positive")
	}
	if disc.RegisterInterval <= 0 {
		return fmt.Errorf("discovery.register_interval must be positive")
	}
	if gossip.Interval <= 0 {
		return fmt.Errorf("gossip.interval must be positive")
	}
	if timeouts.IdleTimeout <= 0 {
		return fmt.Errorf("timeouts.idle_timeout must be positive")
	}
	if timeouts.DialTimeout <= 0 {
		return fmt.Errorf("timeouts.dial_timeout must be positive")
	}
	return nil
}

func validateAddr(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s must not be empty", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	return nil
}

// Load reads a YAML configuration file into cfg.
func Load(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// Save writes cfg to a YAML configuration file.
func Save(path string, cfg interface{}) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
