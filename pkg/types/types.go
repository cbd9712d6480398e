package types

import (
	"fmt"
	"strings"
	"time"
)

const (
	// MeshALPN is the protocol identifier for tunneled data-plane traffic.
	MeshALPN = "weft/1"

	// GossipALPN is the protocol identifier for cluster registration exchange.
	GossipALPN = "weft-gossip/1"

	// DefaultProxyPort is the default local TCP ingress port for the mesh proxy.
	DefaultProxyPort = 15001

	// DefaultAgentPort is the default port for the agent status API.
	DefaultAgentPort = 15002
)

// ClusterID uniquely identifies a cluster in the mesh.
type ClusterID string

func (c ClusterID) String() string {
	return string(c)
}

// Validate checks that the cluster ID is usable as a registry key.
func (c ClusterID) Validate() error {
	if c == "" {
		return fmt.Errorf("cluster id must not be empty")
	}
	return nil
}

// NodeID identifies a transport endpoint. It is the hex encoding of the
// endpoint's ed25519 public key.
type NodeID string

func (n NodeID) String() string {
	return string(n)
}

// Short returns a truncated form suitable for log fields.
func (n NodeID) Short() string {
	if len(n) <= 8 {
		return string(n)
	}
	return string(n[:8])
}

// NodeAddr describes how to reach a cluster's transport endpoint: an optional
// relay hint plus zero or more direct address candidates. The node ID pins the
// expected peer identity; dialing a NodeAddr with a mismatched identity fails.
type NodeAddr struct {
	ID          NodeID   `json:"id" yaml:"id"`
	RelayURL    string   `json:"relay_url,omitempty" yaml:"relay_url,omitempty"`
	DirectAddrs []string `json:"direct_addrs,omitempty" yaml:"direct_addrs,omitempty"`
}

// IsZero reports whether the address carries no reachability information.
func (a NodeAddr) IsZero() bool {
	return a.ID == "" && a.RelayURL == "" && len(a.DirectAddrs) == 0
}

func (a NodeAddr) String() string {
	return fmt.Sprintf("%s@%v", a.ID.Short(), a.DirectAddrs)
}

// Clone returns an independent copy.
func (a NodeAddr) Clone() NodeAddr {
	out := a
	out.DirectAddrs = append([]string(nil), a.DirectAddrs...)
	return out
}

// ParseNodeAddr parses the compact "<node-id>@<addr>[,<addr>...]" form used
// for seed peers on the command line.
func ParseNodeAddr(s string) (NodeAddr, error) {
	id, addrs, found := strings.Cut(s, "@")
	if !found || id == "" {
		return NodeAddr{}, fmt.Errorf("node address %q must be <node-id>@<addr>[,<addr>...]", s)
	}
	addr := NodeAddr{ID: NodeID(id)}
	for _, a := range strings.Split(addrs, ",") {
		if a != "" {
			addr.DirectAddrs = append(addr.DirectAddrs, a)
		}
	}
	if len(addr.DirectAddrs) == 0 {
		return NodeAddr{}, fmt.Errorf("node address %q carries no dialable address", s)
	}
	return addr, nil
}

// ServiceInfo describes a service exposed by a cluster. A service is uniquely
// identified by (Name, Namespace) within its cluster.
type ServiceInfo struct {
	Name      string `json:"name" yaml:"name"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Port      uint16 `json:"port" yaml:"port"`
	Protocol  string `json:"protocol" yaml:"protocol"`
}

func (s ServiceInfo) String() string {
	return fmt.Sprintf("%s/%s:%d", s.Namespace, s.Name, s.Port)
}

// Matches reports whether the service is addressed by the given name and
// namespace.
func (s ServiceInfo) Matches(name, namespace string) bool {
	return s.Name == name && s.Namespace == namespace
}

// ClusterInfo is the registry's view of a single cluster: its identity, how to
// reach its endpoint, and the services it currently exposes. Values are
// replaced wholesale on every update; readers always see a complete snapshot.
type ClusterInfo struct {
	ID        ClusterID     `json:"id"`
	NodeAddr  NodeAddr      `json:"node_addr"`
	Services  []ServiceInfo `json:"services"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Clone returns a deep copy so that callers never alias registry state.
func (c ClusterInfo) Clone() ClusterInfo {
	out := c
	out.NodeAddr = c.NodeAddr.Clone()
	out.Services = append([]ServiceInfo(nil), c.Services...)
	return out
}

// HasService reports whether the cluster advertises (name, namespace).
func (c ClusterInfo) HasService(name, namespace string) bool {
	_, ok := c.Service(name, namespace)
	return ok
}

// Service returns the advertised descriptor for (name, namespace), if any.
func (c ClusterInfo) Service(name, namespace string) (ServiceInfo, bool) {
	for _, svc := range c.Services {
		if svc.Matches(name, namespace) {
			return svc, true
		}
	}
	return ServiceInfo{}, false
}

// ClusterRegistration is the record exchanged between clusters' discovery
// coordinators. UpdatedAt is the freshness timestamp peers use to discard
// stale records and to drive TTL eviction.
type ClusterRegistration struct {
	ClusterID ClusterID     `json:"cluster_id"`
	NodeAddr  NodeAddr      `json:"node_addr"`
	Services  []ServiceInfo `json:"services"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Info converts the registration into registry form.
func (r ClusterRegistration) Info() ClusterInfo {
	return ClusterInfo{
		ID:        r.ClusterID,
		NodeAddr:  r.NodeAddr,
		Services:  r.Services,
		UpdatedAt: r.UpdatedAt,
	}
}

// RegistrationOf builds the propagation record for a cluster's current info.
func RegistrationOf(info ClusterInfo) ClusterRegistration {
	return ClusterRegistration{
		ClusterID: info.ID,
		NodeAddr:  info.NodeAddr,
		Services:  info.Services,
		UpdatedAt: info.UpdatedAt,
	}
}

// ClusterStatus is the read-only operational snapshot served by the agent
// status API.
type ClusterStatus struct {
	ClusterID      ClusterID     `json:"cluster_id"`
	NodeID         NodeID        `json:"node_id"`
	NodeAddr       NodeAddr      `json:"node_addr"`
	Services       []ServiceInfo `json:"services"`
	PeerClusters   []ClusterID   `json:"peer_clusters"`
	DiscoveryStale bool          `json:"discovery_stale"`
}
