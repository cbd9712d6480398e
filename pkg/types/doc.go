/*
Package types defines the shared data model for the Weft mesh.

The model is deliberately small and value-oriented: every struct that crosses a
package boundary is copied, never shared, so the cluster registry can hand out
snapshots without exposing its internal state to mutation.

# Core Types

	ClusterID            Opaque, stable identifier of a cluster; registry key.
	NodeID               Hex-encoded ed25519 public key of a transport endpoint.
	NodeAddr             Reachability for an endpoint: pinned NodeID, optional
	                     relay hint, direct address candidates.
	ServiceInfo          A service exposed by a cluster, keyed (name, namespace).
	ClusterInfo          A cluster's identity + reachability + service set, with
	                     the freshness timestamp of its last successful refresh.
	ClusterRegistration  The unit of cross-cluster propagation; ClusterInfo in
	                     wire form.
	ClusterStatus        Read-only operational snapshot for the status API.

# Protocol Identifiers

Mesh traffic and gossip traffic share one secure-transport endpoint and are
distinguished by ALPN:

	weft/1           tunneled data-plane streams
	weft-gossip/1    registration record exchange
*/
package types
