// Package agent assembles one Weft node's control plane.
//
// An Agent owns the secure transport endpoint and everything that maintains
// the node's view of the mesh: the cluster registry with TTL eviction, the
// discovery coordinator that advertises local services, the gossiper that
// propagates registrations between clusters, the bolt-backed registration
// store used to rehydrate that view across restarts, and a read-only HTTP
// status API.
//
//	┌─────────────────────────── Agent ───────────────────────────┐
//	│  discovery ──▶ registry ◀── gossip ◀──▶ peers (weft-gossip) │
//	│                   │   ▲                                     │
//	│                   ▼   └── store (bolt)                      │
//	│              status API (/v1/status, /v1/clusters)          │
//	└─────────────────────────────────────────────────────────────┘
//
// The proxy process embeds the same Agent and registers the mesh data-plane
// handler on top of it; the standalone agent process runs the control plane
// alone.
package agent
