/*
Package registry implements the cluster registry, the authoritative in-memory
map of known clusters used for every routing decision in the mesh.

# Semantics

The registry holds at most one ClusterInfo per ClusterID. Writes replace the
whole value under an exclusive lock; reads take a shared lock and return deep
copies, so a reader can never observe a partially-applied update and no caller
can mutate registry state through an aliased slice or struct.

	RegisterOrUpdate(info)        insert or replace, idempotent
	Get(id)                       point lookup snapshot
	List()                        copy-on-read snapshot of all entries
	FindService(name, namespace)  linear scan, deterministic tie-break
	Remove(id)                    explicit departure
	EvictStale(ttl)               TTL sweep of peer entries

# Tie-break

When several clusters advertise the same (name, namespace), FindService prefers
the most recently updated entry; equal timestamps break toward the smallest
cluster ID. The result is stable across repeated calls while the registry is
unchanged.

# Eviction

Peer entries carry the freshness timestamp of their last registration.
RunJanitor sweeps the registry and evicts peers older than the TTL, which by
convention is DefaultTTLMultiplier times the registration interval. The local
cluster's entry is exempt; its freshness is the discovery coordinator's
responsibility and a discovery outage must not remove the local entry.

Registry changes are published on the event broker and reflected in the
weft_clusters_known / weft_services_known gauges.
*/
package registry
