/*
Package discovery keeps the local cluster's view of itself fresh and publishes
it into the cluster registry.

# ServiceLister

The source of local service information is abstracted behind ServiceLister, a
capability injected at construction. A lister either returns the complete
service set for the requested namespace scope or fails with
ErrDiscoveryUnavailable; it never silently returns a partial list.
StaticLister serves a fixed set from configuration for standalone mode, and is
also the test fixture.

# Coordinator

The coordinator runs two independent periodic loops:

	refresh    (default 30s)  list local services via the ServiceLister
	register   (default 60s)  publish ClusterInfo into the registry

A failed refresh is logged, counted and retried next tick; it never removes or
empties the existing registry entry, because transient backend downtime must
not take an otherwise-healthy cluster out of the mesh. After a configurable
number of consecutive failures the coordinator reports itself stale, which the
status API surfaces and logs flag.

# DNS Bootstrap

DNSBootstrap resolves _weft.<zone> TXT records into peer endpoint addresses,
giving gossip an initial peer set without static seed configuration.
*/
package discovery
