/*
Package events provides an in-memory event broker for Weft's pub/sub messaging.

The broker broadcasts mesh lifecycle events to interested subscribers with
non-blocking delivery: publishes go through a buffered channel (100 events) and
each subscriber gets its own buffered channel (50 events). A slow subscriber
drops events rather than stalling the publisher or its siblings.

# Event Types

	Cluster membership:
	  cluster.registered    first registration of a cluster
	  cluster.updated       refresh of an existing entry
	  cluster.evicted       TTL janitor removed a stale peer entry
	  cluster.removed       explicit departure

	Data plane:
	  tunnel.opened, tunnel.closed, tunnel.failed

	Control plane:
	  discovery.failed      a service-refresh tick failed

Subscribers include the agent status layer and tests; the registry and the
proxy are the main publishers.
*/
package events
