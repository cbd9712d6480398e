/*
Package storage persists cluster registration records.

The registry itself is in-memory; this package gives an agent warm-start
behavior. On every accepted registration the record is written through to a
BoltDB database under the data directory, and at startup the persisted records
are loaded back into the registry before gossip has had a chance to run. Stale
records are filtered by the same TTL the registry janitor applies, so a long
downtime does not resurrect dead peers.

The Store interface keeps the persistence concern swappable; BoltStore is the
single production implementation. Records are stored as JSON values keyed by
cluster ID in one bucket.
*/
package storage
