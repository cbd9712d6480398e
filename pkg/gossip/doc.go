// Package gossip propagates cluster registrations across the mesh.
//
// Every node runs a Gossiper on the shared secure transport. On each round
// the gossiper dials its known peers (configured seeds, bootstrap records,
// and clusters already learned) and swaps full registration sets; the
// accepting side answers with its own set, so one exchange synchronizes both
// nodes. Records merge last-writer-wins on their UpdatedAt timestamp, and a
// node never accepts foreign records about its own cluster.
//
// Applied records are written through to the persistence store, so a
// restarted agent can route from its last known mesh view before the first
// exchange completes.
package gossip
