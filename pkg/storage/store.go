package storage

import (
	"github.com/cuemby/weft/pkg/types"
)

// Store persists cluster registration records across agent restarts so a
// rehydrated registry can route before the first gossip exchange completes.
type Store interface {
	// SaveRegistration inserts or replaces the record for its cluster ID.
	SaveRegistration(reg types.ClusterRegistration) error

	// GetRegistration returns the record for id.
	GetRegistration(id types.ClusterID) (types.ClusterRegistration, error)

	// ListRegistrations returns all persisted records.
	ListRegistrations() ([]types.ClusterRegistration, error)

	// DeleteRegistration removes the record for id; absent ids are a no-op.
	DeleteRegistration(id types.ClusterID) error

	// Close releases the underlying database.
	Close() error
}
