package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/weft/pkg/types"
)

var (
	// Bucket names
	bucketRegistrations = []byte("registrations")
)

// ErrNotFound is returned when a registration record does not exist.
var ErrNotFound = fmt.Errorf("registration not found")

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store under dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "weft.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRegistrations); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketRegistrations, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SaveRegistration(reg types.ClusterRegistration) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRegistrations)
		data, err := json.Marshal(reg)
		if err != nil {
			return err
		}
		return b.Put([]byte(reg.ClusterID), data)
	})
}

func (s *BoltStore) GetRegistration(id types.ClusterID) (types.ClusterRegistration, error) {
	var reg types.ClusterRegistration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRegistrations)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &reg)
	})
	if err != nil {
		return types.ClusterRegistration{}, err
	}
	return reg, nil
}

func (s *BoltStore) ListRegistrations() ([]types.ClusterRegistration, error) {
	var regs []types.ClusterRegistration
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRegistrations)
		return b.ForEach(func(_, data []byte) error {
			var reg types.ClusterRegistration
			if err := json.Unmarshal(data, &reg); err != nil {
				return err
			}
			regs = append(regs, reg)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return regs, nil
}

func (s *BoltStore) DeleteRegistration(id types.ClusterID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRegistrations)
		return b.Delete([]byte(id))
	})
}
