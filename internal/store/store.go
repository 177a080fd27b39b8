// Package store implements the persisted-state collaborator the core
// depends on through the registry.Store/catalog.Store/engine.Store
// interfaces: three bbolt buckets (servers, tools, executions) holding
// JSON-encoded records. A production deployment may swap in any other
// backend; this implementation is the one in-scope concrete adapter.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mcp-integration/core/internal/model"
)

const (
	bucketServers    = "servers"
	bucketTools      = "tools"
	bucketExecutions = "executions"
)

// Store wraps a bbolt database holding every persisted entity this core owns.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open creates (or reopens) the bbolt database at path and ensures every
// bucket exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := bbolt.Open(path, 0644, &bbolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database at %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger.With(zap.String("component", "store"))}
	if err := s.initBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range []string{bucketServers, bucketTools, bucketExecutions} {
			if _, err := tx.CreateBucketIfNotExists([]byte(bucket)); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func toolKey(serverID, name string) string {
	return serverID + "\x00" + name
}
