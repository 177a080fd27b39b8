package store

import (
	"context"
	"encoding/json"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/mcp-integration/core/internal/model"
)

// PutTool writes one Tool record, keyed by (serverId, name).
func (s *Store) PutTool(ctx context.Context, t *model.Tool) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketTools)).Put([]byte(toolKey(t.ServerID, t.Name)), data)
	})
}

// DeleteTool removes one (serverId, name) record.
func (s *Store) DeleteTool(ctx context.Context, serverID, name string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketTools)).Delete([]byte(toolKey(serverID, name)))
	})
}

// DeleteToolsForServer removes every tool belonging to serverID.
func (s *Store) DeleteToolsForServer(ctx context.Context, serverID string) error {
	prefix := []byte(serverID + "\x00")
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketTools))
		c := bucket.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListToolsByServer returns every tool for serverID via a prefix scan.
func (s *Store) ListToolsByServer(ctx context.Context, serverID string) ([]model.Tool, error) {
	prefix := []byte(serverID + "\x00")
	var tools []model.Tool
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketTools)).Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var t model.Tool
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tools = append(tools, t)
		}
		return nil
	})
	return tools, err
}
