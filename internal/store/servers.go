package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/mcp-integration/core/internal/model"
)

// PutServer writes one Server record, keyed by id.
func (s *Store) PutServer(ctx context.Context, srv *model.Server) error {
	data, err := json.Marshal(srv)
	if err != nil {
		return fmt.Errorf("marshal server: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketServers)).Put([]byte(srv.ID), data)
	})
}

// GetServer reads one Server record by id.
func (s *Store) GetServer(ctx context.Context, id string) (*model.Server, error) {
	var srv model.Server
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketServers)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &srv)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("server %q not found", id)
	}
	return &srv, nil
}

// DeleteServer removes one Server record by id.
func (s *Store) DeleteServer(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketServers)).Delete([]byte(id))
	})
}

// ListServers performs a full-bucket scan with in-memory filtering:
// bbolt has no secondary indexes, so this follows the same list pattern
// as the other buckets, acceptable at this core's scale since nothing
// bounds server count beyond pool capacity.
func (s *Store) ListServers(ctx context.Context, filter model.ServerFilter) (model.Page[model.Server], error) {
	var all []model.Server
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketServers)).ForEach(func(_, v []byte) error {
			var srv model.Server
			if err := json.Unmarshal(v, &srv); err != nil {
				return err
			}
			all = append(all, srv)
			return nil
		})
	})
	if err != nil {
		return model.Page[model.Server]{}, err
	}

	var matched []model.Server
	for _, srv := range all {
		if filter.Status != "" && srv.Status != filter.Status {
			continue
		}
		if filter.Name != "" && !strings.Contains(strings.ToLower(srv.Name), strings.ToLower(filter.Name)) {
			continue
		}
		matched = append(matched, srv)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].Name < matched[j].Name })

	total := len(matched)
	offset, limit := filter.Offset, filter.Limit
	if limit <= 0 {
		limit = total
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	return model.Page[model.Server]{
		Items:  matched[offset:end],
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}, nil
}
