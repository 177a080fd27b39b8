package store

import (
	"context"
	"encoding/json"
	"sort"

	"go.etcd.io/bbolt"

	"github.com/mcp-integration/core/internal/model"
)

// PutExecution writes one Execution record, keyed by id.
func (s *Store) PutExecution(ctx context.Context, e *model.Execution) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketExecutions)).Put([]byte(e.ID), data)
	})
}

// GetExecution reads one Execution record by id.
func (s *Store) GetExecution(ctx context.Context, id string) (*model.Execution, error) {
	var e model.Execution
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketExecutions)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// ListExecutions performs a full-bucket cursor scan with in-memory
// filtering on serverId, status, and time range: bbolt has no secondary
// indexes, so this follows the same full-scan list pattern as the other
// buckets.
func (s *Store) ListExecutions(ctx context.Context, filter model.ExecutionFilter) (model.Page[model.Execution], error) {
	var all []model.Execution
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketExecutions)).ForEach(func(_, v []byte) error {
			var e model.Execution
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			all = append(all, e)
			return nil
		})
	})
	if err != nil {
		return model.Page[model.Execution]{}, err
	}

	var matched []model.Execution
	for _, e := range all {
		if filter.ServerID != "" && e.ServerID != filter.ServerID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && e.StartedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && e.StartedAt.After(filter.Until) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })

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

	return model.Page[model.Execution]{
		Items:  matched[offset:end],
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}, nil
}
