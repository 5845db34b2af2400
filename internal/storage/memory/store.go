package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/interactions-gateway/internal/storage"
)

// Store is an in-memory DeliveryStore. Records are lost on restart.
type Store struct {
	mu      sync.RWMutex
	records map[string]*storage.DeliveryRecord
}

var _ storage.DeliveryStore = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		records: make(map[string]*storage.DeliveryRecord),
	}
}

func (s *Store) RecordDelivery(ctx context.Context, rec *storage.DeliveryRecord) error {
	if rec == nil {
		return fmt.Errorf("record is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("delivery record %s already exists", rec.ID)
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = now
	}

	stored := *rec
	s.records[rec.ID] = &stored
	return nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*storage.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("delivery %s: %w", id, storage.ErrNotFound)
	}
	out := *rec
	return &out, nil
}

func (s *Store) ListDeliveries(ctx context.Context, opts storage.ListOptions) ([]*storage.DeliveryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*storage.DeliveryRecord
	for _, rec := range s.records {
		if opts.Command != "" && rec.Command != opts.Command {
			continue
		}
		if opts.Outcome != "" && rec.Outcome != opts.Outcome {
			continue
		}
		out := *rec
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CompletedAt.Equal(result[j].CompletedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CompletedAt.After(result[j].CompletedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*storage.DeliveryRecord{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.records {
		if rec.CompletedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Store) Close() error {
	return nil
}
