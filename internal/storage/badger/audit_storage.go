package badger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/authrelay/internal/interfaces"
	"github.com/ternarybob/authrelay/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// AuditStorage implements the AuditStorage interface for Badger
type AuditStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewAuditStorage creates a new AuditStorage instance
func NewAuditStorage(db *BadgerDB, logger arbor.ILogger) interfaces.AuditStorage {
	return &AuditStorage{
		db:     db,
		logger: logger,
	}
}

func (s *AuditStorage) Append(ctx context.Context, event *models.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := s.db.Store().Insert(event.ID, event); err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

// Query fetches events matching the filter, newest first.
// Filtering happens in-memory after a full scan; audit volumes here are
// administrative, not high-throughput.
func (s *AuditStorage) Query(ctx context.Context, query *models.AuditQuery) ([]*models.AuditEvent, error) {
	var events []models.AuditEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}

	var filtered []*models.AuditEvent
	for i := range events {
		e := &events[i]
		if query != nil && !matchesQuery(e, query) {
			continue
		}
		filtered = append(filtered, e)
	}

	// Newest first
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].Timestamp.After(filtered[j].Timestamp)
	})

	if query != nil {
		if query.Offset > 0 {
			if query.Offset >= len(filtered) {
				return []*models.AuditEvent{}, nil
			}
			filtered = filtered[query.Offset:]
		}
		if query.Limit > 0 && len(filtered) > query.Limit {
			filtered = filtered[:query.Limit]
		}
	}
	return filtered, nil
}

func matchesQuery(e *models.AuditEvent, q *models.AuditQuery) bool {
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if q.ResourceType != "" && e.ResourceType != q.ResourceType {
		return false
	}
	if q.ResourceID != "" && e.ResourceID != q.ResourceID {
		return false
	}
	if q.Success != nil && e.Success != *q.Success {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

func (s *AuditStorage) Stats(ctx context.Context) (*models.AuditStats, error) {
	var events []models.AuditEvent
	if err := s.db.Store().Find(&events, badgerhold.Where("ID").Ne("")); err != nil {
		return nil, fmt.Errorf("failed to load audit events for stats: %w", err)
	}

	stats := &models.AuditStats{
		TotalEvents: len(events),
		ByAction:    make(map[string]int),
		ByResource:  make(map[string]int),
		ByRole:      make(map[string]int),
	}

	for i := range events {
		e := &events[i]
		if e.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		stats.ByAction[string(e.Action)]++
		stats.ByResource[string(e.ResourceType)]++
		if e.Role != "" {
			stats.ByRole[e.Role]++
		}
	}
	return stats, nil
}
