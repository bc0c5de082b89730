// Package audit records the blood bank's append-only action trail. Every
// state-changing operation writes one event naming who did what to which
// record.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hemovault/hemovault/internal/platform/db"
)

// Event is a single audit trail entry.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	BranchID   uuid.UUID              `json:"branch_id"`
	Action     string                 `json:"action"`
	ActorID    string                 `json:"actor_id"`
	ActorName  string                 `json:"actor_name,omitempty"`
	EntityType string                 `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Recorded   time.Time              `json:"recorded"`
}

// Sink receives audit events. Recording must not fail the business operation:
// callers log sink errors and continue.
type Sink interface {
	Record(ctx context.Context, e *Event) error
}

// PGSink writes events to the audit_event table. It uses the request-scoped
// connection from context when available, falling back to the pool, so events
// recorded inside a transaction roll back with it.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink { return &PGSink{pool: pool} }

func (s *PGSink) Record(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}

	const query = `
		INSERT INTO audit_event (id, branch_id, action, actor_id, actor_name,
			entity_type, entity_id, details, recorded)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	args := []any{e.ID, e.BranchID, e.Action, e.ActorID, e.ActorName,
		e.EntityType, e.EntityID, e.Details, e.Recorded}

	if conn := db.ConnFromContext(ctx); conn != nil {
		_, err := conn.Exec(ctx, query, args...)
		return err
	}

	poolConn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("audit: acquire connection: %w", err)
	}
	defer poolConn.Release()

	_, err = poolConn.Exec(ctx, query, args...)
	return err
}

// ListByEntity returns the trail for one record, oldest first.
func (s *PGSink) ListByEntity(ctx context.Context, entityType string, entityID uuid.UUID) ([]*Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, action, actor_id, actor_name, entity_type, entity_id, details, recorded
		FROM audit_event WHERE entity_type = $1 AND entity_id = $2 ORDER BY recorded`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []*Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.BranchID, &e.Action, &e.ActorID, &e.ActorName,
			&e.EntityType, &e.EntityID, &e.Details, &e.Recorded); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}

// MemorySink collects events in memory, for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []*Event
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Recorded.IsZero() {
		e.Recorded = time.Now().UTC()
	}
	s.events = append(s.events, e)
	return nil
}

// Events returns a snapshot of recorded events.
func (s *MemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// Actions returns the recorded action names in order.
func (s *MemorySink) Actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}
