// Package notification delivers in-app alerts to staff roles within a
// branch: temperature breaches, reactive screening results, look-back
// reviews and similar operational events.
package notification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hemovault/hemovault/internal/platform/db"
)

// Severity of a notification.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Notification is one alert targeted at a staff role within a branch.
type Notification struct {
	ID         uuid.UUID  `json:"id"`
	BranchID   uuid.UUID  `json:"branch_id"`
	TargetRole string     `json:"target_role"`
	Severity   Severity   `json:"severity"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	EntityType string     `json:"entity_type,omitempty"`
	EntityID   *uuid.UUID `json:"entity_id,omitempty"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Sink receives notifications. Delivery failure must not fail the business
// operation: callers log sink errors and continue.
type Sink interface {
	Notify(ctx context.Context, n *Notification) error
}

// PGSink stores notifications in the notification table.
type PGSink struct {
	pool *pgxpool.Pool
}

func NewPGSink(pool *pgxpool.Pool) *PGSink { return &PGSink{pool: pool} }

func (s *PGSink) Notify(ctx context.Context, n *Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO notification (id, branch_id, target_role, severity, title,
			message, entity_type, entity_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`

	args := []any{n.ID, n.BranchID, n.TargetRole, n.Severity, n.Title,
		n.Message, n.EntityType, n.EntityID, n.CreatedAt}

	if conn := db.ConnFromContext(ctx); conn != nil {
		_, err := conn.Exec(ctx, query, args...)
		return err
	}

	poolConn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("notification: acquire connection: %w", err)
	}
	defer poolConn.Release()

	_, err = poolConn.Exec(ctx, query, args...)
	return err
}

// ListUnread returns unread notifications for a role, newest first.
func (s *PGSink) ListUnread(ctx context.Context, branchID uuid.UUID, role string, limit int) ([]*Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, branch_id, target_role, severity, title, message,
			entity_type, entity_id, read_at, created_at
		FROM notification
		WHERE branch_id = $1 AND target_role = $2 AND read_at IS NULL
		ORDER BY created_at DESC LIMIT $3`,
		branchID, role, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.BranchID, &n.TargetRole, &n.Severity, &n.Title, &n.Message,
			&n.EntityType, &n.EntityID, &n.ReadAt, &n.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &n)
	}
	return items, rows.Err()
}

// MarkRead stamps the notification as read.
func (s *PGSink) MarkRead(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE notification SET read_at = NOW() WHERE id = $1 AND read_at IS NULL`, id)
	return err
}

// MemorySink collects notifications in memory, for tests.
type MemorySink struct {
	mu    sync.Mutex
	items []*Notification
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Notify(_ context.Context, n *Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.items = append(s.items, n)
	return nil
}

// Notifications returns a snapshot of delivered notifications.
func (s *MemorySink) Notifications() []*Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Notification, len(s.items))
	copy(out, s.items)
	return out
}
