package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type contextKey string

const (
	BranchIDKey contextKey = "branch_id"
	DBConnKey   contextKey = "db_conn"
)

// Conn is the subset of pgx connection behavior repositories need. Both
// *pgxpool.Conn and pgx.Tx satisfy it, so a repository running inside
// RunInTx transparently uses the transaction.
type Conn interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// WithConn returns a context carrying a pinned connection or transaction.
func WithConn(ctx context.Context, conn Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// ConnFromContext retrieves the pinned connection from context, or nil.
func ConnFromContext(ctx context.Context) Conn {
	conn, _ := ctx.Value(DBConnKey).(Conn)
	return conn
}
