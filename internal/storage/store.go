// Package storage is the pgx-backed persistence layer. All mutations are
// single-row atomic updates; the only cross-worker coordination is the
// conditional job claim in jobs.go.
package storage

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// WithAdvisoryLock pins one pool connection, tries the session-scoped
// advisory lock on it, and runs fn while holding it. The lock is released
// on the same connection before it goes back to the pool; a connection
// whose unlock fails is closed instead of returned still holding the lock.
// ok=false means another instance holds the lock and fn never ran.
func (s *Store) WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (ok bool, err error) {
	conn, err := s.db.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer conn.Release()

	if err := conn.QueryRow(ctx, `select pg_try_advisory_lock($1)`, key).Scan(&ok); err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		unlockCtx := context.WithoutCancel(ctx)
		if _, uerr := conn.Exec(unlockCtx, `select pg_advisory_unlock($1)`, key); uerr != nil {
			_ = conn.Conn().Close(unlockCtx)
		}
	}()
	return true, fn(ctx)
}
