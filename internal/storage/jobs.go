package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/oakmont/leadpipe/internal/domain"
)

// InsertJob persists a pending job row (source of truth; the Redis queue
// only carries ids).
func (s *Store) InsertJob(ctx context.Context, jobType string, payload []byte, maxAttempts int, runAt time.Time) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `insert into jobs(
id, type, payload, status, attempts, max_attempts, run_at
) values ($1,$2,$3,'pending',0,$4,$5)`,
		id, jobType, payload, maxAttempts, runAt)
	return id, err
}

func (s *Store) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	row := s.db.QueryRow(ctx, `select id, type, payload, status, attempts, max_attempts,
last_error, run_at, started_at, finished_at, progress, created_at, updated_at
from jobs where id = $1`, id)
	return scanJob(row)
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var j domain.Job
	var progress []byte
	if err := row.Scan(&j.ID, &j.Type, &j.Payload, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.LastError, &j.RunAt, &j.StartedAt, &j.FinishedAt, &progress, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(progress) > 0 {
		var p domain.Progress
		if err := json.Unmarshal(progress, &p); err == nil {
			j.Progress = &p
		}
	}
	return &j, nil
}

// ClaimJob moves a job to in_progress and bumps attempts, guarded on the
// attempts value the caller read so two claimants cannot both win.
func (s *Store) ClaimJob(ctx context.Context, id string, seenAttempts int) (bool, error) {
	tag, err := s.db.Exec(ctx, `update jobs
set status = 'in_progress', attempts = attempts + 1, started_at = now(), updated_at = now()
where id = $1 and status = 'pending' and attempts = $2`,
		id, seenAttempts)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `update jobs
set status = 'completed', finished_at = now(), updated_at = now()
where id = $1`, id)
	return err
}

// FailJob records the error. Whether the job is retried is the queue
// layer's call, not this row's.
func (s *Store) FailJob(ctx context.Context, id, lastError string) error {
	_, err := s.db.Exec(ctx, `update jobs
set status = 'failed', last_error = $2, finished_at = now(), updated_at = now()
where id = $1`, id, lastError)
	return err
}

// RetryJob resets a failed job to pending with a delayed run_at, consumed
// by the delay queue / poller.
func (s *Store) RetryJob(ctx context.Context, id string, runAt time.Time) error {
	_, err := s.db.Exec(ctx, `update jobs
set status = 'pending', run_at = $2, finished_at = null, updated_at = now()
where id = $1 and status = 'failed' and attempts < max_attempts`, id, runAt)
	return err
}

func (s *Store) UpsertJobProgress(ctx context.Context, id string, p domain.Progress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal progress")
	}
	_, err = s.db.Exec(ctx, `update jobs set progress = $2, updated_at = now() where id = $1`, id, b)
	return err
}

// PendingJobs returns due pending jobs for the polling fallback, oldest
// first. Callers claim each via ClaimJob with the attempts value seen here.
func (s *Store) PendingJobs(ctx context.Context, limit int) ([]*domain.Job, error) {
	rows, err := s.db.Query(ctx, `select id, type, payload, status, attempts, max_attempts,
last_error, run_at, started_at, finished_at, progress, created_at, updated_at
from jobs
where status = 'pending' and run_at <= now()
order by created_at asc limit $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// RequeueStale resets jobs stuck in_progress past the visibility window
// (worker died mid-job) back to pending, and returns their ids so the
// broker queue can be refilled.
func (s *Store) RequeueStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	rows, err := s.db.Query(ctx, `update jobs
set status = 'pending', updated_at = now()
where status = 'in_progress'
  and started_at < now() - make_interval(secs => $1)
  and attempts < max_attempts
returning id`, olderThan.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ExpireJobs terminally fails pending jobs older than the expiry window
// (queue policy: a job is worthless an hour after the nightly run).
func (s *Store) ExpireJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `update jobs
set status = 'failed', last_error = 'expired', finished_at = now(), updated_at = now()
where status = 'pending' and created_at < now() - make_interval(secs => $1)`, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CountJobsByStatus feeds the health endpoint.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Query(ctx, `select status, count(*) from jobs group by status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}
