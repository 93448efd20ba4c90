package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/domain"
)

// advisoryLockKey guards the maintenance tick so only one poller instance
// moves due jobs at a time. The lock is taken and released on one pinned
// connection per tick, never left behind on a pooled session.
const advisoryLockKey = 7741

const pollBatch = 5

// Store is the slice of job persistence the poller drives.
type Store interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(ctx context.Context) error) (bool, error)
	PendingJobs(ctx context.Context, limit int) ([]*domain.Job, error)
	ClaimJob(ctx context.Context, id string, seenAttempts int) (bool, error)
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]string, error)
	ExpireJobs(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Runner processes one claimed job; the worker package provides it in
// fallback mode.
type Runner func(ctx context.Context, job *domain.Job) error

// Poller has two modes. With a broker it is pure maintenance: promote
// delayed ids, refill ids the broker lost, requeue stale in_progress rows,
// expire old pending rows. Without a broker (rq == nil) it also claims and
// runs jobs itself: a small batch of due pending rows per tick, each
// claimed with an attempts-guarded conditional update, processed
// sequentially.
type Poller struct {
	store     Store
	rq        *RedisQ // nil selects fallback mode
	run       Runner
	interval  time.Duration
	staleAge  time.Duration
	expiryAge time.Duration
	log       *zap.Logger
}

func NewPoller(store Store, rq *RedisQ, run Runner, interval, staleAge, expiryAge time.Duration, log *zap.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		store:     store,
		rq:        rq,
		run:       run,
		interval:  interval,
		staleAge:  staleAge,
		expiryAge: expiryAge,
		log:       log.Named("poller"),
	}
}

func (p *Poller) Run(ctx context.Context) error {
	tick := time.NewTicker(p.interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}

		_, err := p.store.WithAdvisoryLock(ctx, advisoryLockKey, func(ctx context.Context) error {
			p.maintain(ctx)
			if p.rq == nil && p.run != nil {
				p.drainPending(ctx)
			}
			return nil
		})
		if err != nil {
			p.log.Warn("maintenance tick failed", zap.Error(err))
		}
	}
}

func (p *Poller) maintain(ctx context.Context) {
	if p.rq != nil {
		if err := p.rq.MoveDue(ctx, time.Now().UTC().Unix(), 200); err != nil {
			p.log.Warn("move due failed", zap.Error(err))
		}
	}

	if p.staleAge > 0 {
		ids, err := p.store.RequeueStale(ctx, p.staleAge)
		if err != nil {
			p.log.Warn("stale requeue failed", zap.Error(err))
		} else if len(ids) > 0 {
			p.log.Info("requeued stale jobs", zap.Int("count", len(ids)))
			if p.rq != nil {
				if err := p.rq.Refill(ctx, ids); err != nil {
					p.log.Warn("refill failed", zap.Error(err))
				}
			}
		}
	}

	if p.expiryAge > 0 {
		if n, err := p.store.ExpireJobs(ctx, p.expiryAge); err != nil {
			p.log.Warn("expiry failed", zap.Error(err))
		} else if n > 0 {
			p.log.Info("expired stale pending jobs", zap.Int64("count", n))
		}
	}
}

// drainPending is the brokerless scheduling model: claim up to pollBatch
// due jobs and run them one after another. The attempts guard on ClaimJob
// keeps two pollers from double-running a job even without Redis.
func (p *Poller) drainPending(ctx context.Context) {
	jobs, err := p.store.PendingJobs(ctx, pollBatch)
	if err != nil {
		p.log.Warn("pending select failed", zap.Error(err))
		return
	}
	for _, job := range jobs {
		claimed, err := p.store.ClaimJob(ctx, job.ID, job.Attempts)
		if err != nil {
			p.log.Warn("claim failed", zap.String("jobId", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		job.Attempts++
		if err := p.run(ctx, job); err != nil {
			p.log.Warn("job failed", zap.String("jobId", job.ID), zap.Error(err))
		}
	}
}
