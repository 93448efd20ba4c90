// Package worker runs the fixed-size pool that drains the delivery queue.
// Each worker holds one job in flight; parallelism across users comes from
// the pool size, never from concurrency inside a job.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oakmont/leadpipe/internal/domain"
	"github.com/oakmont/leadpipe/internal/engine"
)

type Store interface {
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	ClaimJob(ctx context.Context, id string, seenAttempts int) (bool, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, lastError string) error
	RetryJob(ctx context.Context, id string, runAt time.Time) error
}

type Queue interface {
	Dequeue(ctx context.Context, block time.Duration) (string, error)
	Enqueue(ctx context.Context, jobID string, runAt time.Time) error
}

type Deliverer interface {
	Deliver(ctx context.Context, job *domain.Job) (*engine.Report, error)
}

type Pool struct {
	store       Store
	queue       Queue
	engine      Deliverer
	size        int
	maxAttempts int
	backoffBase time.Duration
	log         *zap.Logger
}

func NewPool(store Store, queue Queue, eng Deliverer, size, maxAttempts int, backoffBase time.Duration, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 10
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Minute
	}
	return &Pool{
		store:       store,
		queue:       queue,
		engine:      eng,
		size:        size,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		log:         log.Named("worker"),
	}
}

// Run blocks until ctx is cancelled and every worker has finished its
// in-flight job. Cancellation stops intake only; a running delivery is
// never interrupted mid-flight.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		id := i + 1
		g.Go(func() error {
			p.loop(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.With(zap.Int("worker", id))
	for {
		if ctx.Err() != nil {
			return
		}
		jobID, err := p.queue.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("dequeue error", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		// The claim and the delivery run detached from the intake context
		// so shutdown drains rather than aborts.
		jctx := context.WithoutCancel(ctx)

		job, err := p.store.GetJob(jctx, jobID)
		if err != nil {
			log.Warn("job load failed", zap.String("jobId", jobID), zap.Error(err))
			continue
		}
		claimed, err := p.store.ClaimJob(jctx, job.ID, job.Attempts)
		if err != nil {
			log.Warn("claim failed", zap.String("jobId", job.ID), zap.Error(err))
			continue
		}
		if !claimed {
			log.Debug("lost claim race", zap.String("jobId", job.ID))
			continue
		}
		job.Attempts++

		if err := p.ProcessClaimed(jctx, job); err != nil {
			log.Warn("job failed", zap.String("jobId", job.ID),
				zap.Int("attempts", job.Attempts), zap.Error(err))
		}
	}
}

// ProcessClaimed runs the engine for an already-claimed job and books the
// outcome. It never swallows the delivery error: the caller sees it and the
// retry scheduling below re-submits up to maxAttempts with exponential
// backoff. Bookkeeping failures are logged but never mask the delivery
// error itself.
func (p *Pool) ProcessClaimed(ctx context.Context, job *domain.Job) error {
	log := p.log.With(zap.String("jobId", job.ID))

	report, derr := p.engine.Deliver(ctx, job)
	if derr == nil {
		if err := p.store.CompleteJob(ctx, job.ID); err != nil {
			log.Warn("complete bookkeeping failed", zap.Error(err))
		}
		if report != nil {
			log.Info("job completed",
				zap.String("userId", report.UserID),
				zap.Int("selected", report.Selected),
				zap.Int("accounts", len(report.Accounts)))
		}
		return nil
	}

	if err := p.store.FailJob(ctx, job.ID, derr.Error()); err != nil {
		log.Warn("failure bookkeeping failed", zap.Error(err))
	}

	if job.Attempts < p.maxAttempts {
		// 60s, 120s, 240s... capped by maxAttempts, not by a ceiling.
		delay := p.backoffBase << (job.Attempts - 1)
		runAt := time.Now().Add(delay)
		if err := p.store.RetryJob(ctx, job.ID, runAt); err != nil {
			log.Warn("retry bookkeeping failed", zap.Error(err))
		} else if p.queue != nil {
			if err := p.queue.Enqueue(ctx, job.ID, runAt); err != nil {
				log.Warn("retry enqueue failed", zap.Error(err))
			}
		}
	}
	return derr
}
