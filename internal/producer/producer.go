// Package producer turns one nightly ingestion run into delivery jobs: one
// job per user with settings, split into fixed-size batches for users whose
// matching property count exceeds the batch size.
package producer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/domain"
	"github.com/oakmont/leadpipe/internal/storage"
)

type Store interface {
	ListUserIDsWithSettings(ctx context.Context) ([]string, error)
	GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	CountDeliverableProperties(ctx context.Context, userID string, st *domain.UserSettings) (int, error)
	InsertJob(ctx context.Context, jobType string, payload []byte, maxAttempts int, runAt time.Time) (string, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string, runAt time.Time) error
}

type Producer struct {
	store       Store
	queue       Enqueuer // nil in fallback mode; the poller picks pending rows up
	batchSize   int
	maxAttempts int
	log         *zap.Logger
}

func New(store Store, queue Enqueuer, batchSize, maxAttempts int, log *zap.Logger) *Producer {
	if batchSize <= 0 {
		batchSize = 200
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Producer{store: store, queue: queue, batchSize: batchSize, maxAttempts: maxAttempts, log: log.Named("producer")}
}

// Produce enqueues the delivery jobs for one ingestion run and returns how
// many jobs were created. Per-user failures are logged and skipped so one
// broken settings row cannot sink the whole run.
func (p *Producer) Produce(ctx context.Context, runID string, ingestedAt time.Time) (int, error) {
	userIDs, err := p.store.ListUserIDsWithSettings(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list users")
	}

	created := 0
	for _, userID := range userIDs {
		n, err := p.produceUser(ctx, runID, ingestedAt, userID)
		if err != nil {
			p.log.Warn("user enqueue failed", zap.String("userId", userID), zap.Error(err))
			continue
		}
		created += n
	}
	p.log.Info("run enqueued", zap.String("runId", runID), zap.Int("users", len(userIDs)), zap.Int("jobs", created))
	return created, nil
}

func (p *Producer) produceUser(ctx context.Context, runID string, ingestedAt time.Time, userID string) (int, error) {
	settings, err := p.store.GetUserSettings(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrSettingsNotFound) {
			return 0, nil
		}
		return 0, err
	}

	count, err := p.store.CountDeliverableProperties(ctx, userID, settings)
	if err != nil {
		return 0, err
	}

	base := domain.JobPayload{RunID: runID, IngestedAt: ingestedAt, UserID: userID}

	if count <= p.batchSize {
		// Single job, even when the count is zero: the engine completes it
		// trivially and the job row documents that the user was considered.
		if err := p.enqueueOne(ctx, base); err != nil {
			return 0, err
		}
		return 1, nil
	}

	total := (count + p.batchSize - 1) / p.batchSize
	for i := 0; i < total; i++ {
		payload := base
		payload.BatchIndex = i
		payload.BatchSize = p.batchSize
		payload.TotalBatches = total
		if err := p.enqueueOne(ctx, payload); err != nil {
			return i, err
		}
	}
	return total, nil
}

func (p *Producer) enqueueOne(ctx context.Context, payload domain.JobPayload) error {
	b, err := payload.Marshal()
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}
	id, err := p.store.InsertJob(ctx, domain.JobTypeDeliverLeads, b, p.maxAttempts, time.Now())
	if err != nil {
		return errors.Wrap(err, "insert job")
	}
	if p.queue != nil {
		if err := p.queue.Enqueue(ctx, id, time.Now()); err != nil {
			return errors.Wrap(err, "enqueue job")
		}
	}
	return nil
}
