// Package queue carries job ids between the producer and the workers. The
// Postgres jobs table stays the source of truth; Redis only holds ids, so a
// lost broker entry is recoverable by the poller's reconcile pass.
package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

type RedisQ struct {
	rdb  *r.Client
	name string
}

func New(rdb *r.Client, name string) *RedisQ { return &RedisQ{rdb: rdb, name: name} }

func (q *RedisQ) queueKey() string { return "queue:" + q.name }
func (q *RedisQ) delayKey() string { return "delay:" + q.name }

func (q *RedisQ) Ping(ctx context.Context) error { return q.rdb.Ping(ctx).Err() }

// Enqueue pushes immediately, or parks the id on the delay ZSET when runAt
// is in the future (retry backoff uses this).
func (q *RedisQ) Enqueue(ctx context.Context, jobID string, runAt time.Time) error {
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, q.delayKey(), r.Z{Score: float64(runAt.Unix()), Member: jobID}).Err()
	}
	return q.rdb.LPush(ctx, q.queueKey(), jobID).Err()
}

// Dequeue blocks up to block for the next job id. Returns "" on timeout.
func (q *RedisQ) Dequeue(ctx context.Context, block time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, block, q.queueKey()).Result()
	if err == r.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if len(res) == 2 {
		return res[1], nil
	}
	return "", nil
}

// MoveDue promotes delayed ids whose time has come onto the live queue.
// Called by the poller tick under the advisory-lock leader.
func (q *RedisQ) MoveDue(ctx context.Context, now int64, batch int64) error {
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayKey(), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, q.queueKey(), id)
		pipe.ZRem(ctx, q.delayKey(), id)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Refill re-pushes ids the DB says are runnable but the broker lost
// (restart, eviction).
func (q *RedisQ) Refill(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pipe := q.rdb.TxPipeline()
	for _, id := range ids {
		pipe.LPush(ctx, q.queueKey(), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}
