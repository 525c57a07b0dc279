// Package refresh fans aggregation-refresh requests out to the
// embedding aggregator. The default Direct queue runs refreshes inline
// with the triggering write; the Stream queue moves them onto a Redis
// Stream drained by a worker, for deployments that want aggregation off
// the request path. Refreshes are idempotent, so redundant deliveries
// are harmless.
package refresh

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Aggregator recomputes one skill's aggregate embedding.
type Aggregator interface {
	Refresh(ctx context.Context, skillID string) error
}

// Queue accepts refresh requests for a set of skills.
type Queue interface {
	Enqueue(ctx context.Context, skillIDs ...string) error
}

// Direct invokes the aggregator synchronously. A failed refresh is
// logged and does not block the remaining skills; the derived cache
// converges on the next trigger.
type Direct struct {
	agg    Aggregator
	logger *zap.Logger
}

// NewDirect returns a synchronous queue.
func NewDirect(agg Aggregator, logger *zap.Logger) *Direct {
	return &Direct{agg: agg, logger: logger}
}

// Enqueue refreshes each skill in order, returning the first error
// after attempting all of them.
func (d *Direct) Enqueue(ctx context.Context, skillIDs ...string) error {
	var firstErr error
	for _, id := range skillIDs {
		if err := d.agg.Refresh(ctx, id); err != nil {
			d.logger.Warn("aggregate refresh failed", zap.String("skill_id", id), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Stream publishes refresh requests onto a Redis Stream.
type Stream struct {
	rdb    *redis.Client
	stream string
	logger *zap.Logger
}

// NewStream connects to Redis and returns a stream-backed queue.
func NewStream(redisURL, stream string, logger *zap.Logger) (*Stream, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Stream{rdb: rdb, stream: stream, logger: logger}, nil
}

// Enqueue appends one entry per skill id.
func (s *Stream) Enqueue(ctx context.Context, skillIDs ...string) error {
	for _, id := range skillIDs {
		_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{"skill_id": id},
		}).Result()
		if err != nil {
			return fmt.Errorf("enqueue refresh %s: %w", id, err)
		}
	}
	return nil
}

// Close shuts down the Redis connection.
func (s *Stream) Close() error {
	return s.rdb.Close()
}

// Worker drains a refresh stream and runs the aggregator.
type Worker struct {
	rdb    *redis.Client
	stream string
	agg    Aggregator
	logger *zap.Logger
}

// NewWorker builds a worker over the same stream a Stream queue writes to.
func NewWorker(s *Stream, agg Aggregator, logger *zap.Logger) *Worker {
	return &Worker{rdb: s.rdb, stream: s.stream, agg: agg, logger: logger}
}

// Run blocks reading the stream until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := w.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{w.stream, lastID},
			Count:   16,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				skillID, ok := msg.Values["skill_id"].(string)
				if !ok || skillID == "" {
					continue
				}
				if err := w.agg.Refresh(ctx, skillID); err != nil {
					w.logger.Warn("stream refresh failed",
						zap.String("skill_id", skillID), zap.Error(err))
				}
			}
		}
	}
}
