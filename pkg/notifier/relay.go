package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/models"
)

// defaultStreamMaxLen caps the relay stream. Trimming is approximate.
const defaultStreamMaxLen = 100000

// RedisRelay copies change events to a Redis stream for consumers outside
// this process.
type RedisRelay struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *zap.Logger
}

// NewRedisRelay creates a relay writing to stream.
func NewRedisRelay(client *redis.Client, stream string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		stream: stream,
		maxLen: defaultStreamMaxLen,
		logger: logger.Named("redis-relay"),
	}
}

// Handle appends event to the stream. It satisfies Handler.
func (r *RedisRelay) Handle(ctx context.Context, event *models.ChangeEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]any{
			"seq":       event.Seq,
			"operation": event.Operation,
			"schema":    event.Schema,
			"table":     event.Table,
			"payload":   payload,
		},
	}).Err()
	if err != nil {
		r.logger.Warn("Failed to relay change event",
			zap.Int64("seq", event.Seq),
			zap.String("stream", r.stream),
			zap.Error(err))
		return fmt.Errorf("failed to relay change event %d: %w", event.Seq, err)
	}
	return nil
}

// Fanout returns a Handler that calls every handler in order. All handlers
// run even if an earlier one fails; their errors are joined.
func Fanout(handlers ...Handler) Handler {
	return func(ctx context.Context, event *models.ChangeEvent) error {
		var errs []error
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h(ctx, event); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
