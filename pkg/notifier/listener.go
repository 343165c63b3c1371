package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sync/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-sync/pkg/database"
	"github.com/ekaya-inc/ekaya-sync/pkg/models"
	"github.com/ekaya-inc/ekaya-sync/pkg/repositories"
	"github.com/ekaya-inc/ekaya-sync/pkg/retry"
)

// Handler processes one change event. Handlers must be idempotent: an event
// can be delivered more than once.
type Handler func(ctx context.Context, event *models.ChangeEvent) error

// ConnectFunc opens the dedicated connection a Listener holds.
type ConnectFunc func(ctx context.Context) (*pgx.Conn, error)

// DedicatedConnector opens connections with the pool's settings but outside
// the pool, so LISTEN state never leaks into pooled connections.
func DedicatedConnector(db *database.DB) ConnectFunc {
	return func(ctx context.Context) (*pgx.Conn, error) {
		return pgx.ConnectConfig(ctx, db.Config().ConnConfig.Copy())
	}
}

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Channel string
	// Name identifies the durable cursor in engine_listener_cursors.
	Name string
	// Lookback is how many sequence numbers before the cursor are re-read on
	// reconnect.
	Lookback int64
	// ReconnectDelay is the initial delay between connection attempts.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts bounds consecutive connection failures; 0 is unbounded.
	MaxReconnectAttempts int
	// ReplayBatchSize is the page size used when reading the change log.
	ReplayBatchSize int
	// HandlerRetry controls retries of failing handlers.
	HandlerRetry *retry.Config
	// OnHandlerFailure is called once the handler has exhausted its retries
	// for an event, before the cursor moves past it.
	OnHandlerFailure func(ctx context.Context, event *models.ChangeEvent, err error)
}

func (c ListenerConfig) withDefaults() ListenerConfig {
	if c.Channel == "" {
		c.Channel = DefaultChannel
	}
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Lookback < 0 {
		c.Lookback = 0
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.ReplayBatchSize <= 0 {
		c.ReplayBatchSize = 500
	}
	if c.HandlerRetry == nil {
		c.HandlerRetry = retry.DefaultConfig()
	}
	return c
}

// Listener consumes change notifications on a dedicated connection and
// dispatches them to a Handler in delivery order.
type Listener struct {
	connect   ConnectFunc
	changeLog repositories.ChangeLogRepository
	handler   Handler
	cfg       ListenerConfig
	logger    *zap.Logger

	seen *seqSet
}

// NewListener creates a Listener. Run starts it.
func NewListener(connect ConnectFunc, changeLog repositories.ChangeLogRepository, handler Handler, cfg ListenerConfig, logger *zap.Logger) *Listener {
	cfg = cfg.withDefaults()
	return &Listener{
		connect:   connect,
		changeLog: changeLog,
		handler:   handler,
		cfg:       cfg,
		logger:    logger.Named("listener").With(zap.String("listener", cfg.Name)),
		seen:      newSeqSet(int(cfg.Lookback)*4 + 1024),
	}
}

// Run listens until ctx is cancelled. It reconnects with exponential backoff
// and returns ErrTransportUnavailable once MaxReconnectAttempts consecutive
// attempts have failed. Returns nil on cancellation.
func (l *Listener) Run(ctx context.Context) error {
	backoff := retry.NewBackoff(&retry.Config{
		InitialDelay: l.cfg.ReconnectDelay,
		MaxDelay:     30 * l.cfg.ReconnectDelay,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	})

	failures := 0
	for {
		connected, err := l.session(ctx)
		if ctx.Err() != nil {
			l.logger.Info("Listener stopped")
			return nil
		}
		if connected {
			failures = 0
			backoff.Reset()
		}
		failures++

		l.logger.Warn("Change listener disconnected",
			zap.Int("consecutive_failures", failures),
			zap.Error(err))

		if l.cfg.MaxReconnectAttempts > 0 && failures >= l.cfg.MaxReconnectAttempts {
			return fmt.Errorf("%w: %d consecutive failures: %v", apperrors.ErrTransportUnavailable, failures, err)
		}
		if err := backoff.Wait(ctx); err != nil {
			l.logger.Info("Listener stopped")
			return nil
		}
	}
}

// session runs one connection lifetime. connected reports whether LISTEN
// succeeded, which resets the failure count.
func (l *Listener) session(ctx context.Context) (connected bool, err error) {
	conn, err := l.connect(ctx)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.WithoutCancel(ctx))

	// LISTEN before replaying so nothing committed in between is missed.
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.cfg.Channel}.Sanitize()); err != nil {
		return false, fmt.Errorf("listen: %w", err)
	}
	l.logger.Info("Listening for data changes", zap.String("channel", l.cfg.Channel))

	if err := l.Reconcile(ctx); err != nil {
		return true, err
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, fmt.Errorf("wait for notification: %w", err)
		}

		if err := l.handleNotification(ctx, n.Payload); err != nil {
			return true, err
		}
	}
}

// handleNotification decodes one payload and delivers it. Malformed payloads
// are discarded. A truncated event whose log entry cannot be read ends the
// session; the reconnect replays it from the change log.
func (l *Listener) handleNotification(ctx context.Context, payload string) error {
	event, err := DecodePayload([]byte(payload))
	if err != nil {
		l.logger.Error("Discarding malformed change notification",
			zap.String("payload", truncate(payload, 200)),
			zap.Error(err))
		return nil
	}
	if event.Truncated {
		full, err := l.changeLog.Get(ctx, event.Seq)
		if err != nil {
			return fmt.Errorf("load truncated change event %d: %w", event.Seq, err)
		}
		event = full
	}
	return l.deliver(ctx, event)
}

// Reconcile replays change-log entries from the durable cursor minus the
// lookback window. Entries already handled by this process are skipped.
func (l *Listener) Reconcile(ctx context.Context) error {
	cursor, err := l.changeLog.GetCursor(ctx, l.cfg.Name)
	if err != nil {
		return err
	}

	after := max(cursor-l.cfg.Lookback, 0)
	replayed := 0
	for {
		events, err := l.changeLog.ListAfter(ctx, after, l.cfg.ReplayBatchSize)
		if err != nil {
			return err
		}
		for _, e := range events {
			if err := l.deliver(ctx, e); err != nil {
				return err
			}
			after = e.Seq
			replayed++
		}
		if len(events) < l.cfg.ReplayBatchSize {
			break
		}
	}

	if replayed > 0 {
		l.logger.Info("Replayed change log",
			zap.Int64("from_seq", max(cursor-l.cfg.Lookback, 0)),
			zap.Int("events", replayed))
	}
	return nil
}

// deliver hands one event to the handler and advances the cursor. Handler
// failures are retried, then logged and reported to OnHandlerFailure; they
// never stop the listener. Only cursor persistence errors are returned.
func (l *Listener) deliver(ctx context.Context, event *models.ChangeEvent) error {
	if l.seen.Has(event.Seq) {
		return nil
	}

	err := retry.DoIfRetryable(ctx, l.cfg.HandlerRetry, func() error {
		return l.handler(ctx, event)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.logger.Error("Change handler failed",
			zap.Int64("seq", event.Seq),
			zap.String("operation", event.Operation),
			zap.String("schema", event.Schema),
			zap.String("table", event.Table),
			zap.Error(err))
		if l.cfg.OnHandlerFailure != nil {
			l.cfg.OnHandlerFailure(ctx, event, err)
		}
	}

	l.seen.Add(event.Seq)
	if err := l.changeLog.SaveCursor(ctx, l.cfg.Name, event.Seq); err != nil {
		return err
	}
	return nil
}

// DecodePayload decodes a notification payload. Row values keep numbers as
// json.Number.
func DecodePayload(payload []byte) (*models.ChangeEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var event models.ChangeEvent
	if err := dec.Decode(&event); err != nil {
		return nil, fmt.Errorf("failed to decode change payload: %w", err)
	}
	if event.Seq <= 0 {
		return nil, errors.New("change payload has no sequence number")
	}
	switch event.Operation {
	case models.ChangeCreate, models.ChangeUpdate, models.ChangeDelete:
	default:
		return nil, fmt.Errorf("unknown change operation %q", event.Operation)
	}
	return &event, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// seqSet remembers the most recent sequence numbers handled, evicting the
// oldest once full.
type seqSet struct {
	max   int
	items map[int64]struct{}
	order []int64
}

func newSeqSet(maxSize int) *seqSet {
	return &seqSet{max: maxSize, items: make(map[int64]struct{}, maxSize)}
}

func (s *seqSet) Has(seq int64) bool {
	_, ok := s.items[seq]
	return ok
}

func (s *seqSet) Add(seq int64) {
	if s.Has(seq) {
		return
	}
	if len(s.order) >= s.max {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
	s.items[seq] = struct{}{}
	s.order = append(s.order, seq)
}
