package realtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// notificationConn is the part of *pgx.Conn the feed uses.
type notificationConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// PGFeed turns Postgres NOTIFY payloads emitted by the row triggers into
// change events. Run owns the LISTEN connection; Open may be called before
// or while Run is active.
type PGFeed struct {
	channel string
	retry   time.Duration
	logger  *zap.Logger
	connect func(ctx context.Context) (notificationConn, error)
	broker  *MemoryFeed
}

func NewPGFeed(connString, channel string, retry time.Duration, logger *zap.Logger) *PGFeed {
	f := newPGFeed(channel, retry, logger)
	f.connect = func(ctx context.Context) (notificationConn, error) {
		return pgx.Connect(ctx, connString)
	}
	return f
}

func newPGFeed(channel string, retry time.Duration, logger *zap.Logger) *PGFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retry <= 0 {
		retry = 5 * time.Second
	}
	return &PGFeed{
		channel: channel,
		retry:   retry,
		logger:  logger.Named("pgfeed"),
		broker:  NewMemoryFeed(),
	}
}

func (f *PGFeed) Open(ctx context.Context, table, filter string) (Channel, error) {
	return f.broker.Open(ctx, table, filter)
}

// Run listens until ctx is cancelled, reconnecting after every failure.
func (f *PGFeed) Run(ctx context.Context) error {
	defer f.broker.Close()
	for {
		err := f.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error("change feed connection lost",
			zap.String("channel", f.channel),
			zap.Duration("retry_in", f.retry),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.retry):
		}
	}
}

func (f *PGFeed) listen(ctx context.Context) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{f.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", f.channel, err)
	}
	f.logger.Info("listening for changes", zap.String("channel", f.channel))

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		event, err := DecodeNotification(notification.Payload)
		if err != nil {
			f.logger.Warn("dropping undecodable notification", zap.Error(err))
			continue
		}
		if err := f.broker.Publish(ctx, event); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			f.logger.Warn("dropping change event", zap.String("table", event.Table), zap.Error(err))
		}
	}
}

// DecodeNotification parses the trigger payload
// {"table":..., "type":..., "record":{...}, "old_record":{...}}.
func DecodeNotification(payload string) (ChangeEvent, error) {
	if !gjson.Valid(payload) {
		return ChangeEvent{}, fmt.Errorf("%w: payload is not JSON", ErrInvalidEvent)
	}
	parsed := gjson.Parse(payload)
	op, err := ParseOperation(parsed.Get("type").String())
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	event := ChangeEvent{
		Table:     parsed.Get("table").String(),
		Operation: op,
		After:     recordOf(parsed.Get("record")),
		Before:    recordOf(parsed.Get("old_record")),
	}
	if err := event.Validate(); err != nil {
		return ChangeEvent{}, err
	}
	return event, nil
}

func recordOf(result gjson.Result) Record {
	if !result.IsObject() {
		return nil
	}
	values, ok := result.Value().(map[string]any)
	if !ok {
		return nil
	}
	return Record(values)
}
