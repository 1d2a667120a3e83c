package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisChannelPrefix = "realtime:"

// wireEvent is the JSON shape shared with the Postgres trigger payload.
type wireEvent struct {
	Table     string    `json:"table"`
	Type      Operation `json:"type"`
	Record    Record    `json:"record,omitempty"`
	OldRecord Record    `json:"old_record,omitempty"`
}

func EncodeEvent(event ChangeEvent) ([]byte, error) {
	return json.Marshal(wireEvent{
		Table:     event.Table,
		Type:      event.Operation,
		Record:    event.After,
		OldRecord: event.Before,
	})
}

// RedisPublisher publishes events on realtime:<table>.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, event ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	payload, err := EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event.Table, err)
	}
	if err := p.client.Publish(ctx, redisChannelPrefix+event.Table, payload).Err(); err != nil {
		return fmt.Errorf("publish %s event: %w", event.Table, err)
	}
	return nil
}

// RedisFeed consumes events published by a Relay. go-redis resubscribes
// on reconnect; events sent while disconnected are lost.
type RedisFeed struct {
	client *redis.Client
	logger *zap.Logger
	broker *MemoryFeed
}

func NewRedisFeed(client *redis.Client, logger *zap.Logger) *RedisFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: client, logger: logger.Named("redisfeed"), broker: NewMemoryFeed()}
}

func (f *RedisFeed) Open(ctx context.Context, table, filter string) (Channel, error) {
	return f.broker.Open(ctx, table, filter)
}

// Run subscribes to every realtime channel until ctx is cancelled. ready,
// when non-nil, is closed once the subscription is confirmed.
func (f *RedisFeed) Run(ctx context.Context, ready chan<- struct{}) error {
	defer f.broker.Close()

	pubsub := f.client.PSubscribe(ctx, redisChannelPrefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe realtime channels: %w", err)
	}
	if ready != nil {
		close(ready)
	}
	f.logger.Info("listening for changes", zap.String("pattern", redisChannelPrefix+"*"))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return errors.New("redis subscription closed")
			}
			event, err := DecodeNotification(msg.Payload)
			if err != nil {
				f.logger.Warn("dropping undecodable message", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := f.broker.Publish(ctx, event); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				f.logger.Warn("dropping change event", zap.String("table", event.Table), zap.Error(err))
			}
		}
	}
}

// Relay forwards every event on tables from feed into pub until ctx is
// cancelled. Publish failures are logged and the event dropped.
func Relay(ctx context.Context, feed Feed, tables []string, pub Publisher, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	channels := make([]Channel, 0, len(tables))
	defer func() {
		for _, ch := range channels {
			_ = ch.Close()
		}
	}()
	for _, table := range tables {
		ch, err := feed.Open(ctx, table, "")
		if err != nil {
			return fmt.Errorf("open %s feed: %w", table, err)
		}
		channels = append(channels, ch)
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-ch.Events():
					if !ok {
						return
					}
					if err := pub.Publish(ctx, event); err != nil && ctx.Err() == nil {
						logger.Warn("relay publish failed", zap.String("table", event.Table), zap.Error(err))
					}
				}
			}
		}(ch)
	}
	logger.Info("relaying change feed", zap.Strings("tables", tables))

	<-ctx.Done()
	for _, ch := range channels {
		_ = ch.Close()
	}
	wg.Wait()
	return ctx.Err()
}
