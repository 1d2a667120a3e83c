package realtime

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Hub keeps one upstream channel per table and fans its events out to every
// subscription on that table. Events of one table are dispatched serially in
// feed order.
type Hub struct {
	feed   Feed
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*tableStream
	nextID uint64
}

func NewHub(feed Feed, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		feed:   feed,
		logger: logger.Named("realtime"),
		tables: make(map[string]*tableStream),
	}
}

type tableStream struct {
	table   string
	channel Channel
	stopped chan struct{}

	mu   sync.Mutex
	subs map[uint64]*subscription
}

type subscription struct {
	id       uint64
	table    string
	filter   *Filter
	handlers *atomic.Pointer[Handlers]

	// mu is held for the whole of a delivery so teardown waits for it.
	mu     sync.Mutex
	active bool
}

func (h *Hub) subscribe(ctx context.Context, table string, filter *Filter, handlers *atomic.Pointer[Handlers]) (*subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.tables[table]
	if !ok {
		channel, err := h.feed.Open(ctx, table, "")
		if err != nil {
			return nil, fmt.Errorf("open %s feed: %w", table, err)
		}
		stream = &tableStream{
			table:   table,
			channel: channel,
			stopped: make(chan struct{}),
			subs:    make(map[uint64]*subscription),
		}
		h.tables[table] = stream
		go h.dispatch(stream)
		h.logger.Debug("table feed opened", zap.String("table", table))
	}

	h.nextID++
	sub := &subscription{
		id:       h.nextID,
		table:    table,
		filter:   filter,
		handlers: handlers,
		active:   true,
	}
	stream.mu.Lock()
	stream.subs[sub.id] = sub
	stream.mu.Unlock()
	return sub, nil
}

// unsubscribe deactivates sub, waiting for an in-flight delivery to it, and
// closes the table's upstream channel when sub was the last subscription.
func (h *Hub) unsubscribe(sub *subscription) {
	sub.mu.Lock()
	sub.active = false
	sub.mu.Unlock()

	h.mu.Lock()
	stream, ok := h.tables[sub.table]
	if !ok {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	delete(stream.subs, sub.id)
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.tables, sub.table)
	}
	h.mu.Unlock()

	if empty {
		if err := stream.channel.Close(); err != nil {
			h.logger.Warn("close table feed", zap.String("table", stream.table), zap.Error(err))
		}
		h.logger.Debug("table feed closed", zap.String("table", stream.table))
	}
}

func (h *Hub) dispatch(stream *tableStream) {
	defer close(stream.stopped)
	for event := range stream.channel.Events() {
		stream.mu.Lock()
		targets := make([]*subscription, 0, len(stream.subs))
		for _, sub := range stream.subs {
			targets = append(targets, sub)
		}
		stream.mu.Unlock()

		for _, sub := range targets {
			if sub.filter.Matches(event) {
				h.deliver(sub, event)
			}
		}
	}

	// The channel ended without a Close from us: forget the stream so the
	// next subscription reopens it.
	h.mu.Lock()
	if h.tables[stream.table] == stream {
		delete(h.tables, stream.table)
		h.logger.Error("table feed ended unexpectedly", zap.String("table", stream.table))
	}
	h.mu.Unlock()
}

func (h *Hub) deliver(sub *subscription, event ChangeEvent) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.active {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("change handler panicked",
				zap.String("table", event.Table),
				zap.String("operation", string(event.Operation)),
				zap.Any("panic", r))
		}
	}()

	handlers := sub.handlers.Load()
	if handlers == nil {
		return
	}
	var fn func(ChangeEvent)
	switch event.Operation {
	case OpInsert:
		fn = handlers.OnInsert
	case OpUpdate:
		fn = handlers.OnUpdate
	case OpDelete:
		fn = handlers.OnDelete
	}
	if fn != nil {
		fn(event)
	}
}

// Subscriptions reports the number of live subscriptions on table.
func (h *Hub) Subscriptions(table string) int {
	h.mu.Lock()
	stream, ok := h.tables[table]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	stream.mu.Lock()
	defer stream.mu.Unlock()
	return len(stream.subs)
}

// Tables lists the tables with an open upstream channel.
func (h *Hub) Tables() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.tables))
	for table := range h.tables {
		out = append(out, table)
	}
	return out
}

// Close tears down every table stream. Subscribers left open stay inert.
func (h *Hub) Close() {
	h.mu.Lock()
	streams := make([]*tableStream, 0, len(h.tables))
	for table, stream := range h.tables {
		streams = append(streams, stream)
		delete(h.tables, table)
	}
	h.mu.Unlock()

	for _, stream := range streams {
		stream.mu.Lock()
		for _, sub := range stream.subs {
			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		}
		stream.mu.Unlock()
		_ = stream.channel.Close()
		<-stream.stopped
	}
}
