package realtime

import (
	"context"
	"errors"
	"sync"
)

// Feed is the backend change-feed contract. Open registers interest in one
// table, optionally narrowed by a wire-form filter.
type Feed interface {
	Open(ctx context.Context, table, filter string) (Channel, error)
}

// Channel delivers events for one Open call until Close. Events is closed
// after Close returns.
type Channel interface {
	Events() <-chan ChangeEvent
	Close() error
}

// Publisher accepts change events for delivery to a feed.
type Publisher interface {
	Publish(ctx context.Context, event ChangeEvent) error
}

var ErrFeedClosed = errors.New("change feed closed")

const channelBuffer = 64

// MemoryFeed is an in-process broker. Publish blocks until every matching
// channel has accepted the event or closed.
type MemoryFeed struct {
	mu       sync.RWMutex
	channels map[*memoryChannel]struct{}
	closed   bool
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{channels: make(map[*memoryChannel]struct{})}
}

func (f *MemoryFeed) Open(_ context.Context, table, filter string) (Channel, error) {
	parsed, err := ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	ch := &memoryChannel{
		feed:   f,
		table:  table,
		filter: parsed,
		events: make(chan ChangeEvent, channelBuffer),
		done:   make(chan struct{}),
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFeedClosed
	}
	f.channels[ch] = struct{}{}
	return ch, nil
}

func (f *MemoryFeed) Publish(ctx context.Context, event ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrFeedClosed
	}
	for ch := range f.channels {
		if ch.table != event.Table || !ch.filter.Matches(event) {
			continue
		}
		select {
		case ch.events <- event:
		case <-ch.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes every open channel and rejects further use.
func (f *MemoryFeed) Close() error {
	f.mu.RLock()
	open := make([]*memoryChannel, 0, len(f.channels))
	for ch := range f.channels {
		open = append(open, ch)
	}
	f.mu.RUnlock()

	for _, ch := range open {
		_ = ch.Close()
	}

	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Len reports the number of open channels.
func (f *MemoryFeed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.channels)
}

type memoryChannel struct {
	feed   *MemoryFeed
	table  string
	filter *Filter
	events chan ChangeEvent
	done   chan struct{}
	once   sync.Once
}

func (c *memoryChannel) Events() <-chan ChangeEvent {
	return c.events
}

func (c *memoryChannel) Close() error {
	c.once.Do(func() {
		// Release publishers blocked on this channel before taking the
		// write lock they hold for reading.
		close(c.done)
		c.feed.mu.Lock()
		delete(c.feed.channels, c)
		close(c.events)
		c.feed.mu.Unlock()
	})
	return nil
}
