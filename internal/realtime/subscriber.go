package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Handlers receive the full event for each operation. Nil handlers are
// skipped. A handler must not close the Subscriber that invoked it.
type Handlers struct {
	OnInsert func(ChangeEvent)
	OnUpdate func(ChangeEvent)
	OnDelete func(ChangeEvent)
}

type Options struct {
	Table    string
	Filter   *Filter
	Handlers Handlers
	Enabled  bool
}

var ErrSubscriberClosed = errors.New("subscriber closed")

// Subscriber owns at most one subscription and keeps it in step with its
// options. Changing table, filter value or enabled replaces the
// subscription; changing handlers does not.
type Subscriber struct {
	hub      *Hub
	handlers atomic.Pointer[Handlers]

	mu     sync.Mutex
	opts   Options
	sub    *subscription
	closed bool
}

// NewSubscriber subscribes immediately when opts.Enabled. The returned
// Subscriber is usable even when the error is non-nil; a later Update
// retries the subscription.
func NewSubscriber(hub *Hub, opts Options) (*Subscriber, error) {
	s := &Subscriber{hub: hub, opts: opts}
	handlers := opts.Handlers
	s.handlers.Store(&handlers)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s, s.syncLocked(true)
}

func (s *Subscriber) Update(opts Options) error {
	handlers := opts.Handlers
	s.handlers.Store(&handlers)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	changed := opts.Table != s.opts.Table ||
		!opts.Filter.Equal(s.opts.Filter) ||
		opts.Enabled != s.opts.Enabled
	s.opts = opts
	return s.syncLocked(changed)
}

// syncLocked replaces the subscription when the identity changed, and
// creates one if an earlier attempt failed.
func (s *Subscriber) syncLocked(changed bool) error {
	if changed && s.sub != nil {
		s.hub.unsubscribe(s.sub)
		s.sub = nil
	}
	if !s.opts.Enabled || s.sub != nil {
		return nil
	}
	var filter *Filter
	if s.opts.Filter != nil {
		copied := *s.opts.Filter
		filter = &copied
	}
	sub, err := s.hub.subscribe(context.Background(), s.opts.Table, filter, &s.handlers)
	if err != nil {
		s.hub.logger.Error("subscribe failed", zap.String("table", s.opts.Table), zap.Error(err))
		return err
	}
	s.sub = sub
	return nil
}

// Active reports whether the Subscriber currently holds a subscription.
func (s *Subscriber) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil
}

// Close tears the subscription down. No handler starts after Close returns.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.sub != nil {
		s.hub.unsubscribe(s.sub)
		s.sub = nil
	}
}
