package invalidate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"customerportal/api/internal/querycache"
	"customerportal/api/internal/realtime"
)

const invalidateTimeout = 5 * time.Second

type Deps struct {
	Hub    *realtime.Hub
	Cache  querycache.Cache
	Logger *zap.Logger
}

// Invalidator keeps one subscription on its policy's table and invalidates
// the policy's targets on every change. With a scope ID it only sees rows of
// that scope.
type Invalidator struct {
	policy Policy
	cache  querycache.Cache
	logger *zap.Logger
	sub    *realtime.Subscriber

	mu      sync.Mutex
	scopeID string
	enabled bool
}

func New(policy Policy, deps Deps, scopeID string, enabled bool) (*Invalidator, error) {
	if deps.Hub == nil || deps.Cache == nil {
		return nil, errors.New("invalidator requires a hub and a cache")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	inv := &Invalidator{
		policy:  policy,
		cache:   deps.Cache,
		logger:  logger.With(zap.String("invalidator", policy.Name)),
		scopeID: scopeID,
		enabled: enabled,
	}
	sub, err := realtime.NewSubscriber(deps.Hub, inv.optionsLocked())
	inv.sub = sub
	return inv, err
}

func (i *Invalidator) optionsLocked() realtime.Options {
	var filter *realtime.Filter
	if i.scopeID != "" {
		filter = realtime.Eq(i.policy.ScopeColumn, i.scopeID)
	}
	scopeID := i.scopeID
	handle := func(event realtime.ChangeEvent) { i.handle(scopeID, event) }
	return realtime.Options{
		Table:    i.policy.Table,
		Filter:   filter,
		Enabled:  i.enabled,
		Handlers: realtime.Handlers{OnInsert: handle, OnUpdate: handle, OnDelete: handle},
	}
}

// Update changes the scope or enabled state. The subscription is only
// replaced when one of them actually changes.
func (i *Invalidator) Update(scopeID string, enabled bool) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.scopeID = scopeID
	i.enabled = enabled
	return i.sub.Update(i.optionsLocked())
}

func (i *Invalidator) SetEnabled(enabled bool) error {
	i.mu.Lock()
	scopeID := i.scopeID
	i.mu.Unlock()
	return i.Update(scopeID, enabled)
}

func (i *Invalidator) Active() bool {
	return i.sub.Active()
}

func (i *Invalidator) Policy() Policy {
	return i.policy
}

func (i *Invalidator) Close() {
	i.sub.Close()
}

func (i *Invalidator) handle(scopeID string, event realtime.ChangeEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), invalidateTimeout)
	defer cancel()

	for _, pattern := range i.policy.Targets(scopeID, event) {
		if err := i.cache.Invalidate(ctx, pattern); err != nil {
			i.logger.Warn("cache invalidation failed",
				zap.String("table", event.Table),
				zap.String("pattern", pattern.String()),
				zap.Error(err))
		}
	}
}
