package messagecache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"msgwatch/internal/msgcache"
	"msgwatch/pkg/msgwatch"
)

const subscriptionName = "message-cache-writer"

// Option mutates message cache module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithCapacity sets how many messages are kept per channel.
func WithCapacity(capacity int) Option {
	return func(module *Module) {
		if capacity > 0 {
			module.capacity = capacity
		}
	}
}

// WithNotifier sets the revision notifier directly, bypassing service lookup.
func WithNotifier(notifier msgwatch.RevisionNotifier) Option {
	return func(module *Module) {
		if notifier != nil {
			module.notifier = notifier
		}
	}
}

// Module applies gateway message events to a msgcache.Cache.
type Module struct {
	logger   *slog.Logger
	capacity int
	notifier msgwatch.RevisionNotifier
	cache    *msgcache.Cache
}

// New creates a message cache module.
func New(options ...Option) *Module {
	module := &Module{
		logger:   slog.Default(),
		capacity: msgcache.DefaultCapacity,
	}
	for _, option := range options {
		option(module)
	}
	module.cache = msgcache.New(
		msgcache.WithCapacity(module.capacity),
		msgcache.WithBufferCreatedHook(module.logBufferCreated),
	)

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "message-cache"
}

// Cache exposes the underlying cache.
func (m *Module) Cache() *msgcache.Cache {
	return m.cache
}

// OnRegister resolves optional services, publishes the cache read side, and subscribes
// to message events. The bus keeps one channel's events on one worker, so the kernel's
// default worker count applies without reordering a channel's edits and deletes.
func (m *Module) OnRegister(ctx context.Context, runtime msgwatch.ModuleRuntime) error {
	logger, err := msgwatch.ResolveAs[*slog.Logger](runtime.Services(), msgwatch.ServiceLogger)
	switch {
	case err == nil:
		m.logger = logger
	case errors.Is(err, msgwatch.ErrServiceNotFound):
	default:
		return fmt.Errorf("message cache resolve logger: %w", err)
	}

	if m.notifier == nil {
		notifier, err := msgwatch.ResolveAs[msgwatch.RevisionNotifier](
			runtime.Services(),
			msgwatch.ServiceRevisionNotifier,
		)
		switch {
		case err == nil:
			m.notifier = notifier
		case errors.Is(err, msgwatch.ErrServiceNotFound):
		default:
			return fmt.Errorf("message cache resolve revision notifier: %w", err)
		}
	}

	if err := runtime.Services().Register(msgwatch.ServiceMessageCache, m.cache); err != nil {
		return fmt.Errorf("message cache register service %s: %w", msgwatch.ServiceMessageCache, err)
	}

	if _, err := runtime.Subscribe(ctx, msgwatch.SubscriptionSpec{
		Name: subscriptionName,
		Interest: msgwatch.InterestSet{
			Kinds: []msgwatch.EventKind{
				msgwatch.EventKindMessageCreated,
				msgwatch.EventKindMessageUpdated,
				msgwatch.EventKindMessageDeleted,
			},
		},
		Backpressure: msgwatch.BackpressureBlock,
	}, m.handleEvent); err != nil {
		return fmt.Errorf("message cache subscribe: %w", err)
	}

	return nil
}

// OnStart logs the effective configuration.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx,
		"message cache module started",
		"module", m.Name(),
		"capacity", m.cache.Capacity(),
		"revision_notifier", m.notifier != nil,
	)

	return nil
}

// OnShutdown logs final cache occupancy. Cached state is not persisted.
func (m *Module) OnShutdown(ctx context.Context) error {
	stats := m.cache.Stats()
	m.logger.InfoContext(ctx,
		"message cache module shutdown",
		"module", m.Name(),
		"channels", stats.Channels,
		"entries", stats.Entries,
	)

	return nil
}

func (m *Module) handleEvent(ctx context.Context, event *msgwatch.Event) error {
	switch event.Kind {
	case msgwatch.EventKindMessageCreated:
		m.cache.Insert(event.ChannelID, *event.Message)
	case msgwatch.EventKindMessageUpdated:
		before, after, found := m.cache.Revise(event.ChannelID, *event.Update)
		if !found || msgwatch.SameContent(before.Content, after.Content) {
			return nil
		}
		return m.notify(ctx, event, msgwatch.RevisionEdited, before, &after)
	case msgwatch.EventKindMessageDeleted:
		removed, found := m.cache.Remove(event.ChannelID, event.Deletion.MessageID)
		if !found {
			return nil
		}
		return m.notify(ctx, event, msgwatch.RevisionDeleted, removed, nil)
	}

	return nil
}

func (m *Module) notify(
	ctx context.Context,
	event *msgwatch.Event,
	kind msgwatch.RevisionKind,
	before msgwatch.CachedMessage,
	after *msgwatch.CachedMessage,
) error {
	if m.notifier == nil {
		return nil
	}

	revision := msgwatch.Revision{
		Kind:       kind,
		Platform:   event.Platform,
		ChannelID:  event.ChannelID,
		MessageID:  before.ID,
		OccurredAt: event.OccurredAt,
		Before:     before,
		After:      after,
	}
	if err := m.notifier.NotifyRevision(ctx, revision); err != nil {
		return fmt.Errorf("notify %s revision of message %s: %w", kind, before.ID, err)
	}

	return nil
}

func (m *Module) logBufferCreated(channelID string) {
	m.logger.Debug("message cache buffer created", "channel_id", channelID)
}

var _ msgwatch.Module = (*Module)(nil)
