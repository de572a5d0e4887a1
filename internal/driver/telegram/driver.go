package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"msgwatch/pkg/msgwatch"
)

const defaultPublishTimeout = 2 * time.Second

// UpdateHandler consumes mapped Telegram updates.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource streams Telegram updates into the driver.
type UpdateSource interface {
	// Consume runs the update loop until context cancellation or fatal error.
	Consume(ctx context.Context, handler UpdateHandler) error
}

// driverConfig contains runtime controls for publish timeout, chat filtering, and error reporting.
type driverConfig struct {
	name           string
	publishTimeout time.Duration
	// watchedChats limits caching to these peer-qualified chat ids; empty watches every chat.
	watchedChats map[string]struct{}
	onAsyncError func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout configures sink publish timeout per event.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithWatchedChats restricts the driver to the given peer-qualified chat ids, such as
// "channel:1234" or "chat:42". Updates from other chats are dropped before decoding.
// Calling it with no ids watches every chat.
func WithWatchedChats(chatIDs ...string) DriverOption {
	return func(cfg *driverConfig) {
		cfg.watchedChats = nil
		for _, chatID := range chatIDs {
			chatID = strings.TrimSpace(chatID)
			if chatID == "" {
				continue
			}
			if cfg.watchedChats == nil {
				cfg.watchedChats = make(map[string]struct{}, len(chatIDs))
			}
			cfg.watchedChats[chatID] = struct{}{}
		}
	}
}

// WithErrorHandler configures reporting of updates that could not be decoded or published.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts Telegram updates from watched chats into neutral msgwatch events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

// NewDriver creates a Telegram driver.
func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:     cfg,
		source:  source,
		decoder: decoder,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start consumes Telegram updates and publishes neutral events.
func (d *Driver) Start(ctx context.Context, sink msgwatch.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	handler := func(handlerCtx context.Context, update Update) error {
		return d.handleUpdate(handlerCtx, update, sink)
	}

	if err := d.source.Consume(ctx, handler); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		return fmt.Errorf("start telegram driver: consume updates: %w", err)
	}

	return nil
}

// handleUpdate decodes one update and publishes it with bounded latency. Decode and
// publish failures are reported and skipped; only cancellation of ctx stops the driver.
func (d *Driver) handleUpdate(ctx context.Context, update Update, sink msgwatch.EventSink) error {
	if !d.watches(update.ChatID) {
		return nil
	}

	event, err := d.decodeSafely(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return nil
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("handle update %s publish: %w", update.Type, ctxErr)
		}
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish telegram %s for message %s: %w",
			event.Kind, event.TargetMessageID(), err))
	}

	return nil
}

// watches reports whether updates from chatID should reach the cache.
func (d *Driver) watches(chatID string) bool {
	if len(d.cfg.watchedChats) == 0 {
		return true
	}
	_, ok := d.cfg.watchedChats[chatID]

	return ok
}

// decodeSafely protects decoder panics at the adapter boundary.
func (d *Driver) decodeSafely(ctx context.Context, update Update) (decoded *msgwatch.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("decode telegram update %s panic: %v", update.Type, recovered)
		}
	}()

	decoded, err = d.decoder.Decode(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("decode telegram update %s: %w", update.Type, err)
	}

	return decoded, nil
}

// Shutdown releases resources not controlled by Start context. The gotd session
// is bound to the Start context, so there is nothing left to release here.
func (d *Driver) Shutdown(_ context.Context) error {
	return nil
}

var _ msgwatch.Driver = (*Driver)(nil)
