package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"msgwatch/internal/msgcache"
	"msgwatch/pkg/msgwatch"
)

const (
	// DriverType is the registry key of the Discord driver.
	DriverType = "discord"
	// DriverPlatform is the platform stamped on events published by this driver.
	DriverPlatform = msgwatch.PlatformDiscord

	defaultPublishTimeout = 2 * time.Second
)

// Session is the subset of *discordgo.Session the driver needs.
type Session interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	webhooks       *msgcache.WebhookDirectory
	onAsyncError   func(context.Context, error)
	now            func() time.Time
}

// DriverOption mutates Discord driver configuration.
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

// WithWebhookDirectory makes the driver ignore messages posted through our own webhooks.
func WithWebhookDirectory(webhooks *msgcache.WebhookDirectory) DriverOption {
	return func(cfg *driverConfig) {
		cfg.webhooks = webhooks
	}
}

// WithErrorHandler configures reporting of events that could not be published.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts Discord gateway events into neutral msgwatch events.
type Driver struct {
	cfg     driverConfig
	session Session

	mu       sync.Mutex
	runCtx   context.Context
	sink     msgwatch.EventSink
	removers []func()

	closeOnce sync.Once
	closeErr  error
}

// NewDriver creates a Discord driver over session.
func NewDriver(session Session, options ...DriverOption) (*Driver, error) {
	if session == nil {
		return nil, fmt.Errorf("new discord driver: nil session")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, session: session}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start registers gateway handlers, opens the session, and blocks until ctx is canceled.
func (d *Driver) Start(ctx context.Context, sink msgwatch.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start discord driver: nil sink")
	}

	d.mu.Lock()
	d.runCtx = ctx
	d.sink = sink
	d.removers = append(d.removers,
		d.session.AddHandler(d.onMessageCreate),
		d.session.AddHandler(d.onMessageUpdate),
		d.session.AddHandler(d.onMessageDelete),
		d.session.AddHandler(d.onMessageDeleteBulk),
	)
	d.mu.Unlock()
	defer d.removeHandlers()

	if err := d.session.Open(); err != nil {
		return fmt.Errorf("start discord driver: open session: %w", err)
	}

	<-ctx.Done()

	return nil
}

// Shutdown closes the gateway session.
func (d *Driver) Shutdown(_ context.Context) error {
	d.closeOnce.Do(func() {
		if err := d.session.Close(); err != nil {
			d.closeErr = fmt.Errorf("shutdown discord driver: close session: %w", err)
		}
	})

	return d.closeErr
}

func (d *Driver) removeHandlers() {
	d.mu.Lock()
	removers := d.removers
	d.removers = nil
	d.sink = nil
	d.mu.Unlock()

	for _, remove := range removers {
		if remove != nil {
			remove()
		}
	}
}

func (d *Driver) onMessageCreate(_ *discordgo.Session, event *discordgo.MessageCreate) {
	if event == nil || event.Message == nil || d.isOwnWebhook(event.Message) {
		return
	}

	occurredAt := event.Timestamp.UTC()
	if occurredAt.IsZero() {
		occurredAt = d.cfg.now()
	}
	d.publish(&msgwatch.Event{
		ID:         composeEventID(msgwatch.EventKindMessageCreated, event.ChannelID, event.ID, occurredAt),
		Kind:       msgwatch.EventKindMessageCreated,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		ChannelID:  event.ChannelID,
		Message:    mapMessage(event.Message),
		Metadata:   guildMetadata(event.GuildID),
	})
}

func (d *Driver) onMessageUpdate(_ *discordgo.Session, event *discordgo.MessageUpdate) {
	if event == nil || event.Message == nil || d.isOwnWebhook(event.Message) {
		return
	}

	occurredAt := d.cfg.now()
	if event.EditedTimestamp != nil {
		occurredAt = event.EditedTimestamp.UTC()
	}
	d.publish(&msgwatch.Event{
		ID:         composeEventID(msgwatch.EventKindMessageUpdated, event.ChannelID, event.ID, occurredAt),
		Kind:       msgwatch.EventKindMessageUpdated,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		ChannelID:  event.ChannelID,
		Update:     mapUpdate(event.Message),
		Metadata:   guildMetadata(event.GuildID),
	})
}

func (d *Driver) onMessageDelete(_ *discordgo.Session, event *discordgo.MessageDelete) {
	if event == nil || event.Message == nil {
		return
	}

	d.publishDeletion(event.ChannelID, event.ID, event.GuildID)
}

func (d *Driver) onMessageDeleteBulk(_ *discordgo.Session, event *discordgo.MessageDeleteBulk) {
	if event == nil {
		return
	}

	for _, messageID := range event.Messages {
		d.publishDeletion(event.ChannelID, messageID, event.GuildID)
	}
}

func (d *Driver) publishDeletion(channelID, messageID, guildID string) {
	occurredAt := d.cfg.now()
	d.publish(&msgwatch.Event{
		ID:         composeEventID(msgwatch.EventKindMessageDeleted, channelID, messageID, occurredAt),
		Kind:       msgwatch.EventKindMessageDeleted,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		ChannelID:  channelID,
		Deletion:   &msgwatch.MessageDeletion{MessageID: messageID},
		Metadata:   guildMetadata(guildID),
	})
}

// publish hands one event to the sink with bounded latency. Gateway handlers have no
// error path, so failures go to the async error handler.
func (d *Driver) publish(event *msgwatch.Event) {
	d.mu.Lock()
	ctx, sink := d.runCtx, d.sink
	d.mu.Unlock()
	if sink == nil {
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish discord %s for message %s: %w", event.Kind, event.TargetMessageID(), err))
	}
}

func (d *Driver) isOwnWebhook(message *discordgo.Message) bool {
	if d.cfg.webhooks == nil || message.WebhookID == "" {
		return false
	}
	identity, found := d.cfg.webhooks.Lookup(message.ChannelID)

	return found && identity.ID == message.WebhookID
}

func guildMetadata(guildID string) map[string]string {
	if guildID == "" {
		return nil
	}

	return map[string]string{"guild_id": guildID}
}

var _ msgwatch.Driver = (*Driver)(nil)
