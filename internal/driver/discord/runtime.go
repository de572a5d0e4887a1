package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"msgwatch/internal/msgcache"
)

// Config configures one Discord bot runtime.
type Config struct {
	Token string
	// RevisionChannelID enables the revision notifier when set.
	RevisionChannelID string
	WebhookName       string
	PublishTimeout    time.Duration
}

// Validate checks that the bot token is present.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("discord token is required")
	}

	return nil
}

// Runtime bundles a Discord driver with its optional revision notifier.
type Runtime struct {
	Driver *Driver
	// Notifier is nil when no revision channel is configured.
	Notifier *Notifier
}

// BuildRuntime builds a Discord driver and notifier sharing one gateway session.
func BuildRuntime(name string, logger *slog.Logger, cfg Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("build discord runtime: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + strings.TrimSpace(cfg.Token))
	if err != nil {
		return nil, fmt.Errorf("build discord runtime: new session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	// Handlers must run in gateway order so updates never overtake their creates.
	session.SyncEvents = true

	return assembleRuntime(name, logger, session, session, cfg)
}

func assembleRuntime(
	name string,
	logger *slog.Logger,
	session Session,
	webhookSession WebhookSession,
	cfg Config,
) (*Runtime, error) {
	webhooks := msgcache.NewWebhookDirectory()

	driver, err := NewDriver(
		session,
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithWebhookDirectory(webhooks),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "discord driver async error", "driver", name, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("build discord runtime: %w", err)
	}

	runtime := &Runtime{Driver: driver}
	if strings.TrimSpace(cfg.RevisionChannelID) == "" {
		return runtime, nil
	}

	notifier, err := NewNotifier(webhookSession, cfg.RevisionChannelID, cfg.WebhookName, webhooks)
	if err != nil {
		return nil, fmt.Errorf("build discord runtime: %w", err)
	}
	runtime.Notifier = notifier

	return runtime, nil
}
