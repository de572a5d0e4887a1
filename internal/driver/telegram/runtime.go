package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const (
	defaultSessionFile  = ".cache/telegram/session.json"
	defaultUpdateBuffer = 256
	defaultAuthTimeout  = time.Minute
)

// Config configures one Telegram bot runtime.
type Config struct {
	AppID          int
	AppHash        string
	BotToken       string
	SessionFile    string
	UpdateBuffer   int
	PublishTimeout time.Duration
	// WatchChats lists peer-qualified chat ids to cache; empty caches every chat the bot sees.
	WatchChats []string
}

// Validate checks that the bot credentials are present.
func (c Config) Validate() error {
	if c.AppID <= 0 {
		return fmt.Errorf("telegram app id must be > 0")
	}
	if strings.TrimSpace(c.AppHash) == "" {
		return fmt.Errorf("telegram app hash is required")
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	for _, chatID := range c.WatchChats {
		kind, id, found := strings.Cut(strings.TrimSpace(chatID), ":")
		if !found || id == "" || (kind != "user" && kind != "chat" && kind != "channel") {
			return fmt.Errorf("telegram watch chat %q must look like channel:<id>, chat:<id>, or user:<id>", chatID)
		}
	}

	return nil
}

// BuildDriver builds a Telegram driver backed by a gotd bot session.
func BuildDriver(name string, logger *slog.Logger, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("build telegram driver: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	if strings.TrimSpace(cfg.SessionFile) == "" {
		cfg.SessionFile = defaultSessionFile
	}

	sessionStorage, err := newGotdSessionStorage(cfg.SessionFile)
	if err != nil {
		return nil, fmt.Errorf("build telegram driver: session storage: %w", err)
	}

	updates := NewGotdUpdateChannel(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
	})

	source, err := NewGotdBotSource(
		gotdBotClient{
			client: client,
			authenticate: func(ctx context.Context) error {
				return authenticateBot(ctx, logger, client, cfg)
			},
		},
		updates,
		NewDefaultGotdUpdateMapper(),
		func(ctx context.Context, err error) {
			logger.WarnContext(ctx, "telegram update skipped", "driver", name, "error", err)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram driver: %w", err)
	}

	driver, err := NewDriver(
		source,
		NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithWatchedChats(cfg.WatchChats...),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "driver", name, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("build telegram driver: %w", err)
	}

	return driver, nil
}

func newGotdSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("resolve absolute session file path: %w", err)
	}
	sessionDir := filepath.Dir(absPath)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session directory %s: %w", sessionDir, err)
	}

	return &session.FileStorage{Path: absPath}, nil
}

// gotdBotClient authenticates the bot before handing the session to the source.
type gotdBotClient struct {
	client       *gotdtelegram.Client
	authenticate func(ctx context.Context) error
}

// Run executes the client runtime and performs authentication before invoking fn.
func (c gotdBotClient) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	if fn == nil {
		return fmt.Errorf("run gotd bot client: nil run callback")
	}

	if err := c.client.Run(ctx, func(runCtx context.Context) error {
		if err := c.authenticate(runCtx); err != nil {
			return fmt.Errorf("authenticate gotd client: %w", err)
		}
		if err := fn(runCtx); err != nil {
			return fmt.Errorf("run gotd client callback: %w", err)
		}
		return nil
	}); err != nil {
		return fmt.Errorf("run gotd bot client: %w", err)
	}

	return nil
}

func authenticateBot(ctx context.Context, logger *slog.Logger, client *gotdtelegram.Client, cfg Config) error {
	authCtx, cancel := context.WithTimeout(ctx, defaultAuthTimeout)
	defer cancel()

	status, err := client.Auth().Status(authCtx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if status.Authorized {
		logger.InfoContext(ctx, "telegram session restored from local storage", "session_file", cfg.SessionFile)
		return nil
	}

	if _, err := client.Auth().Bot(authCtx, cfg.BotToken); err != nil {
		return fmt.Errorf("authenticate bot: %w", err)
	}
	logger.InfoContext(ctx, "telegram bot authorized", "session_file", cfg.SessionFile)

	return nil
}
