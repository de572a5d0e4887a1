package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"msgwatch/internal/driver"
	"msgwatch/internal/driver/discord"
	"msgwatch/internal/driver/telegram"
	"msgwatch/internal/kernel"
	"msgwatch/modules/messagecache"
	"msgwatch/pkg/msgwatch"
)

const (
	discordDriverName  = "discord"
	telegramDriverName = "telegram"
)

type envConfig struct {
	LogLevel  string `env:"MSGWATCH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"MSGWATCH_LOG_FORMAT" envDefault:"json"`

	ModuleHookTimeout   time.Duration `env:"MSGWATCH_MODULE_HOOK_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout     time.Duration `env:"MSGWATCH_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	SubscriptionBuffer  int           `env:"MSGWATCH_SUBSCRIPTION_BUFFER" envDefault:"256"`
	SubscriptionWorkers int           `env:"MSGWATCH_SUBSCRIPTION_WORKERS" envDefault:"1"`
	CacheCapacity       int           `env:"MSGWATCH_CACHE_CAPACITY" envDefault:"20"`

	DiscordToken             string `env:"DISCORD_TOKEN"`
	DiscordRevisionChannelID string `env:"DISCORD_REVISION_CHANNEL_ID"`
	DiscordWebhookName       string `env:"DISCORD_WEBHOOK_NAME" envDefault:"msgwatch"`

	TelegramAppID        int      `env:"TELEGRAM_APP_ID"`
	TelegramAppHash      string   `env:"TELEGRAM_APP_HASH"`
	TelegramBotToken     string   `env:"TELEGRAM_BOT_TOKEN"`
	TelegramSessionFile  string   `env:"TELEGRAM_SESSION_FILE" envDefault:".cache/telegram/session.json"`
	TelegramUpdateBuffer int      `env:"TELEGRAM_UPDATE_BUFFER" envDefault:"256"`
	TelegramWatchChats   []string `env:"TELEGRAM_WATCH_CHATS" envSeparator:","`
}

type appConfig struct {
	logLevel  slog.Level
	logFormat string

	moduleHookTimeout   time.Duration
	shutdownTimeout     time.Duration
	subscriptionBuffer  int
	subscriptionWorkers int
	cacheCapacity       int

	drivers []driver.Definition
}

func run() error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := loadConfig(registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(os.Stdout, cfg)
	if err != nil {
		return err
	}
	kernelRuntime := buildKernelRuntime(logger, cfg)

	runtimes, err := registry.BuildEnabled(context.Background(), cfg.drivers, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeModules(context.Background(), kernelRuntime, cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("msgwatch starting", "drivers", len(runtimes), "cache_capacity", cfg.cacheCapacity)
	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

// loadDotEnv loads path into the process environment when it exists. Variables that are
// already set win over the file.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

func loadConfig(registry *driver.Registry) (appConfig, error) {
	var parsed envConfig
	if err := env.Parse(&parsed); err != nil {
		return appConfig{}, fmt.Errorf("parse environment: %w", err)
	}

	cfg, err := buildAppConfig(parsed)
	if err != nil {
		return appConfig{}, err
	}
	if err := validateAppConfig(&cfg, registry); err != nil {
		return appConfig{}, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

func buildAppConfig(parsed envConfig) (appConfig, error) {
	level, err := parseLogLevel(parsed.LogLevel)
	if err != nil {
		return appConfig{}, fmt.Errorf("parse MSGWATCH_LOG_LEVEL: %w", err)
	}

	cfg := appConfig{
		logLevel:            level,
		logFormat:           strings.ToLower(strings.TrimSpace(parsed.LogFormat)),
		moduleHookTimeout:   parsed.ModuleHookTimeout,
		shutdownTimeout:     parsed.ShutdownTimeout,
		subscriptionBuffer:  parsed.SubscriptionBuffer,
		subscriptionWorkers: parsed.SubscriptionWorkers,
		cacheCapacity:       parsed.CacheCapacity,
	}

	cfg.drivers = []driver.Definition{
		{
			Name:    discordDriverName,
			Type:    discord.DriverType,
			Enabled: strings.TrimSpace(parsed.DiscordToken) != "",
			Config: discord.Config{
				Token:             parsed.DiscordToken,
				RevisionChannelID: strings.TrimSpace(parsed.DiscordRevisionChannelID),
				WebhookName:       parsed.DiscordWebhookName,
			},
		},
		{
			Name:    telegramDriverName,
			Type:    telegram.DriverType,
			Enabled: strings.TrimSpace(parsed.TelegramBotToken) != "",
			Config: telegram.Config{
				AppID:        parsed.TelegramAppID,
				AppHash:      parsed.TelegramAppHash,
				BotToken:     parsed.TelegramBotToken,
				SessionFile:  parsed.TelegramSessionFile,
				UpdateBuffer: parsed.TelegramUpdateBuffer,
				WatchChats:   parsed.TelegramWatchChats,
			},
		},
	}

	return cfg, nil
}

func validateAppConfig(cfg *appConfig, registry *driver.Registry) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if registry == nil {
		return fmt.Errorf("nil driver registry")
	}
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return fmt.Errorf("MSGWATCH_LOG_FORMAT: unsupported format %q", cfg.logFormat)
	}
	if cfg.moduleHookTimeout <= 0 {
		return fmt.Errorf("MSGWATCH_MODULE_HOOK_TIMEOUT: must be > 0")
	}
	if cfg.shutdownTimeout <= 0 {
		return fmt.Errorf("MSGWATCH_SHUTDOWN_TIMEOUT: must be > 0")
	}
	if cfg.subscriptionBuffer <= 0 {
		return fmt.Errorf("MSGWATCH_SUBSCRIPTION_BUFFER: must be > 0")
	}
	if cfg.subscriptionWorkers <= 0 {
		return fmt.Errorf("MSGWATCH_SUBSCRIPTION_WORKERS: must be > 0")
	}
	if cfg.cacheCapacity <= 0 {
		return fmt.Errorf("MSGWATCH_CACHE_CAPACITY: must be > 0")
	}

	enabled := 0
	for _, definition := range cfg.drivers {
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return fmt.Errorf("driver %s: %w", definition.Name, err)
		}
		if err := validateDriverConfig(definition); err != nil {
			return fmt.Errorf("driver %s: %w", definition.Name, err)
		}
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one driver is required; set DISCORD_TOKEN or TELEGRAM_BOT_TOKEN")
	}

	return nil
}

func validateDriverConfig(definition driver.Definition) error {
	switch typed := definition.Config.(type) {
	case discord.Config:
		return typed.Validate()
	case telegram.Config:
		return typed.Validate()
	default:
		return fmt.Errorf("unsupported config %T", definition.Config)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func newLogger(out io.Writer, cfg appConfig) (*slog.Logger, error) {
	options := &slog.HandlerOptions{Level: cfg.logLevel}
	switch cfg.logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(out, options)), nil
	case "text":
		return slog.New(slog.NewTextHandler(out, options)), nil
	default:
		return nil, fmt.Errorf("new logger: unsupported format %q", cfg.logFormat)
	}
}

func buildKernelRuntime(logger *slog.Logger, cfg appConfig) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.subscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.subscriptionWorkers),
	)
}

func registerRuntimeServices(kernelRuntime *kernel.Kernel, logger *slog.Logger, runtimes []driver.Runtime) error {
	if err := kernelRuntime.RegisterService(msgwatch.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}

	notifier := driver.NewCompositeNotifier(runtimes)
	if notifier == nil {
		logger.Info("revision notifier disabled; set DISCORD_REVISION_CHANNEL_ID to enable it")
		return nil
	}
	if err := kernelRuntime.RegisterService(msgwatch.ServiceRevisionNotifier, notifier); err != nil {
		return fmt.Errorf("register revision notifier service: %w", err)
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	cacheModule := messagecache.New(messagecache.WithCapacity(cfg.cacheCapacity))
	if err := kernelRuntime.RegisterModule(ctx, cacheModule); err != nil {
		return fmt.Errorf("register message cache module: %w", err)
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Name, err)
		}
	}

	return nil
}
