package driver

import (
	"context"
	"fmt"
	"log/slog"

	"msgwatch/internal/driver/discord"
	"msgwatch/internal/driver/telegram"
)

// NewBuiltinRegistry constructs the runtime registry with all built-in drivers.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{
			Type:     discord.DriverType,
			Platform: discord.DriverPlatform,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				cfg, ok := definition.Config.(discord.Config)
				if !ok {
					return Runtime{}, fmt.Errorf("build discord runtime: unexpected config %T", definition.Config)
				}
				built, err := discord.BuildRuntime(definition.Name, builderLogger, cfg)
				if err != nil {
					return Runtime{}, fmt.Errorf("build discord runtime from config: %w", err)
				}

				runtime := Runtime{Driver: built.Driver}
				if built.Notifier != nil {
					runtime.Notifier = built.Notifier
				}

				return runtime, nil
			},
		},
		{
			Type:     telegram.DriverType,
			Platform: telegram.DriverPlatform,
			Builder: func(
				_ context.Context,
				definition Definition,
				builderLogger *slog.Logger,
			) (Runtime, error) {
				cfg, ok := definition.Config.(telegram.Config)
				if !ok {
					return Runtime{}, fmt.Errorf("build telegram runtime: unexpected config %T", definition.Config)
				}
				runtimeDriver, err := telegram.BuildDriver(definition.Name, builderLogger, cfg)
				if err != nil {
					return Runtime{}, fmt.Errorf("build telegram runtime from config: %w", err)
				}

				return Runtime{Driver: runtimeDriver}, nil
			},
		},
	})
}
