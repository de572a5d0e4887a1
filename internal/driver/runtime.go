package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"msgwatch/pkg/msgwatch"
)

// Definition describes one configured driver entry.
type Definition struct {
	// Name is the stable configured driver instance identifier.
	Name string
	// Type identifies which builder should construct this runtime.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores the driver-type-specific configuration value.
	Config any
}

// Runtime contains one fully built driver runtime instance.
type Runtime struct {
	// Name is the configured driver instance identifier.
	Name string
	// Platform identifies the gateway the driver consumes.
	Platform msgwatch.Platform
	// Driver is the inbound runtime implementation registered with the kernel.
	Driver msgwatch.Driver
	// Notifier posts cache revisions through this runtime when supported.
	Notifier msgwatch.RevisionNotifier
}

// BuilderFunc builds one runtime from one configured driver definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor binds one driver type token to platform metadata and a runtime builder.
type Descriptor struct {
	// Type is the driver type token from configuration (for example "telegram").
	Type string
	// Platform is the neutral platform for this driver type.
	Platform msgwatch.Platform
	// Builder constructs one runtime instance for this driver type.
	Builder BuilderFunc
}

type registryEntry struct {
	platform msgwatch.Platform
	builder  BuilderFunc
}

// Registry maps driver types to runtime builders and type-level platform metadata.
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates one immutable driver registry from descriptors.
func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	entries := make(map[string]registryEntry, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new registry: empty descriptor type")
		}
		if descriptor.Platform == "" {
			return nil, fmt.Errorf("new registry type %s: empty platform", descriptor.Type)
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new registry type %s: nil builder", descriptor.Type)
		}
		if _, exists := entries[descriptor.Type]; exists {
			return nil, fmt.Errorf("new registry type %s: duplicate", descriptor.Type)
		}

		entries[descriptor.Type] = registryEntry{
			platform: descriptor.Platform,
			builder:  descriptor.Builder,
		}
	}

	return &Registry{entries: entries}, nil
}

// PlatformForType resolves one registered driver type to its neutral platform.
func (r *Registry) PlatformForType(driverType string) (msgwatch.Platform, error) {
	if r == nil {
		return "", fmt.Errorf("resolve platform: nil registry")
	}

	entry, exists := r.entries[driverType]
	if !exists {
		return "", fmt.Errorf("unsupported type %s", driverType)
	}

	return entry.platform, nil
}

// BuildEnabled builds all enabled driver definitions.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	if r == nil {
		return nil, fmt.Errorf("build drivers: nil registry")
	}

	runtimes := make([]Runtime, 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build driver %s: empty type", definition.Name)
		}

		entry, exists := r.entries[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build driver %s type %s: unsupported type", definition.Name, definition.Type)
		}

		runtime, err := entry.builder(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s type %s: %w", definition.Name, definition.Type, err)
		}
		if runtime.Driver == nil {
			return nil, fmt.Errorf("build driver %s type %s: nil driver", definition.Name, definition.Type)
		}
		runtime.Name = definition.Name
		runtime.Platform = entry.platform

		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

// CompositeNotifier fans one revision out to every runtime notifier.
type CompositeNotifier struct {
	routes []notifierRoute
}

type notifierRoute struct {
	name     string
	notifier msgwatch.RevisionNotifier
}

// NewCompositeNotifier collects notifiers from runtimes. It returns nil when no runtime
// provides one.
func NewCompositeNotifier(runtimes []Runtime) *CompositeNotifier {
	routes := make([]notifierRoute, 0, len(runtimes))
	for _, runtime := range runtimes {
		if runtime.Notifier == nil {
			continue
		}
		routes = append(routes, notifierRoute{name: runtime.Name, notifier: runtime.Notifier})
	}
	if len(routes) == 0 {
		return nil
	}
	sort.Slice(routes, func(i, j int) bool {
		return routes[i].name < routes[j].name
	})

	return &CompositeNotifier{routes: routes}
}

// NotifyRevision delivers revision to every notifier and joins their failures.
func (n *CompositeNotifier) NotifyRevision(ctx context.Context, revision msgwatch.Revision) error {
	var errs []error
	for _, route := range n.routes {
		if err := route.notifier.NotifyRevision(ctx, revision); err != nil {
			errs = append(errs, fmt.Errorf("route revision to %s: %w", route.name, err))
		}
	}

	return errors.Join(errs...)
}

var _ msgwatch.RevisionNotifier = (*CompositeNotifier)(nil)
