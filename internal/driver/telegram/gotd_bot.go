package telegram

import (
	"context"
	"fmt"
)

// GotdClient abstracts gotd session execution.
type GotdClient interface {
	// Run starts the session and executes fn within the connected lifecycle.
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdBotSource wires gotd bot updates into UpdateSource.
type GotdBotSource struct {
	client     GotdClient
	updates    *GotdUpdateChannel
	mapper     gotdUpdateMapper
	onMapError func(context.Context, error)
}

// NewGotdBotSource creates a source backed by a gotd bot session.
func NewGotdBotSource(
	client GotdClient,
	updates *GotdUpdateChannel,
	mapper gotdUpdateMapper,
	onMapError func(context.Context, error),
) (*GotdBotSource, error) {
	if client == nil {
		return nil, fmt.Errorf("new gotd bot source: nil client")
	}
	if updates == nil {
		return nil, fmt.Errorf("new gotd bot source: nil update channel")
	}
	if mapper == nil {
		return nil, fmt.Errorf("new gotd bot source: nil mapper")
	}
	if onMapError == nil {
		onMapError = func(context.Context, error) {}
	}

	return &GotdBotSource{
		client:     client,
		updates:    updates,
		mapper:     mapper,
		onMapError: onMapError,
	}, nil
}

// Consume runs a gotd session and forwards mapped updates to the handler.
// Updates that fail to map are reported and skipped.
func (s *GotdBotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd bot updates: nil handler")
	}

	err := s.client.Run(ctx, func(runCtx context.Context) error {
		return s.drain(runCtx, handler)
	})
	if err != nil {
		return fmt.Errorf("consume gotd bot updates: %w", err)
	}

	return nil
}

func (s *GotdBotSource) drain(ctx context.Context, handler UpdateHandler) error {
	stream := s.updates.stream()
	for {
		select {
		case <-ctx.Done():
			return nil
		case envelope := <-stream:
			mapped, accepted, err := s.mapUpdateSafely(ctx, envelope)
			if err != nil {
				s.onMapError(ctx, err)
				continue
			}
			if !accepted {
				continue
			}
			if err := handler(ctx, mapped); err != nil {
				return fmt.Errorf("consume gotd update %s: %w", mapped.Type, err)
			}
		}
	}
}

// mapUpdateSafely isolates mapper panics so a bad mapping path cannot crash the process.
func (s *GotdBotSource) mapUpdateSafely(
	ctx context.Context,
	envelope gotdUpdateEnvelope,
) (mapped Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update %s panic: %v", envelope.updateClass, recovered)
		}
	}()

	mapped, accepted, err = s.mapper.Map(ctx, envelope)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update %s: %w", envelope.updateClass, err)
	}

	return mapped, accepted, nil
}
