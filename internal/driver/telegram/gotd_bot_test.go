package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gotd/td/tg"
)

// TestGotdBotSourceConsume verifies mapped updates reach the handler and map failures are skipped.
func TestGotdBotSourceConsume(t *testing.T) {
	t.Parallel()

	channel := NewGotdUpdateChannel(4)
	for _, update := range []tg.UpdateClass{
		&tg.UpdateNewMessage{Message: &tg.Message{ID: 1}},
		&tg.UpdateUserTyping{UserID: 1},
		&tg.UpdateNewChannelMessage{Message: &tg.Message{ID: 2, PeerID: &tg.PeerChannel{ChannelID: 5}, Date: 1}},
	} {
		if err := channel.Handle(context.Background(), &tg.UpdateShort{Update: update, Date: 1}); err != nil {
			t.Fatalf("handle failed: %v", err)
		}
	}

	var mapErrors []error
	source, err := NewGotdBotSource(
		stubGotdClient{},
		channel,
		NewDefaultGotdUpdateMapper(),
		func(_ context.Context, err error) { mapErrors = append(mapErrors, err) },
	)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var handled []Update
	err = source.Consume(ctx, func(_ context.Context, update Update) error {
		handled = append(handled, update)
		cancel()
		return nil
	})
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(handled) != 1 || handled[0].Message.ID != "2" {
		t.Fatalf("handled = %+v, want channel message 2", handled)
	}
	if len(mapErrors) != 1 {
		t.Fatalf("map errors = %d, want 1", len(mapErrors))
	}
}

func TestGotdBotSourceHandlerFailureIsWrapped(t *testing.T) {
	t.Parallel()

	channel := NewGotdUpdateChannel(1)
	if err := channel.Handle(context.Background(), &tg.UpdateShort{
		Update: &tg.UpdateDeleteChannelMessages{ChannelID: 5, Messages: []int{1}},
		Date:   1,
	}); err != nil {
		t.Fatalf("handle failed: %v", err)
	}

	source, err := NewGotdBotSource(stubGotdClient{}, channel, NewDefaultGotdUpdateMapper(), nil)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	err = source.Consume(context.Background(), func(context.Context, Update) error {
		return errors.New("handler failed")
	})
	if err == nil || !strings.Contains(err.Error(), "consume gotd update delete") {
		t.Fatalf("consume error = %v, want wrapped handler failure", err)
	}
}

func TestGotdBotSourceRecoversMapperPanic(t *testing.T) {
	t.Parallel()

	source, err := NewGotdBotSource(stubGotdClient{}, NewGotdUpdateChannel(1), panicMapper{}, nil)
	if err != nil {
		t.Fatalf("new source failed: %v", err)
	}

	_, _, err = source.mapUpdateSafely(context.Background(), gotdUpdateEnvelope{updateClass: "updateNewMessage"})
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("map error = %v, want recovered panic", err)
	}
}

func TestNewGotdBotSourceValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewGotdBotSource(nil, NewGotdUpdateChannel(1), NewDefaultGotdUpdateMapper(), nil); err == nil {
		t.Fatal("expected nil client error")
	}
	if _, err := NewGotdBotSource(stubGotdClient{}, nil, NewDefaultGotdUpdateMapper(), nil); err == nil {
		t.Fatal("expected nil channel error")
	}
	if _, err := NewGotdBotSource(stubGotdClient{}, NewGotdUpdateChannel(1), nil, nil); err == nil {
		t.Fatal("expected nil mapper error")
	}
}

type stubGotdClient struct{}

func (stubGotdClient) Run(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type panicMapper struct{}

func (panicMapper) Map(context.Context, gotdUpdateEnvelope) (Update, bool, error) {
	panic("mapper exploded")
}
