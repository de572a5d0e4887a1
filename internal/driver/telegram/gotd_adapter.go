package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// gotdUpdateEnvelope is one flattened gotd update with its batch timestamp.
type gotdUpdateEnvelope struct {
	update      tg.UpdateClass
	occurredAt  time.Time
	updateClass string
}

// GotdUpdateChannel is a gotd update handler that flattens batches into a buffered stream.
type GotdUpdateChannel struct {
	updates chan gotdUpdateEnvelope
}

// NewGotdUpdateChannel creates a stream bridge between gotd updates and the update source.
func NewGotdUpdateChannel(buffer int) *GotdUpdateChannel {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{
		updates: make(chan gotdUpdateEnvelope, buffer),
	}
}

// stream returns the flattened update channel.
func (s *GotdUpdateChannel) stream() <-chan gotdUpdateEnvelope {
	return s.updates
}

// Handle flattens gotd update batches and forwards each unit to the stream in order.
func (s *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	batch, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, item := range batch {
		select {
		case <-ctx.Done():
			return fmt.Errorf("handle gotd updates publish: %w", ctx.Err())
		case s.updates <- item:
		}
	}

	return nil
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	if updates == nil {
		return nil, fmt.Errorf("flatten gotd updates: nil updates")
	}

	switch typed := updates.(type) {
	case *tg.Updates:
		return flattenGotdBatch(typed.Updates, typed.Date), nil
	case *tg.UpdatesCombined:
		return flattenGotdBatch(typed.Updates, typed.Date), nil
	case *tg.UpdateShort:
		return flattenSingleGotdUpdate(typed.Update, intToTimeUTC(typed.Date)), nil
	case *tg.UpdateShortMessage:
		return shortMessageEnvelope(typed.TypeName(), &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerUser{UserID: typed.UserID},
			Date:    typed.Date,
			Message: typed.Message,
		}, typed.UserID), nil
	case *tg.UpdateShortChatMessage:
		return shortMessageEnvelope(typed.TypeName(), &tg.Message{
			ID:      typed.ID,
			PeerID:  &tg.PeerChat{ChatID: typed.ChatID},
			Date:    typed.Date,
			Message: typed.Message,
		}, typed.FromID), nil
	case *tg.UpdateShortSentMessage, *tg.UpdatesTooLong:
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates %s: unsupported container", updates.TypeName())
	}
}

func flattenGotdBatch(updates []tg.UpdateClass, date int) []gotdUpdateEnvelope {
	occurredAt := intToTimeUTC(date)

	batch := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		batch = append(batch, flattenSingleGotdUpdate(update, occurredAt)...)
	}

	return batch
}

// flattenSingleGotdUpdate splits multi-message deletions so each envelope addresses one message.
func flattenSingleGotdUpdate(update tg.UpdateClass, occurredAt time.Time) []gotdUpdateEnvelope {
	if update == nil {
		return nil
	}

	typed, ok := update.(*tg.UpdateDeleteChannelMessages)
	if !ok {
		return []gotdUpdateEnvelope{
			{update: update, occurredAt: occurredAt, updateClass: update.TypeName()},
		}
	}

	items := make([]gotdUpdateEnvelope, 0, len(typed.Messages))
	for _, messageID := range typed.Messages {
		clone := *typed
		clone.Messages = []int{messageID}
		items = append(items, gotdUpdateEnvelope{
			update:      &clone,
			occurredAt:  occurredAt,
			updateClass: update.TypeName(),
		})
	}

	return items
}

func shortMessageEnvelope(updateClass string, message *tg.Message, fromID int64) []gotdUpdateEnvelope {
	message.SetFromID(&tg.PeerUser{UserID: fromID})

	return []gotdUpdateEnvelope{
		{
			update:      &tg.UpdateNewMessage{Message: message},
			occurredAt:  intToTimeUTC(message.Date),
			updateClass: updateClass,
		},
	}
}

func intToTimeUTC(value int) time.Time {
	if value <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(value), 0).UTC()
}
