package telegram

import (
	"context"
	"fmt"
	"time"

	"msgwatch/pkg/msgwatch"
)

// Decoder converts Telegram update DTOs into neutral events.
type Decoder interface {
	// Decode maps one adapter update into a validated neutral event envelope.
	Decode(ctx context.Context, update Update) (*msgwatch.Event, error)
}

// DefaultDecoder provides the default Telegram-to-msgwatch mapping.
type DefaultDecoder struct{}

// NewDefaultDecoder creates a default decoder.
func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// Decode converts a Telegram update into a neutral event.
func (d DefaultDecoder) Decode(_ context.Context, update Update) (*msgwatch.Event, error) {
	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	event := &msgwatch.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		ChannelID:  update.ChatID,
		Metadata:   update.Metadata,
	}

	switch update.Type {
	case UpdateTypeMessage:
		if update.Message == nil {
			return nil, fmt.Errorf("decode message: missing message payload")
		}
		event.Kind = msgwatch.EventKindMessageCreated
		event.Message = decodeMessage(update.Message)
	case UpdateTypeEdit:
		if update.Message == nil {
			return nil, fmt.Errorf("decode edit: missing message payload")
		}
		event.Kind = msgwatch.EventKindMessageUpdated
		event.Update = decodeEdit(update.Message)
	case UpdateTypeDelete:
		if update.Delete == nil {
			return nil, fmt.Errorf("decode delete: missing delete payload")
		}
		event.Kind = msgwatch.EventKindMessageDeleted
		event.Deletion = &msgwatch.MessageDeletion{MessageID: update.Delete.MessageID}
	default:
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

func decodeMessage(payload *MessagePayload) *msgwatch.Message {
	return &msgwatch.Message{
		ID:          payload.ID,
		AuthorID:    payload.AuthorID,
		Text:        payload.Text,
		Embeds:      decodeWebPage(payload.WebPage),
		Attachments: decodeMedia(payload.Media),
		Components:  decodeButtons(payload.Buttons),
	}
}

// decodeEdit supplies both text and embeds because Telegram edits carry the full message.
func decodeEdit(payload *MessagePayload) *msgwatch.MessageUpdate {
	text := payload.Text
	embeds := decodeWebPage(payload.WebPage)
	if embeds == nil {
		embeds = []msgwatch.Embed{}
	}

	return &msgwatch.MessageUpdate{
		MessageID:      payload.ID,
		Text:           &text,
		Embeds:         &embeds,
		HasAttachments: len(payload.Media) > 0,
	}
}

func decodeWebPage(page *WebPagePayload) []msgwatch.Embed {
	if page == nil {
		return nil
	}

	return []msgwatch.Embed{
		{
			Type:        "link",
			Title:       page.Title,
			Description: page.Description,
			URL:         page.URL,
			Author:      siteAuthor(page.SiteName),
		},
	}
}

func siteAuthor(siteName string) *msgwatch.EmbedAuthor {
	if siteName == "" {
		return nil
	}

	return &msgwatch.EmbedAuthor{Name: siteName}
}

func decodeMedia(media []MediaPayload) []msgwatch.Attachment {
	if len(media) == 0 {
		return nil
	}

	attachments := make([]msgwatch.Attachment, 0, len(media))
	for _, item := range media {
		attachments = append(attachments, msgwatch.Attachment{
			ID:          item.ID,
			FileName:    item.FileName,
			ContentType: item.MIMEType,
			SizeBytes:   item.SizeBytes,
		})
	}

	return attachments
}

func decodeButtons(buttons []ButtonPayload) []msgwatch.Component {
	if len(buttons) == 0 {
		return nil
	}

	components := make([]msgwatch.Component, 0, len(buttons))
	for _, button := range buttons {
		components = append(components, msgwatch.Component{Type: button.Kind, ID: button.Data})
	}

	return components
}
