package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"
)

// gotdUpdateMapper maps flattened gotd updates into adapter DTOs.
type gotdUpdateMapper interface {
	// Map converts one update. The accepted flag is false for update classes the
	// cache does not consume.
	Map(ctx context.Context, envelope gotdUpdateEnvelope) (Update, bool, error)
}

// DefaultGotdUpdateMapper maps message, edit, and channel deletion updates.
type DefaultGotdUpdateMapper struct{}

// NewDefaultGotdUpdateMapper creates the default gotd mapper.
func NewDefaultGotdUpdateMapper() DefaultGotdUpdateMapper {
	return DefaultGotdUpdateMapper{}
}

// Map converts a gotd update into an adapter update.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, envelope gotdUpdateEnvelope) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update context: %w", err)
	}

	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return mapMessage(UpdateTypeMessage, update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return mapMessage(UpdateTypeMessage, update.Message, envelope)
	case *tg.UpdateEditMessage:
		return mapMessage(UpdateTypeEdit, update.Message, envelope)
	case *tg.UpdateEditChannelMessage:
		return mapMessage(UpdateTypeEdit, update.Message, envelope)
	case *tg.UpdateDeleteChannelMessages:
		return mapDeleteChannelMessages(update, envelope)
	default:
		// UpdateDeleteMessages carries no chat, so it cannot address a channel buffer.
		return Update{}, false, nil
	}
}

func mapMessage(updateType UpdateType, message tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	typed, ok := message.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chatID := peerKey(typed.PeerID)
	if chatID == "" {
		return Update{}, false, fmt.Errorf("map %s %d: unsupported peer %T", updateType, typed.ID, typed.PeerID)
	}

	authorID := chatID
	if from, ok := typed.GetFromID(); ok {
		if key := peerKey(from); key != "" {
			authorID = key
		}
	}

	occurredAt := intToTimeUTC(typed.Date)
	if updateType == UpdateTypeEdit {
		if editDate, ok := typed.GetEditDate(); ok {
			occurredAt = intToTimeUTC(editDate)
		}
	}
	if occurredAt.IsZero() {
		occurredAt = envelope.occurredAt
	}

	payload := &MessagePayload{
		ID:       strconv.Itoa(typed.ID),
		AuthorID: authorID,
		Text:     typed.Message,
	}
	if media, ok := typed.GetMedia(); ok {
		payload.Media, payload.WebPage = mapMessageMedia(media)
	}
	if markup, ok := typed.GetReplyMarkup(); ok {
		payload.Buttons = mapReplyMarkup(markup)
	}

	return Update{
		ID:         composeUpdateID(updateType, chatID, payload.ID, occurredAt),
		Type:       updateType,
		OccurredAt: occurredAt,
		ChatID:     chatID,
		Message:    payload,
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

func mapDeleteChannelMessages(
	update *tg.UpdateDeleteChannelMessages,
	envelope gotdUpdateEnvelope,
) (Update, bool, error) {
	if len(update.Messages) == 0 {
		return Update{}, false, nil
	}

	chatID := peerKey(&tg.PeerChannel{ChannelID: update.ChannelID})
	messageID := strconv.Itoa(update.Messages[0])
	occurredAt := envelope.occurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	return Update{
		ID:         composeUpdateID(UpdateTypeDelete, chatID, messageID, occurredAt),
		Type:       UpdateTypeDelete,
		OccurredAt: occurredAt,
		ChatID:     chatID,
		Delete:     &DeletePayload{MessageID: messageID},
		Metadata:   newGotdMetadata(envelope),
	}, true, nil
}

// peerKey qualifies numeric peer ids by kind because users, chats, and channels
// use independent id spaces.
func peerKey(peer tg.PeerClass) string {
	switch typed := peer.(type) {
	case *tg.PeerUser:
		return "user:" + strconv.FormatInt(typed.UserID, 10)
	case *tg.PeerChat:
		return "chat:" + strconv.FormatInt(typed.ChatID, 10)
	case *tg.PeerChannel:
		return "channel:" + strconv.FormatInt(typed.ChannelID, 10)
	default:
		return ""
	}
}

func mapMessageMedia(media tg.MessageMediaClass) ([]MediaPayload, *WebPagePayload) {
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok || photo == nil {
			return nil, nil
		}
		photoID := mapPhotoID(photo)
		if photoID == "" {
			return nil, nil
		}
		return []MediaPayload{{ID: photoID, Kind: "photo"}}, nil
	case *tg.MessageMediaDocument:
		document, ok := typed.GetDocument()
		if !ok || document == nil {
			return nil, nil
		}
		return mapDocumentMedia(document), nil
	case *tg.MessageMediaWebPage:
		return nil, mapWebPage(typed.Webpage)
	default:
		return nil, nil
	}
}

func mapPhotoID(photo tg.PhotoClass) string {
	switch typed := photo.(type) {
	case *tg.Photo:
		return strconv.FormatInt(typed.ID, 10)
	case *tg.PhotoEmpty:
		return strconv.FormatInt(typed.ID, 10)
	default:
		return ""
	}
}

func mapDocumentMedia(document tg.DocumentClass) []MediaPayload {
	typed, ok := document.(*tg.Document)
	if !ok {
		return nil
	}

	return []MediaPayload{
		{
			ID:        strconv.FormatInt(typed.ID, 10),
			Kind:      mediaKindFromDocument(typed.MimeType, typed.Attributes),
			MIMEType:  typed.MimeType,
			FileName:  documentFileName(typed.Attributes),
			SizeBytes: typed.Size,
		},
	}
}

func mediaKindFromDocument(mimeType string, attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		switch attribute.(type) {
		case *tg.DocumentAttributeAudio:
			return "audio"
		case *tg.DocumentAttributeVideo:
			return "video"
		}
	}

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return "photo"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	default:
		return "document"
	}
}

func documentFileName(attributes []tg.DocumentAttributeClass) string {
	for _, attribute := range attributes {
		if typed, ok := attribute.(*tg.DocumentAttributeFilename); ok {
			return typed.FileName
		}
	}

	return ""
}

func mapWebPage(page tg.WebPageClass) *WebPagePayload {
	typed, ok := page.(*tg.WebPage)
	if !ok {
		return nil
	}

	payload := &WebPagePayload{URL: typed.URL}
	if siteName, ok := typed.GetSiteName(); ok {
		payload.SiteName = siteName
	}
	if title, ok := typed.GetTitle(); ok {
		payload.Title = title
	}
	if description, ok := typed.GetDescription(); ok {
		payload.Description = description
	}

	return payload
}

// mapReplyMarkup keeps inline keyboards only; reply keyboards belong to the chat, not the message.
func mapReplyMarkup(markup tg.ReplyMarkupClass) []ButtonPayload {
	inline, ok := markup.(*tg.ReplyInlineMarkup)
	if !ok {
		return nil
	}

	var buttons []ButtonPayload
	for _, row := range inline.Rows {
		for _, button := range row.Buttons {
			payload := ButtonPayload{Kind: button.TypeName()}
			switch typed := button.(type) {
			case *tg.KeyboardButtonCallback:
				payload.Data = string(typed.Data)
			case *tg.KeyboardButtonURL:
				payload.Data = typed.URL
			}
			buttons = append(buttons, payload)
		}
	}

	return buttons
}

func composeUpdateID(updateType UpdateType, chatID, messageID string, occurredAt time.Time) string {
	values := []string{"tg", string(updateType), chatID, messageID}
	if !occurredAt.IsZero() {
		values = append(values, strconv.FormatInt(occurredAt.UnixNano(), 10))
	}

	return strings.Join(values, ":")
}

func newGotdMetadata(envelope gotdUpdateEnvelope) map[string]string {
	if envelope.updateClass == "" {
		return nil
	}

	return map[string]string{
		"gotd_update": envelope.updateClass,
	}
}
