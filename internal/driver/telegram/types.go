package telegram

import (
	"time"

	"msgwatch/pkg/msgwatch"
)

const (
	// DriverType is the configuration token of the Telegram driver.
	DriverType = "telegram"
	// DriverPlatform is the neutral platform the driver publishes for.
	DriverPlatform = msgwatch.PlatformTelegram
)

// UpdateType identifies the Telegram update semantic category.
type UpdateType string

const (
	// UpdateTypeMessage identifies new message updates.
	UpdateTypeMessage UpdateType = "message"
	// UpdateTypeEdit identifies edited message updates.
	UpdateTypeEdit UpdateType = "edit"
	// UpdateTypeDelete identifies deleted message updates.
	UpdateTypeDelete UpdateType = "delete"
)

// Update is the Telegram adapter's internal DTO before neutral decoding.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	// ChatID is the peer-qualified chat identifier, for example "channel:1234".
	ChatID   string
	Message  *MessagePayload
	Delete   *DeletePayload
	Metadata map[string]string
}

// MessagePayload is a full Telegram message projection. Telegram delivers the whole
// message on edits, so new and edited messages share this shape.
type MessagePayload struct {
	ID       string
	AuthorID string
	Text     string
	Media    []MediaPayload
	WebPage  *WebPagePayload
	Buttons  []ButtonPayload
}

// MediaPayload describes a photo or document attached to a message.
type MediaPayload struct {
	ID        string
	Kind      string
	MIMEType  string
	FileName  string
	SizeBytes int64
}

// WebPagePayload is a link preview rendered under a message.
type WebPagePayload struct {
	URL         string
	SiteName    string
	Title       string
	Description string
}

// ButtonPayload is one reply markup button.
type ButtonPayload struct {
	Kind string
	Data string
}

// DeletePayload identifies one deleted message.
type DeletePayload struct {
	MessageID string
}
