package msgwatch

import (
	"fmt"
	"time"
)

// EventKind identifies a neutral message event type.
type EventKind string

const (
	// EventKindMessageCreated is emitted when a new message is posted.
	EventKindMessageCreated EventKind = "message.created"
	// EventKindMessageUpdated is emitted when an existing message is edited or enriched.
	EventKindMessageUpdated EventKind = "message.updated"
	// EventKindMessageDeleted is emitted when a message is deleted.
	EventKindMessageDeleted EventKind = "message.deleted"
)

// Platform identifies an external chat gateway.
type Platform string

const (
	// PlatformDiscord is Discord.
	PlatformDiscord Platform = "discord"
	// PlatformTelegram is Telegram.
	PlatformTelegram Platform = "telegram"
)

// Event is the neutral envelope that all drivers publish and modules consume.
//
// Message, Update, and Deletion are optional payload branches selected by Kind.
type Event struct {
	// ID is a stable identifier for this event instance.
	ID string
	// Kind selects which payload branch is expected.
	Kind EventKind
	// OccurredAt is the source-platform timestamp for the event.
	OccurredAt time.Time
	// Platform identifies the gateway that produced the event.
	Platform Platform
	// ChannelID identifies the channel the message belongs to.
	ChannelID string
	// Message carries the full message for message.created events.
	Message *Message
	// Update carries the partial message for message.updated events.
	Update *MessageUpdate
	// Deletion carries the target of message.deleted events.
	Deletion *MessageDeletion
	// Metadata stores optional driver-provided key/value context.
	Metadata map[string]string
}

// Message is a newly observed message.
type Message struct {
	// ID is the message identifier, unique within its channel.
	ID string
	// AuthorID identifies the sender when known.
	AuthorID string
	// Text is the message body.
	Text string
	// Embeds holds rich embeds in display order.
	Embeds []Embed
	// Attachments holds uploaded files.
	Attachments []Attachment
	// Components holds interactive components such as buttons.
	Components []Component
}

// MessageUpdate is a partial edit notification. Nil fields were not supplied by the gateway.
type MessageUpdate struct {
	// MessageID identifies the edited message.
	MessageID string
	// Text is the new body when supplied.
	Text *string
	// Embeds is the new embed list when supplied.
	Embeds *[]Embed
	// HasAttachments reports that the message now carries one or more attachments.
	HasAttachments bool
}

// MessageDeletion identifies a deleted message.
type MessageDeletion struct {
	// MessageID identifies the deleted message.
	MessageID string
}

// Embed is a platform-neutral rich embed.
type Embed struct {
	Type         string
	Title        string
	Description  string
	URL          string
	Color        int
	Timestamp    string
	ImageURL     string
	ThumbnailURL string
	Author       *EmbedAuthor
	Footer       *EmbedFooter
	Fields       []EmbedField
}

// EmbedAuthor is the author block of an embed.
type EmbedAuthor struct {
	Name    string
	URL     string
	IconURL string
}

// EmbedFooter is the footer block of an embed.
type EmbedFooter struct {
	Text    string
	IconURL string
}

// EmbedField is one name/value pair of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Attachment describes an uploaded file.
type Attachment struct {
	ID          string
	FileName    string
	ContentType string
	SizeBytes   int64
	URL         string
}

// Component describes an interactive message component.
type Component struct {
	// Type is the platform component kind, for example "button" or "action_row".
	Type string
	// ID is the component custom id when present.
	ID string
}

// Validate checks event envelope and payload coherence.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	}
	if e.ChannelID == "" {
		return fmt.Errorf("%w: missing channel id", ErrInvalidEvent)
	}

	return validatePayloadByKind(e)
}

// validatePayloadByKind enforces payload branch requirements for each event kind.
func validatePayloadByKind(e *Event) error {
	switch e.Kind {
	case EventKindMessageCreated:
		if e.Message == nil {
			return fmt.Errorf("%w: message.created requires message payload", ErrInvalidEvent)
		}
		if e.Message.ID == "" {
			return fmt.Errorf("%w: message.created requires message id", ErrInvalidEvent)
		}
	case EventKindMessageUpdated:
		if e.Update == nil {
			return fmt.Errorf("%w: message.updated requires update payload", ErrInvalidEvent)
		}
		if e.Update.MessageID == "" {
			return fmt.Errorf("%w: message.updated requires message id", ErrInvalidEvent)
		}
	case EventKindMessageDeleted:
		if e.Deletion == nil {
			return fmt.Errorf("%w: message.deleted requires deletion payload", ErrInvalidEvent)
		}
		if e.Deletion.MessageID == "" {
			return fmt.Errorf("%w: message.deleted requires message id", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}

	return nil
}

// TargetMessageID returns the message id addressed by the event's payload branch.
func (e *Event) TargetMessageID() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != nil:
		return e.Message.ID
	case e.Update != nil:
		return e.Update.MessageID
	case e.Deletion != nil:
		return e.Deletion.MessageID
	default:
		return ""
	}
}
