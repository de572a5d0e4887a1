package msgwatch

import (
	"context"
	"time"
)

// Content is the cached state of one message body.
//
// The set of implementations is closed: ValidContent and NonMergeableContent.
type Content interface {
	isContent()
}

// ValidContent is message content that can still be merged field by field.
type ValidContent struct {
	Text   string
	Embeds []Embed
}

// NonMergeableContent marks a message whose body is no longer tracked because it carries
// attachments or interactive components. It never reverts to ValidContent.
type NonMergeableContent struct{}

func (ValidContent) isContent()        {}
func (NonMergeableContent) isContent() {}

// ContentFor derives cached content from a newly observed message.
func ContentFor(message Message) Content {
	if len(message.Attachments) == 0 && len(message.Components) == 0 {
		return ValidContent{Text: message.Text, Embeds: CloneEmbeds(message.Embeds)}
	}

	return NonMergeableContent{}
}

// CachedMessage is an immutable snapshot of one cache entry.
type CachedMessage struct {
	// ChannelID identifies the channel buffer holding the entry.
	ChannelID string
	// ID identifies the message.
	ID string
	// Content is the tracked body.
	Content Content
}

// MessageCache provides read access to recently observed messages.
//
// Implementations must be concurrency-safe.
type MessageCache interface {
	// Lookup returns a snapshot of one cached message.
	Lookup(channelID, messageID string) (CachedMessage, bool)
	// Entries returns snapshots of a channel's cached messages, oldest first.
	Entries(channelID string) []CachedMessage
}

// RevisionKind identifies how a cached message changed.
type RevisionKind string

const (
	// RevisionEdited marks an update applied to a cached message.
	RevisionEdited RevisionKind = "edited"
	// RevisionDeleted marks the deletion of a cached message.
	RevisionDeleted RevisionKind = "deleted"
)

// Revision describes a change observed for a message that was present in the cache.
type Revision struct {
	Kind       RevisionKind
	Platform   Platform
	ChannelID  string
	MessageID  string
	OccurredAt time.Time
	// Before is the snapshot taken before the mutation was applied.
	Before CachedMessage
	// After is the cached snapshot after an edit; nil for deletions.
	After *CachedMessage
}

// RevisionNotifier receives revisions of cached messages.
type RevisionNotifier interface {
	NotifyRevision(ctx context.Context, revision Revision) error
}

// WebhookIdentity is the id/token pair used to post through a channel webhook.
type WebhookIdentity struct {
	ID    string
	Token string
}
