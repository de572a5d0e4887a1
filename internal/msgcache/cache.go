package msgcache

import (
	"msgwatch/pkg/msgwatch"
)

// DefaultCapacity is the number of messages remembered per channel.
const DefaultCapacity = 20

// Option mutates cache construction.
type Option func(*options)

type options struct {
	capacity int
	onCreate func(channelID string)
}

// WithCapacity overrides the per-channel capacity.
func WithCapacity(capacity int) Option {
	return func(opts *options) {
		if capacity > 0 {
			opts.capacity = capacity
		}
	}
}

// WithBufferCreatedHook observes the creation of each channel buffer. The hook runs exactly
// once per channel, outside any buffer lock.
func WithBufferCreatedHook(hook func(channelID string)) Option {
	return func(opts *options) {
		if hook != nil {
			opts.onCreate = hook
		}
	}
}

// Cache is a concurrency-safe map from channel id to a bounded window of cached messages.
type Cache struct {
	capacity int
	store    *channelStore
}

// Stats summarizes cache occupancy.
type Stats struct {
	Channels int
	Entries  int
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	resolved := options{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&resolved)
	}

	return &Cache{
		capacity: resolved.capacity,
		store:    newChannelStore(resolved.capacity, resolved.onCreate),
	}
}

// Capacity returns the per-channel entry limit.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Insert records a newly created message, evicting the channel's oldest entry when full.
// A replayed create for an id that is already cached replaces its content in place.
func (c *Cache) Insert(channelID string, message msgwatch.Message) {
	item := entry{
		id:      message.ID,
		content: msgwatch.ContentFor(message),
	}

	c.store.withBuffer(channelID, func(entries *ringBuffer) {
		if position := entries.indexOf(item.id); position >= 0 {
			entries.at(position).content = item.content
			return
		}
		entries.pushBack(item)
	})
}

// Update merges an edit into the cached entry. Unknown channels and messages are ignored.
func (c *Cache) Update(channelID string, update msgwatch.MessageUpdate) {
	c.Revise(channelID, update)
}

// Delete removes a cached entry. Unknown channels and messages are ignored.
func (c *Cache) Delete(channelID, messageID string) {
	c.Remove(channelID, messageID)
}

// Revise applies an update like Update and reports the entry's state before and after it.
func (c *Cache) Revise(channelID string, update msgwatch.MessageUpdate) (before, after msgwatch.CachedMessage, found bool) {
	c.store.withExistingBuffer(channelID, func(entries *ringBuffer) {
		position := entries.indexOf(update.MessageID)
		if position < 0 {
			return
		}

		target := entries.at(position)
		before = snapshot(channelID, *target)
		target.content = mergeContent(target.content, update)
		after = snapshot(channelID, *target)
		found = true
	})

	return before, after, found
}

// Remove deletes a cached entry like Delete and returns what was removed.
func (c *Cache) Remove(channelID, messageID string) (removed msgwatch.CachedMessage, found bool) {
	c.store.withExistingBuffer(channelID, func(entries *ringBuffer) {
		position := entries.indexOf(messageID)
		if position < 0 {
			return
		}

		removed = snapshot(channelID, entries.removeAt(position))
		found = true
	})

	return removed, found
}

// Lookup returns a copy of one cached message.
func (c *Cache) Lookup(channelID, messageID string) (msgwatch.CachedMessage, bool) {
	var (
		cached msgwatch.CachedMessage
		found  bool
	)
	c.store.withExistingBuffer(channelID, func(entries *ringBuffer) {
		position := entries.indexOf(messageID)
		if position < 0 {
			return
		}
		cached = snapshot(channelID, *entries.at(position))
		found = true
	})

	return cached, found
}

// Entries returns copies of a channel's cached messages, oldest first.
func (c *Cache) Entries(channelID string) []msgwatch.CachedMessage {
	var cached []msgwatch.CachedMessage
	c.store.withExistingBuffer(channelID, func(entries *ringBuffer) {
		cached = make([]msgwatch.CachedMessage, 0, entries.len())
		entries.each(func(item entry) {
			cached = append(cached, snapshot(channelID, item))
		})
	})

	return cached
}

// Stats reports how many channels and entries are cached.
func (c *Cache) Stats() Stats {
	stats := Stats{Channels: c.store.channelCount()}
	c.store.rangeBuffers(func(_ string, entries *ringBuffer) {
		stats.Entries += entries.len()
	})

	return stats
}

// mergeContent applies the edit rules: attachments force NonMergeable, otherwise supplied
// fields overwrite ValidContent and NonMergeable stays as it is.
func mergeContent(current msgwatch.Content, update msgwatch.MessageUpdate) msgwatch.Content {
	if update.HasAttachments {
		return msgwatch.NonMergeableContent{}
	}

	switch typed := current.(type) {
	case msgwatch.ValidContent:
		if update.Text != nil {
			typed.Text = *update.Text
		}
		if update.Embeds != nil {
			typed.Embeds = msgwatch.CloneEmbeds(*update.Embeds)
		}
		return typed
	case msgwatch.NonMergeableContent:
		return typed
	default:
		return msgwatch.NonMergeableContent{}
	}
}

func snapshot(channelID string, item entry) msgwatch.CachedMessage {
	return msgwatch.CachedMessage{
		ChannelID: channelID,
		ID:        item.id,
		Content:   msgwatch.CloneContent(item.content),
	}
}

var _ msgwatch.MessageCache = (*Cache)(nil)
