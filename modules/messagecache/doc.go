// Package messagecache wires the per-channel message cache into the kernel.
//
// The module consumes message.created, message.updated, and message.deleted
// events, keeps the last few messages of every channel, publishes the cache
// read side as a service, and reports edits and deletions of cached messages
// to an optional revision notifier together with the content observed before
// the change.
package messagecache
