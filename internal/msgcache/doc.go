// Package msgcache keeps a bounded, per-channel window of recently observed messages so
// edit and delete notifications can be answered without re-fetching message state.
//
// Each channel owns a fixed-capacity ring buffer guarded by its own mutex; buffers are
// created on a channel's first message and never destroyed. Operations on different
// channels never contend.
package msgcache
