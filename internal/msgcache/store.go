package msgcache

import (
	"sync"
	"sync/atomic"
)

// channelBuffer pairs one channel's entries with the lock that serializes access to them.
type channelBuffer struct {
	mu      sync.Mutex
	entries *ringBuffer
}

// channelStore maps channel ids to their buffers.
//
// Lookups are lock-free across channels; buffer creation goes through LoadOrStore so
// concurrent first inserts for one channel agree on a single buffer.
type channelStore struct {
	capacity int
	onCreate func(channelID string)

	buffers  sync.Map
	channels atomic.Int64
}

func newChannelStore(capacity int, onCreate func(channelID string)) *channelStore {
	return &channelStore{
		capacity: capacity,
		onCreate: onCreate,
	}
}

// withBuffer runs fn with exclusive access to the channel's buffer, creating it if needed.
func (s *channelStore) withBuffer(channelID string, fn func(entries *ringBuffer)) {
	buffer := s.getOrCreate(channelID)

	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	fn(buffer.entries)
}

// withExistingBuffer runs fn with exclusive access to the channel's buffer when one exists.
func (s *channelStore) withExistingBuffer(channelID string, fn func(entries *ringBuffer)) bool {
	buffer, found := s.get(channelID)
	if !found {
		return false
	}

	buffer.mu.Lock()
	defer buffer.mu.Unlock()
	fn(buffer.entries)

	return true
}

func (s *channelStore) get(channelID string) (*channelBuffer, bool) {
	existing, found := s.buffers.Load(channelID)
	if !found {
		return nil, false
	}

	return existing.(*channelBuffer), true
}

func (s *channelStore) getOrCreate(channelID string) *channelBuffer {
	if existing, found := s.get(channelID); found {
		return existing
	}

	candidate := &channelBuffer{entries: newRingBuffer(s.capacity)}
	actual, loaded := s.buffers.LoadOrStore(channelID, candidate)
	if !loaded {
		s.channels.Add(1)
		if s.onCreate != nil {
			s.onCreate(channelID)
		}
	}

	return actual.(*channelBuffer)
}

// channelCount reports how many channel buffers have been created.
func (s *channelStore) channelCount() int {
	return int(s.channels.Load())
}

// rangeBuffers visits every channel buffer, locking each one only for the visit.
func (s *channelStore) rangeBuffers(visit func(channelID string, entries *ringBuffer)) {
	s.buffers.Range(func(key, value any) bool {
		buffer := value.(*channelBuffer)
		buffer.mu.Lock()
		visit(key.(string), buffer.entries)
		buffer.mu.Unlock()

		return true
	})
}
