package msgcache

import "msgwatch/pkg/msgwatch"

type entry struct {
	id      string
	content msgwatch.Content
}

// ringBuffer is a fixed-capacity deque of entries ordered oldest first.
type ringBuffer struct {
	slots []entry
	head  int
	size  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{slots: make([]entry, capacity)}
}

func (b *ringBuffer) len() int {
	return b.size
}

func (b *ringBuffer) full() bool {
	return b.size == len(b.slots)
}

// slot maps a logical position (0 is the oldest entry) to a backing array index.
func (b *ringBuffer) slot(position int) int {
	return (b.head + position) % len(b.slots)
}

// at returns the entry at a logical position for in-place mutation.
func (b *ringBuffer) at(position int) *entry {
	return &b.slots[b.slot(position)]
}

// pushBack appends an entry, evicting the oldest one first when the buffer is full.
func (b *ringBuffer) pushBack(item entry) (evicted entry, didEvict bool) {
	if b.full() {
		evicted, didEvict = b.popFront()
	}
	b.slots[b.slot(b.size)] = item
	b.size++

	return evicted, didEvict
}

func (b *ringBuffer) popFront() (entry, bool) {
	if b.size == 0 {
		return entry{}, false
	}

	front := b.slots[b.head]
	b.slots[b.head] = entry{}
	b.head = (b.head + 1) % len(b.slots)
	b.size--

	return front, true
}

// indexOf returns the logical position of id, or -1.
func (b *ringBuffer) indexOf(id string) int {
	for position := 0; position < b.size; position++ {
		if b.slots[b.slot(position)].id == id {
			return position
		}
	}

	return -1
}

// removeAt deletes the entry at a logical position and closes the gap, keeping order.
func (b *ringBuffer) removeAt(position int) entry {
	removed := b.slots[b.slot(position)]
	for idx := position; idx < b.size-1; idx++ {
		b.slots[b.slot(idx)] = b.slots[b.slot(idx+1)]
	}
	b.slots[b.slot(b.size-1)] = entry{}
	b.size--

	return removed
}

// each visits entries oldest first.
func (b *ringBuffer) each(visit func(item entry)) {
	for position := 0; position < b.size; position++ {
		visit(b.slots[b.slot(position)])
	}
}
