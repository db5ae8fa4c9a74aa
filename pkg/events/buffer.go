package events

import (
	"log/slog"
	"sync"
)

// DefaultCapacity is the buffer capacity used when none is configured.
const DefaultCapacity = 1000

// Recorder is the narrow interface components use to emit audit events.
type Recorder interface {
	Append(ev *Event)
}

// Buffer is a bounded, queryable ring buffer of audit events. Appends are
// O(1) amortized; at capacity the oldest event is evicted before the new
// one is inserted, never the newest. All appends go through a single mutex
// so ordering across subjects is preserved for audit replay.
type Buffer struct {
	mu    sync.RWMutex
	ring  []*Event
	head  int // index of the oldest event
	size  int
	cap   int
	total uint64 // appended over the buffer's lifetime

	subsMu sync.RWMutex
	subs   map[int]chan *Event
	nextID int

	onEvict func(*Event)
	logger  *slog.Logger
}

// NewBuffer creates a buffer with the given capacity. Capacities below 1
// fall back to DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		ring:   make([]*Event, capacity),
		cap:    capacity,
		subs:   make(map[int]chan *Event),
		logger: slog.Default().With("component", "events.buffer"),
	}
}

// SetEvictionHook installs a callback invoked (under the append lock) with
// each evicted event. The archive uses it to persist events before they
// leave the buffer.
func (b *Buffer) SetEvictionHook(fn func(*Event)) {
	b.mu.Lock()
	b.onEvict = fn
	b.mu.Unlock()
}

// Append records an event, evicting the oldest if at capacity.
func (b *Buffer) Append(ev *Event) {
	if ev == nil {
		return
	}

	b.mu.Lock()
	if b.size == b.cap {
		evicted := b.ring[b.head]
		b.ring[b.head] = nil
		b.head = (b.head + 1) % b.cap
		b.size--
		if b.onEvict != nil {
			b.onEvict(evicted)
		}
	}
	tail := (b.head + b.size) % b.cap
	b.ring[tail] = ev
	b.size++
	b.total++
	b.mu.Unlock()

	b.publish(ev)
}

// Query returns events matching the filter, newest-first, from a
// consistent point-in-time snapshot of the buffer.
func (b *Buffer) Query(filter Filter) []*Event {
	b.mu.RLock()
	snapshot := make([]*Event, 0, b.size)
	for i := b.size - 1; i >= 0; i-- {
		snapshot = append(snapshot, b.ring[(b.head+i)%b.cap])
	}
	b.mu.RUnlock()

	results := make([]*Event, 0, len(snapshot))
	for _, ev := range snapshot {
		if !filter.Matches(ev) {
			continue
		}
		results = append(results, ev)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results
}

// Len returns the current number of buffered events.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity returns the configured capacity.
func (b *Buffer) Capacity() int {
	return b.cap
}

// Total returns the number of events appended over the buffer's lifetime,
// including evicted ones.
func (b *Buffer) Total() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.total
}

// Subscribe registers a live event channel. Slow consumers lose events
// rather than blocking the append path. Cancel releases the subscription.
func (b *Buffer) Subscribe(bufSize int) (ch <-chan *Event, cancel func()) {
	if bufSize < 1 {
		bufSize = 64
	}
	c := make(chan *Event, bufSize)

	b.subsMu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = c
	b.subsMu.Unlock()

	return c, func() {
		b.subsMu.Lock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
		b.subsMu.Unlock()
	}
}

func (b *Buffer) publish(ev *Event) {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
			// Subscriber buffer full: drop for this consumer. Audit
			// durability comes from the buffer and archive, not the
			// push channel.
		}
	}
}
