package rtp

import (
	"sync"
)

// Queue is a bounded FIFO of outbound media packets.
//
// When full, Push evicts the oldest packet to make room: under sustained
// overproduction the queue holds the newest packets and never blocks the
// producer.
type Queue struct {
	mu    sync.Mutex
	items []*MediaPacket
	head  int
	n     int
}

// NewQueue creates a queue holding at most depth packets.
func NewQueue(depth int) *Queue {
	if depth < 1 {
		depth = 1
	}
	return &Queue{items: make([]*MediaPacket, depth)}
}

// Push appends p. If the queue was full the evicted packet is returned so
// the caller can recycle it.
func (q *Queue) Push(p *MediaPacket) (dropped *MediaPacket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == len(q.items) {
		dropped = q.items[q.head]
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.n--
	}
	q.items[(q.head+q.n)%len(q.items)] = p
	q.n++
	return dropped
}

// Pop removes and returns the oldest packet.
func (q *Queue) Pop() (*MediaPacket, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.n == 0 {
		return nil, false
	}
	p := q.items[q.head]
	q.items[q.head] = nil
	q.head = (q.head + 1) % len(q.items)
	q.n--
	return p, true
}

// Drain removes and returns every queued packet, oldest first.
func (q *Queue) Drain() []*MediaPacket {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*MediaPacket, 0, q.n)
	for q.n > 0 {
		out = append(out, q.items[q.head])
		q.items[q.head] = nil
		q.head = (q.head + 1) % len(q.items)
		q.n--
	}
	q.head = 0
	return out
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Depth returns the maximum number of queued packets.
func (q *Queue) Depth() int {
	return len(q.items)
}
