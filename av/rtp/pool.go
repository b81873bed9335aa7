package rtp

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// BufferPool hands out a fixed number of preallocated media packets.
//
// Get fails with ErrNoBuffers once every packet is checked out; packets
// come back through Put once the transport has sent them or the queue has
// dropped them.
type BufferPool struct {
	mu       sync.Mutex
	free     []*MediaPacket
	count    int
	capacity int
}

// NewBufferPool creates count packets able to hold capacity frame bytes.
func NewBufferPool(count, capacity int) *BufferPool {
	bp := &BufferPool{
		free:     make([]*MediaPacket, 0, count),
		count:    count,
		capacity: capacity,
	}
	for i := 0; i < count; i++ {
		bp.free = append(bp.free, &MediaPacket{Payload: make([]byte, 0, capacity)})
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewBufferPool",
		"count":    count,
		"capacity": capacity,
	}).Debug("Media buffer pool created")
	return bp
}

// Get checks out an empty packet.
func (bp *BufferPool) Get() (*MediaPacket, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	n := len(bp.free)
	if n == 0 {
		return nil, ErrNoBuffers
	}
	p := bp.free[n-1]
	bp.free[n-1] = nil
	bp.free = bp.free[:n-1]
	p.Reset()
	return p, nil
}

// Put returns a packet to the pool. Packets beyond the pool size are
// discarded.
func (bp *BufferPool) Put(p *MediaPacket) {
	if p == nil {
		return
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.free) >= bp.count {
		logrus.WithFields(logrus.Fields{
			"function": "BufferPool.Put",
			"count":    bp.count,
		}).Warn("Buffer returned to a full pool")
		return
	}
	p.Reset()
	bp.free = append(bp.free, p)
}

// Available returns the number of packets ready to be checked out.
func (bp *BufferPool) Available() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.free)
}

// Capacity returns the frame byte capacity of each packet.
func (bp *BufferPool) Capacity() int {
	return bp.capacity
}
