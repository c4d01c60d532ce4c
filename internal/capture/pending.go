package capture

import (
	"sync"

	"github.com/soundspine/capturemix/internal/errors"
)

// PendingCaptureBuffer tracks fill progress of one in-flight capture
// request (sync mode) or one auto-generated slot (async mode). A buffer
// lives in exactly one of the pending or finished lists, never both, and
// is owned by whichever list holds it; ownership transfers only while the
// queue lock is held.
type PendingCaptureBuffer struct {
	OffsetFrames     uint32
	NumFrames        uint32
	FilledFrames     uint32
	CaptureTimestamp int64
	Flags            PacketFlags
	Sequence         uint32
	Callback         func(Packet)
}

// packet converts the bookkeeping into its delivery form.
func (p *PendingCaptureBuffer) packet() Packet {
	return Packet{
		OffsetFrames:     p.OffsetFrames,
		NumFrames:        p.NumFrames,
		FilledFrames:     p.FilledFrames,
		CaptureTimestamp: p.CaptureTimestamp,
		Flags:            p.Flags,
		Sequence:         p.Sequence,
	}
}

// pendingPool is a bounded pool of PendingCaptureBuffer bookkeeping slots.
// Exhaustion surfaces as a resource error rather than an unbounded
// allocation on the capture path.
type pendingPool struct {
	mu       sync.Mutex
	free     []*PendingCaptureBuffer
	capacity int
	inUse    int
}

func newPendingPool(capacity int) *pendingPool {
	p := &pendingPool{capacity: capacity}
	p.free = make([]*PendingCaptureBuffer, 0, capacity)
	for i := 0; i < capacity; i++ {
		p.free = append(p.free, &PendingCaptureBuffer{})
	}
	return p
}

// Get takes a slot from the pool.
func (p *pendingPool) Get() (*PendingCaptureBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil, errors.Newf("pending capture buffer pool exhausted: capacity %d", p.capacity).
			Component("capture").
			Category(errors.CategoryResource).
			Context("capacity", p.capacity).
			Build()
	}
	buf := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse++
	*buf = PendingCaptureBuffer{CaptureTimestamp: NoTimestamp}
	return buf, nil
}

// Put returns a slot to the pool. Returning a foreign slot corrupts the
// accounting, so slots only ever flow Get -> queues -> Put.
func (p *pendingPool) Put(buf *PendingCaptureBuffer) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) < p.capacity {
		p.free = append(p.free, buf)
	}
	if p.inUse > 0 {
		p.inUse--
	}
}

// InUse returns the number of outstanding slots.
func (p *pendingPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}
