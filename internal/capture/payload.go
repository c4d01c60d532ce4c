package capture

import (
	"math"
	"sync"

	"github.com/soundspine/capturemix/internal/errors"
)

// Region is a shared memory region a client hands to the capturer as the
// payload buffer. The capturer owns the mapping for the life of the
// session: it is mapped once on attach and released exactly once during
// shutdown.
type Region interface {
	// Bytes returns the mapped contents. Valid until Close.
	Bytes() []byte
	// Close releases the mapping. Must be idempotent.
	Close() error
}

// HeapRegion is a Region backed by ordinary heap memory.
type HeapRegion struct {
	mu   sync.Mutex
	data []byte
}

// NewHeapRegion allocates a zeroed heap-backed region of the given size.
func NewHeapRegion(size int) *HeapRegion {
	return &HeapRegion{data: make([]byte, size)}
}

// Bytes returns the region contents, or nil after Close.
func (r *HeapRegion) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data
}

// Close releases the backing memory.
func (r *HeapRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = nil
	return nil
}

// PayloadBuffer is a bounds-checked view over the mapped payload region.
// All access is by frame offset and length validated against the frame
// capacity; nothing hands out positions past the region.
type PayloadBuffer struct {
	region        Region
	data          []byte
	frames        uint32
	bytesPerFrame int
	closeOnce     sync.Once
	closeErr      error
}

// NewPayloadBuffer validates the region geometry against the session
// format and wraps it. The region must hold at least one frame, the frame
// count must fit in 32 bits, and partial trailing frames are ignored.
func NewPayloadBuffer(region Region, format Format) (*PayloadBuffer, error) {
	bytesPerFrame := format.BytesPerFrame()
	if bytesPerFrame <= 0 {
		return nil, errors.Newf("format has no frame size").
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	data := region.Bytes()
	if len(data) < bytesPerFrame {
		return nil, errors.Newf("payload region smaller than one frame: %d bytes", len(data)).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("byte_size", len(data)).
			Context("bytes_per_frame", bytesPerFrame).
			Build()
	}
	frames := uint64(len(data)) / uint64(bytesPerFrame)
	if frames > math.MaxUint32 {
		return nil, errors.Newf("payload region too large: %d frames", frames).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("frames", frames).
			Build()
	}
	return &PayloadBuffer{
		region:        region,
		data:          data,
		frames:        uint32(frames),
		bytesPerFrame: bytesPerFrame,
	}, nil
}

// Frames returns the frame capacity of the buffer.
func (pb *PayloadBuffer) Frames() uint32 {
	return pb.frames
}

// Slice returns the byte range covering [offsetFrames, offsetFrames+numFrames).
func (pb *PayloadBuffer) Slice(offsetFrames uint32, numFrames int64) ([]byte, error) {
	if numFrames <= 0 || uint64(offsetFrames)+uint64(numFrames) > uint64(pb.frames) {
		return nil, errors.Newf("payload range out of bounds: offset %d, frames %d, capacity %d",
			offsetFrames, numFrames, pb.frames).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	start := int64(offsetFrames) * int64(pb.bytesPerFrame)
	end := start + numFrames*int64(pb.bytesPerFrame)
	return pb.data[start:end], nil
}

// Close releases the underlying region exactly once.
func (pb *PayloadBuffer) Close() error {
	pb.closeOnce.Do(func() {
		pb.data = nil
		pb.closeErr = pb.region.Close()
	})
	return pb.closeErr
}
