// Package source provides the upstream audio producers a capture session
// links to: a positional ring buffer any producer can write into, and a
// hardware capture device that feeds one.
package source

import (
	"sync"
	"time"

	"github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/errors"
)

// RingSource is a continuous source backed by a positional ring buffer.
// Writers append PCM frames; the ring keeps the most recent window and a
// rational mapping from monotonic time to the fractional frame position
// being written at that instant, so readers can locate any safely
// readable frame by time alone.
type RingSource struct {
	id           string
	clock        capture.Clock
	ringDuration time.Duration

	mu            sync.RWMutex
	format        capture.Format
	formatSet     bool
	ring          []byte
	frames        int64
	bytesPerFrame int
	carry         []byte
	writeFrame    int64
	monoToFrac    capture.TimelineFunction
	generation    uint64
	started       bool
	listeners     []func()
}

// NewRingSource creates a ring source with no format yet. The ring itself
// is allocated when the format becomes known, sized to hold ringDuration
// of audio.
func NewRingSource(id string, clock capture.Clock, ringDuration time.Duration) *RingSource {
	if clock == nil {
		clock = capture.NewMonotonicClock()
	}
	if ringDuration <= 0 {
		ringDuration = 500 * time.Millisecond
	}
	return &RingSource{
		id:           id,
		clock:        clock,
		ringDuration: ringDuration,
	}
}

// ID implements capture.Source.
func (s *RingSource) ID() string {
	return s.id
}

// Type implements capture.Source.
func (s *RingSource) Type() capture.SourceType {
	return capture.SourceTypeContinuous
}

// SetFormat declares the stream type of the frames this source produces
// and (re)allocates the ring. Registered format listeners are notified so
// downstream links re-select their mixers.
func (s *RingSource) SetFormat(f capture.Format) error {
	if err := f.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	frames := int64(f.FramesPerSecond) * int64(s.ringDuration) / int64(time.Second)
	if frames < 1 {
		frames = 1
	}
	s.format = f
	s.formatSet = true
	s.bytesPerFrame = f.BytesPerFrame()
	s.frames = frames
	s.ring = make([]byte, frames*int64(s.bytesPerFrame))
	s.carry = nil
	s.writeFrame = 0
	s.started = false
	s.monoToFrac = capture.TimelineFunction{}
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Format implements capture.Source.
func (s *RingSource) Format() (capture.Format, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.format, s.formatSet
}

// OnFormatChanged implements capture.Source.
func (s *RingSource) OnFormatChanged(fn func()) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Start anchors the time-to-position mapping at the current instant and
// makes the ring visible to readers. Restarting re-anchors and bumps the
// snapshot generation so readers discard cached rate state.
func (s *RingSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.formatSet {
		return errors.Newf("source %s started before its format was set", s.id).
			Component("source").
			Category(errors.CategoryState).
			Build()
	}
	s.monoToFrac = s.format.FracFrameTimeline(
		capture.FracFromFrames(s.writeFrame), s.clock.Now())
	s.generation++
	s.started = true
	return nil
}

// Stop hides the ring from readers. Written frames are retained.
func (s *RingSource) Stop() {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// Write appends PCM bytes at the current write position, wrapping in
// place. A trailing partial frame is carried over and completed by the
// next write.
func (s *RingSource) Write(data []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return 0, errors.Newf("source %s is not started", s.id).
			Component("source").
			Category(errors.CategoryState).
			Build()
	}

	buf := data
	if len(s.carry) > 0 {
		buf = append(s.carry, data...)
	}
	whole := int64(len(buf)) / int64(s.bytesPerFrame) * int64(s.bytesPerFrame)
	s.carry = append([]byte(nil), buf[whole:]...)
	buf = buf[:whole]

	for len(buf) > 0 {
		pos := (s.writeFrame % s.frames) * int64(s.bytesPerFrame)
		n := copy(s.ring[pos:], buf)
		s.writeFrame += int64(n) / int64(s.bytesPerFrame)
		buf = buf[n:]
	}
	return len(data), nil
}

// WriteFrame returns the absolute frame position of the next write.
func (s *RingSource) WriteFrame() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeFrame
}

// Ring implements capture.Source. The snapshot carries a copy of the ring
// contents so a mixing pass never races concurrent writes.
func (s *RingSource) Ring() (capture.RingSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || !s.formatSet {
		return capture.RingSnapshot{}, false
	}
	return capture.RingSnapshot{
		Buffer:           append([]byte(nil), s.ring...),
		BytesPerFrame:    s.bytesPerFrame,
		Frames:           s.frames,
		MonoToFracFrames: s.monoToFrac,
		Generation:       s.generation,
	}, true
}
