package capture_test

import (
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/errors"
	"github.com/soundspine/capturemix/internal/mixer"
)

// autoClock advances a fixed step on every reading until it hits its
// limit, then freezes. The mix loop sees time marching forward pass by
// pass, so frames become due without any real waiting, while the limit
// keeps the loop from producing unboundedly.
type autoClock struct {
	mu    sync.Mutex
	now   int64
	step  int64
	limit int64
}

func newAutoClock(step, limit time.Duration) *autoClock {
	return &autoClock{step: int64(step), limit: int64(limit)}
}

func (c *autoClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.now+c.step <= c.limit {
		c.now += c.step
	}
	return c.now
}

// frozenClock never advances, so nothing is ever due.
type frozenClock struct{}

func (frozenClock) Now() int64 { return 0 }

// testSource is a capture.Source with a fixed, pre-filled ring.
type testSource struct {
	id        string
	mu        sync.Mutex
	format    capture.Format
	hasFormat bool
	snap      capture.RingSnapshot
	hasRing   bool
	listeners []func()
}

func (s *testSource) ID() string               { return s.id }
func (s *testSource) Type() capture.SourceType { return capture.SourceTypeContinuous }

func (s *testSource) Format() (capture.Format, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format, s.hasFormat
}

func (s *testSource) Ring() (capture.RingSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.hasRing
}

func (s *testSource) OnFormatChanged(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// newPatternSource builds a mono s16le source whose ring slot j holds the
// sample value j, anchored so fractional position 0 is written at time 0.
// With ringFrames below 2^15 every slot value is distinct, so output can
// be located in the pattern from its first sample alone.
func newPatternSource(id string, rate int, ringFrames int64) *testSource {
	f := capture.Format{
		SampleFormat:    capture.SampleFormatSigned16,
		Channels:        1,
		FramesPerSecond: rate,
	}
	buf := make([]byte, ringFrames*2)
	for j := int64(0); j < ringFrames; j++ {
		binary.LittleEndian.PutUint16(buf[j*2:j*2+2], uint16(int16(j)))
	}
	return &testSource{
		id:        id,
		format:    f,
		hasFormat: true,
		snap: capture.RingSnapshot{
			Buffer:           buf,
			BytesPerFrame:    2,
			Frames:           ringFrames,
			MonoToFracFrames: f.FracFrameTimeline(0, 0),
			Generation:       1,
		},
		hasRing: true,
	}
}

type fakeClient struct {
	mu      sync.Mutex
	packets []capture.Packet
	eos     int
}

func (c *fakeClient) OnPacketProduced(p capture.Packet) {
	c.mu.Lock()
	c.packets = append(c.packets, p)
	c.mu.Unlock()
}

func (c *fakeClient) OnEndOfStream() {
	c.mu.Lock()
	c.eos++
	c.mu.Unlock()
}

func (c *fakeClient) snapshot() ([]capture.Packet, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]capture.Packet(nil), c.packets...), c.eos
}

var monoFormat = capture.Format{
	SampleFormat:    capture.SampleFormatSigned16,
	Channels:        1,
	FramesPerSecond: 48000,
}

// newTestCapturer builds an operating session over a heap region of
// bufFrames mono s16le frames.
func newTestCapturer(t *testing.T, clock capture.Clock, client capture.Client,
	bufFrames int) (*capture.Capturer, *capture.HeapRegion) {
	t.Helper()
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select,
		Clock:       clock,
		MaxMixJob:   50 * time.Millisecond,
		FenceDelay:  5 * time.Millisecond,
	}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	require.NoError(t, c.SetFormat(monoFormat))
	region := capture.NewHeapRegion(bufFrames * monoFormat.BytesPerFrame())
	require.NoError(t, c.AttachBuffer(region))
	require.Equal(t, capture.StateOperatingSync, c.State())
	return c, region
}

func TestCapturer_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select,
		Clock:       frozenClock{},
	}, client)
	require.NoError(t, err)
	assert.Equal(t, capture.StateAwaitingBuffer, c.State())

	require.NoError(t, c.SetFormat(monoFormat))
	require.NoError(t, c.AttachBuffer(capture.NewHeapRegion(2000)))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	c.Shutdown()
	assert.Equal(t, capture.StateShutDown, c.State())
	c.Shutdown()
	assert.Equal(t, capture.StateShutDown, c.State())

	// Everything after shutdown fails without reviving the session.
	err = c.Enqueue(0, 10, nil)
	require.Error(t, err)
	assert.True(t, errors.IsState(err))
	require.Error(t, c.Flush())
	require.Error(t, c.StartAsync(100))
	require.Error(t, c.SetGainDb(-6))
	_, err = c.AddSource(newPatternSource("late", 48000, 100))
	require.Error(t, err)
}

func TestCapturer_RequiredCollaborators(t *testing.T) {
	_, err := capture.NewCapturer(capture.Config{SelectMixer: mixer.Select}, nil)
	require.Error(t, err)
	_, err = capture.NewCapturer(capture.Config{}, &fakeClient{})
	require.Error(t, err)
}

func TestSetFormat_Validation(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select, Clock: frozenClock{}}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	// A bad format is rejected without any state change.
	err = c.SetFormat(capture.Format{SampleFormat: capture.SampleFormatSigned16})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateAwaitingBuffer, c.State())

	// The format may be revised while still awaiting the buffer.
	require.NoError(t, c.SetFormat(monoFormat))
	require.NoError(t, c.SetFormat(monoFormat))
}

func TestSetFormat_AfterOperationIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	err := c.SetFormat(monoFormat)
	require.Error(t, err)
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestAttachBuffer_BeforeFormatIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select, Clock: frozenClock{}}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	err = c.AttachBuffer(capture.NewHeapRegion(2000))
	require.Error(t, err)
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestAttachBuffer_GeometryErrorIsRecoverable(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select, Clock: frozenClock{}}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)
	require.NoError(t, c.SetFormat(monoFormat))

	// Region smaller than one frame: rejected, still awaiting the buffer.
	err = c.AttachBuffer(capture.NewHeapRegion(1))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateAwaitingBuffer, c.State())

	require.NoError(t, c.AttachBuffer(capture.NewHeapRegion(2000)))
	assert.Equal(t, capture.StateOperatingSync, c.State())
}

func TestAttachBuffer_ReattachIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	err := c.AttachBuffer(capture.NewHeapRegion(2000))
	require.Error(t, err)
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestReleaseBuffer_AlwaysFatal(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	require.Error(t, c.ReleaseBuffer())
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestEnqueue_Bounds(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	// 990+20 runs past the end of a 1000-frame buffer.
	err := c.Enqueue(990, 20, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// Zero-length requests are rejected the same way.
	err = c.Enqueue(0, 0, nil)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// 980+20 fits exactly.
	require.NoError(t, c.Enqueue(980, 20, nil))
}

func TestEnqueue_PoolExhaustionIsRecoverable(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer:  mixer.Select,
		Clock:        frozenClock{},
		PendingSlots: 2,
	}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	require.NoError(t, c.SetFormat(monoFormat))
	require.NoError(t, c.AttachBuffer(capture.NewHeapRegion(2000*monoFormat.BytesPerFrame())))

	// Nothing completes under a frozen clock, so both bookkeeping slots
	// stay in flight.
	require.NoError(t, c.Enqueue(0, 480, nil))
	require.NoError(t, c.Enqueue(480, 480, nil))

	err = c.Enqueue(960, 480, nil)
	require.Error(t, err)
	assert.True(t, errors.IsResource(err))

	// Exhaustion is a per-call failure, not a protocol violation.
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// Flushing hands the buffers back and returns their slots, after
	// which new requests are admitted again.
	require.NoError(t, c.Flush())
	require.Eventually(t, func() bool {
		return c.Enqueue(0, 480, nil) == nil
	}, 2*time.Second, time.Millisecond)
}

func TestEnqueue_WrongStateIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select, Clock: frozenClock{}}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	err = c.Enqueue(0, 10, nil)
	require.Error(t, err)
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestStartAsync_Admission(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	// Zero frames per packet carries no meaning.
	err := c.StartAsync(0)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// 600-frame packets cannot ping-pong in a 1000-frame buffer.
	err = c.StartAsync(600)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// Buffers in flight also block the switch, without shutting down.
	require.NoError(t, c.Enqueue(0, 1000, nil))
	err = c.StartAsync(400)
	require.Error(t, err)
	assert.True(t, errors.IsState(err))
	assert.Equal(t, capture.StateOperatingSync, c.State())

	// After a flush the same geometry is accepted: 400-frame packets
	// leave room for two in a 1000-frame buffer.
	require.NoError(t, c.Flush())
	require.NoError(t, c.StartAsync(400))
	assert.Equal(t, capture.StateOperatingAsync, c.State())
}

func TestStartAsync_PingPongsThroughBuffer(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 300*time.Millisecond)
	c, _ := newTestCapturer(t, clock, client, 1000)

	require.NoError(t, c.StartAsync(400))
	require.Eventually(t, func() bool {
		packets, _ := client.snapshot()
		return len(packets) >= 4
	}, 2*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	require.NoError(t, c.StopAsync(func() { close(stopped) }))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback never fired")
	}

	packets, eos := client.snapshot()
	require.GreaterOrEqual(t, len(packets), 4)
	assert.Equal(t, 1, eos)
	for i, p := range packets {
		assert.Equal(t, uint32(i%2)*400, p.OffsetFrames, "packet %d", i)
		assert.Equal(t, uint32(400), p.NumFrames, "packet %d", i)
		if i == 0 {
			assert.NotZero(t, p.Flags&capture.FlagDiscontinuous)
		} else {
			assert.Zero(t, p.Flags&capture.FlagDiscontinuous, "packet %d", i)
		}
	}
	// Sequence numbers are strictly increasing.
	for i := 1; i < len(packets); i++ {
		assert.Greater(t, packets[i].Sequence, packets[i-1].Sequence)
	}
	require.Eventually(t, func() bool {
		return c.State() == capture.StateOperatingSync
	}, 2*time.Second, time.Millisecond)
}

func TestStopAsync_WhileSyncIsBenign(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	stopped := make(chan struct{})
	require.NoError(t, c.StopAsync(func() { close(stopped) }))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback never fired")
	}
	assert.Equal(t, capture.StateOperatingSync, c.State())
	_, eos := client.snapshot()
	assert.Zero(t, eos)
}

func TestStopAsync_BeforeOperationIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, err := capture.NewCapturer(capture.Config{
		SelectMixer: mixer.Select, Clock: frozenClock{}}, client)
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	err = c.StopAsync(nil)
	require.Error(t, err)
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestStopAsync_DeliversPartialDiscardsEmpty(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 300*time.Millisecond)
	c, _ := newTestCapturer(t, clock, client, 20000)

	// 9600-frame packets take 200ms each; the clock freezes at 300ms, so
	// the head buffer ends up partially filled.
	require.NoError(t, c.StartAsync(9600))
	require.Eventually(t, func() bool {
		return clock.Now() == int64(300*time.Millisecond)
	}, 2*time.Second, time.Millisecond)

	stopped := make(chan struct{})
	require.NoError(t, c.StopAsync(func() { close(stopped) }))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback never fired")
	}

	packets, eos := client.snapshot()
	assert.Equal(t, 1, eos)
	require.NotEmpty(t, packets)
	for _, p := range packets {
		assert.Positive(t, p.FilledFrames)
	}
	last := packets[len(packets)-1]
	assert.Less(t, last.FilledFrames, last.NumFrames, "head buffer should be partial")
}

func TestStopAsync_DiscardsEntirelyEmptyBuffers(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	// With a frozen clock no frame ever becomes due, so the generated
	// slot stays empty and is discarded at stop.
	require.NoError(t, c.StartAsync(400))
	stopped := make(chan struct{})
	require.NoError(t, c.StopAsync(func() { close(stopped) }))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback never fired")
	}

	packets, eos := client.snapshot()
	assert.Empty(t, packets)
	assert.Equal(t, 1, eos)
	require.Eventually(t, func() bool {
		return c.State() == capture.StateOperatingSync
	}, 2*time.Second, time.Millisecond)
}

func TestFlush_DeliversEverythingInOrder(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	require.NoError(t, c.Enqueue(0, 1000, nil))
	require.NoError(t, c.Enqueue(0, 500, nil))
	require.NoError(t, c.Enqueue(500, 500, nil))

	require.NoError(t, c.Flush())
	require.Eventually(t, func() bool {
		_, eos := client.snapshot()
		return eos == 1
	}, 2*time.Second, time.Millisecond)

	packets, eos := client.snapshot()
	require.Len(t, packets, 3)
	assert.Equal(t, 1, eos)
	for i := 1; i < len(packets); i++ {
		assert.Greater(t, packets[i].Sequence, packets[i-1].Sequence)
	}
	// Untouched buffers come back empty and without a timestamp.
	for _, p := range packets {
		assert.Zero(t, p.FilledFrames)
		assert.Equal(t, capture.NoTimestamp, p.CaptureTimestamp)
	}

	// A second flush with nothing in flight delivers nothing.
	require.NoError(t, c.Flush())
	time.Sleep(20 * time.Millisecond)
	packets, eos = client.snapshot()
	assert.Len(t, packets, 3)
	assert.Equal(t, 1, eos)
}

func TestFlush_WhileAsyncIsFatal(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	require.NoError(t, c.StartAsync(400))
	require.Error(t, c.Flush())
	assert.Equal(t, capture.StateShutDown, c.State())
}

func TestSyncCapture_UnityGainIsBitExact(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 10*time.Second)
	c, region := newTestCapturer(t, clock, client, 1000)

	src := newPatternSource("pattern", 48000, 8000)
	_, err := c.AddSource(src)
	require.NoError(t, err)

	require.NoError(t, c.Enqueue(0, 480, nil))
	require.Eventually(t, func() bool {
		packets, _ := client.snapshot()
		return len(packets) == 1
	}, 2*time.Second, time.Millisecond)

	packets, _ := client.snapshot()
	p := packets[0]
	assert.Equal(t, uint32(480), p.FilledFrames)
	assert.NotZero(t, p.Flags&capture.FlagDiscontinuous)
	assert.Positive(t, p.CaptureTimestamp)

	// At unity gain with matching formats the engine must reproduce the
	// source pattern exactly. Locate the window from the first sample.
	data := region.Bytes()
	first := int64(int16(binary.LittleEndian.Uint16(data[0:2])))
	require.GreaterOrEqual(t, first, int64(0))
	require.Less(t, first, int64(8000))
	for i := int64(0); i < 480; i++ {
		want := int16((first + i) % 8000)
		got := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		require.Equal(t, want, got, "frame %d", i)
	}
}

func TestSyncCapture_ResamplingBridgesRingWrap(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 10*time.Second)
	c, region := newTestCapturer(t, clock, client, 18000)

	// Half-rate source: the linear sampler reads each frame and its
	// successor, so the pass that reaches the ring's top has to bridge
	// the wrap to keep every destination frame mixed.
	src := newPatternSource("pattern", 24000, 9600)
	_, err := c.AddSource(src)
	require.NoError(t, err)

	require.NoError(t, c.Enqueue(0, 17000, nil))
	require.Eventually(t, func() bool {
		packets, _ := client.snapshot()
		return len(packets) == 1
	}, 5*time.Second, time.Millisecond)

	packets, _ := client.snapshot()
	require.Equal(t, uint32(17000), packets[0].FilledFrames)

	// Even frames sample the pattern directly; odd frames land halfway
	// between neighbours and truncate to the lower value, except across
	// the wrap, where the pattern's top and bottom meet.
	data := region.Bytes()
	first := int64(int16(binary.LittleEndian.Uint16(data[0:2])))
	require.GreaterOrEqual(t, first, int64(0))
	require.Less(t, first, int64(9600))
	wrapped := 0
	for i := int64(0); i < 17000; i++ {
		var want int16
		if i%2 == 0 {
			want = int16((first + i/2) % 9600)
		} else {
			a := (first + (i-1)/2) % 9600
			if a == 9599 {
				want = (9599 + 0) / 2
				wrapped++
			} else {
				want = int16(a)
			}
		}
		got := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		require.Equal(t, want, got, "frame %d", i)
	}
	// The request must actually have spanned the seam.
	require.Equal(t, 1, wrapped)
}

func TestMutedSessionProducesSilence(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 10*time.Second)
	c, region := newTestCapturer(t, clock, client, 1000)

	src := newPatternSource("pattern", 48000, 8000)
	_, err := c.AddSource(src)
	require.NoError(t, err)
	require.NoError(t, c.SetMute(true))

	require.NoError(t, c.Enqueue(0, 480, nil))
	require.Eventually(t, func() bool {
		packets, _ := client.snapshot()
		return len(packets) == 1
	}, 2*time.Second, time.Millisecond)

	data := region.Bytes()
	for i := 0; i < 480*2; i++ {
		require.Zero(t, data[i], "byte %d", i)
	}
}

func TestSilencedLinkContributesNothing(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 10*time.Second)
	c, region := newTestCapturer(t, clock, client, 1000)

	audible := newPatternSource("audible", 48000, 8000)
	_, err := c.AddSource(audible)
	require.NoError(t, err)

	silenced := newPatternSource("silenced", 48000, 8000)
	link, err := c.AddSource(silenced)
	require.NoError(t, err)
	link.Gain().SetMute(true)

	require.NoError(t, c.Enqueue(0, 480, nil))
	require.Eventually(t, func() bool {
		packets, _ := client.snapshot()
		return len(packets) == 1
	}, 2*time.Second, time.Millisecond)

	// Output must be exactly the audible source's pattern, with no
	// residue from the silenced one.
	data := region.Bytes()
	first := int64(int16(binary.LittleEndian.Uint16(data[0:2])))
	require.GreaterOrEqual(t, first, int64(0))
	require.Less(t, first, int64(8000))
	for i := int64(0); i < 480; i++ {
		want := int16((first + i) % 8000)
		got := int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
		require.Equal(t, want, got, "frame %d", i)
	}
}

func TestEnqueue_CompletionsArriveInOrder(t *testing.T) {
	client := &fakeClient{}
	clock := newAutoClock(100*time.Millisecond, 10*time.Second)
	c, _ := newTestCapturer(t, clock, client, 2000)

	var mu sync.Mutex
	var order []uint32
	callback := func(p capture.Packet) {
		mu.Lock()
		order = append(order, p.Sequence)
		mu.Unlock()
	}
	require.NoError(t, c.Enqueue(0, 480, callback))
	require.NoError(t, c.Enqueue(480, 480, callback))
	require.NoError(t, c.Enqueue(960, 480, callback))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i], order[i-1])
	}
	// Per-request callbacks replace the client notification entirely.
	packets, _ := client.snapshot()
	assert.Empty(t, packets)
}

func TestRemoveSource(t *testing.T) {
	client := &fakeClient{}
	c, _ := newTestCapturer(t, frozenClock{}, client, 1000)

	src := newPatternSource("pattern", 48000, 8000)
	link, err := c.AddSource(src)
	require.NoError(t, err)
	c.RemoveSource(link)
	c.RemoveSource(link) // unknown links are ignored
	c.RemoveSource(nil)
}
