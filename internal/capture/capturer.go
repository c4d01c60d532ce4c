package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundspine/capturemix/internal/errors"
	"github.com/soundspine/capturemix/internal/logging"
	"github.com/soundspine/capturemix/internal/observability"
)

// Engine tuning defaults, used when Config leaves the fields zero.
const (
	defaultMaxMixJob    = 50 * time.Millisecond
	defaultFenceDelay   = 5 * time.Millisecond
	defaultPendingSlots = 256
)

// Config carries the collaborators and tuning knobs for a capture session.
// SelectMixer is the only required field besides the client passed to
// NewCapturer; everything else has a production default.
type Config struct {
	// SelectMixer picks a resampling mixer for each source/destination
	// format pair. Required.
	SelectMixer MixerSelector

	// Clock drives mix scheduling. Defaults to a monotonic clock anchored
	// at session creation.
	Clock Clock

	// MaxMixJob caps the wall-clock span of audio produced by a single
	// mix pass, bounding worst-case latency.
	MaxMixJob time.Duration

	// FenceDelay is the safety margin behind "now" within which source
	// frames are not yet considered safely readable.
	FenceDelay time.Duration

	// PendingSlots bounds how many capture buffers may be in flight.
	PendingSlots int

	Logger  *slog.Logger
	Metrics *observability.CaptureMetrics
}

// Capturer is one capture session: it accepts a stream format and a shared
// payload buffer, then fills client-visible packets from its linked sources
// on a dedicated mix goroutine, delivering completions on a separate
// control goroutine.
//
// Operations that violate the session protocol (wrong state, double
// attach, unsupported calls) shut the whole session down; per-call
// validation failures are recoverable and leave the session running.
type Capturer struct {
	cfg     Config
	logger  *slog.Logger
	metrics *observability.CaptureMetrics
	clock   Clock
	client  Client

	selectMixer MixerSelector
	fenceDelay  int64 // nanoseconds
	maxMixJob   time.Duration

	state        atomic.Int32
	shuttingDown atomic.Bool
	shutdownOnce sync.Once

	// Session-scoped resources, written on the control path before the
	// session starts operating and read by the mix context afterward.
	sessionMu sync.Mutex
	format    Format
	formatSet bool
	payload   *PayloadBuffer
	scratch   []float32
	output    outputProducer

	maxFramesPerMix int64

	// qmu guards the pending/finished queues and everything that moves
	// with them. Held only for short bookkeeping sections, never while
	// mixing samples.
	qmu                  sync.Mutex
	pending              []*PendingCaptureBuffer
	finished             []*PendingCaptureBuffer
	nextSequence         uint32
	asyncFramesPerPacket uint32
	asyncNextOffset      uint32
	stopCallback         func()
	pool                 *pendingPool

	// lmu guards the ordered list of source links.
	lmu   sync.Mutex
	links []*SourceLink

	gain *Gain

	// Mix-context-only timeline bookkeeping. The destination timeline maps
	// produced frame numbers to monotonic nanoseconds; it is re-anchored
	// after every continuity break.
	framesToMono  TimelineFunction
	timelineGen   uint64
	frameCount    int64
	discontinuity bool

	mix *mixDomain
	ctl *controlDomain
}

// NewCapturer creates a session in the awaiting-buffer state and starts its
// mix and control goroutines.
func NewCapturer(cfg Config, client Client) (*Capturer, error) {
	if client == nil {
		return nil, errors.Newf("capture client is required").
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.SelectMixer == nil {
		return nil, errors.Newf("mixer selector is required").
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.Clock == nil {
		cfg.Clock = NewMonotonicClock()
	}
	if cfg.MaxMixJob <= 0 {
		cfg.MaxMixJob = defaultMaxMixJob
	}
	if cfg.FenceDelay <= 0 {
		cfg.FenceDelay = defaultFenceDelay
	}
	if cfg.PendingSlots <= 0 {
		cfg.PendingSlots = defaultPendingSlots
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ForService("capture")
	}

	c := &Capturer{
		cfg:           cfg,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		clock:         cfg.Clock,
		client:        client,
		selectMixer:   cfg.SelectMixer,
		fenceDelay:    int64(cfg.FenceDelay),
		maxMixJob:     cfg.MaxMixJob,
		pool:          newPendingPool(cfg.PendingSlots),
		gain:          NewGain(),
		discontinuity: true,
	}
	c.state.Store(int32(StateAwaitingBuffer))
	c.mix = newMixDomain(c.process)
	c.ctl = newControlDomain()
	c.mix.activate()
	c.ctl.activate()
	c.logger.Debug("capture session created",
		"pending_slots", cfg.PendingSlots,
		"max_mix_job", cfg.MaxMixJob,
		"fence_delay", cfg.FenceDelay)
	return c, nil
}

// State returns the session's current lifecycle state.
func (c *Capturer) State() State {
	return State(c.state.Load())
}

func (c *Capturer) setState(s State) {
	c.state.Store(int32(s))
}

// protocolViolation logs the violation, tears the session down, and returns
// the error to the caller. Control path only; never call while holding qmu.
func (c *Capturer) protocolViolation(operation string, err error) error {
	c.logger.Error("protocol violation; shutting down capture session",
		"operation", operation, "error", err)
	c.metrics.RecordShutdown("protocol_violation")
	c.Shutdown()
	return err
}

// fatalFromMix reports an unrecoverable mix-context failure. Shutdown runs
// on a fresh goroutine because it waits for the mix goroutine to drain, and
// the caller is that goroutine.
func (c *Capturer) fatalFromMix(err error) {
	c.logger.Error("fatal error in mix context; shutting down capture session",
		"error", err)
	c.metrics.RecordShutdown("mix_failure")
	go c.Shutdown()
}

// SetFormat sets the session's stream type. Only legal before the payload
// buffer is attached; once the session is operating the format is
// immutable and a late call is a protocol violation.
func (c *Capturer) SetFormat(f Format) error {
	if c.shuttingDown.Load() {
		return errShutDown("set_format")
	}
	if st := c.State(); st != StateAwaitingBuffer {
		return c.protocolViolation("set_format", errInvalidState("set_format", st))
	}
	if err := f.Validate(); err != nil {
		return err
	}
	c.sessionMu.Lock()
	c.format = f
	c.formatSet = true
	c.sessionMu.Unlock()
	c.logger.Info("stream format set",
		"sample_format", f.SampleFormat.String(),
		"channels", f.Channels,
		"frames_per_second", f.FramesPerSecond)
	return nil
}

// AttachBuffer maps the shared payload region and moves the session into
// synchronous operation. Attaching twice is a protocol violation; geometry
// problems with the region itself are recoverable validation errors.
func (c *Capturer) AttachBuffer(region Region) error {
	if c.shuttingDown.Load() {
		return errShutDown("attach_buffer")
	}
	if st := c.State(); st != StateAwaitingBuffer {
		return c.protocolViolation("attach_buffer", errInvalidState("attach_buffer", st))
	}
	c.sessionMu.Lock()
	if !c.formatSet {
		c.sessionMu.Unlock()
		return c.protocolViolation("attach_buffer",
			errors.Newf("payload buffer attached before stream format was set").
				Component(ComponentCapture).
				Category(errors.CategoryState).
				Build())
	}
	pb, err := NewPayloadBuffer(region, c.format)
	if err != nil {
		c.sessionMu.Unlock()
		return err
	}
	producer, err := newOutputProducer(c.format)
	if err != nil {
		c.sessionMu.Unlock()
		return err
	}
	c.payload = pb
	c.scratch = make([]float32, int64(pb.Frames())*int64(c.format.Channels))
	c.output = producer
	c.maxFramesPerMix = c.format.MaxFramesPerMix(c.maxMixJob)
	c.sessionMu.Unlock()

	c.setState(StateOperatingSync)
	c.logger.Info("payload buffer attached",
		"frames", pb.Frames(),
		"max_frames_per_mix", c.maxFramesPerMix)
	return nil
}

// Enqueue submits one capture request covering payload frames
// [offsetFrames, offsetFrames+numFrames). The optional callback overrides
// the client's OnPacketProduced for this request only. Requests complete
// strictly in submission order.
func (c *Capturer) Enqueue(offsetFrames, numFrames uint32, callback func(Packet)) error {
	if c.shuttingDown.Load() {
		return errShutDown("enqueue")
	}
	if st := c.State(); st != StateOperatingSync {
		return c.protocolViolation("enqueue", errInvalidState("enqueue", st))
	}
	if numFrames == 0 {
		return errors.Newf("capture request must cover at least one frame").
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Build()
	}
	if uint64(offsetFrames)+uint64(numFrames) > uint64(c.payload.Frames()) {
		return errors.Newf("capture request out of payload bounds: offset %d, frames %d, capacity %d",
			offsetFrames, numFrames, c.payload.Frames()).
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Context("offset_frames", offsetFrames).
			Context("num_frames", numFrames).
			Build()
	}
	p, err := c.pool.Get()
	if err != nil {
		return err
	}
	p.OffsetFrames = offsetFrames
	p.NumFrames = numFrames
	p.Callback = callback

	c.qmu.Lock()
	// StartAsync commits its transition under qmu, so the mode has to be
	// confirmed here too or a racing enqueue could slip a client buffer
	// into an async session.
	if st := c.State(); st != StateOperatingSync {
		c.qmu.Unlock()
		c.pool.Put(p)
		return c.protocolViolation("enqueue", errInvalidState("enqueue", st))
	}
	p.Sequence = c.nextSequence
	c.nextSequence++
	wasEmpty := len(c.pending) == 0
	c.pending = append(c.pending, p)
	depth := len(c.pending)
	c.qmu.Unlock()

	c.metrics.SetPendingDepth(depth)
	if wasEmpty {
		c.mix.signal()
	}
	return nil
}

// ReleaseBuffer is not part of this session's contract; payload regions are
// released exactly once at shutdown. Any call is a protocol violation.
func (c *Capturer) ReleaseBuffer() error {
	return c.protocolViolation("release_buffer",
		errors.Newf("release_buffer is not supported; the payload buffer is released at shutdown").
			Component(ComponentCapture).
			Category(errors.CategoryState).
			Build())
}

// Flush returns every in-flight buffer to the client immediately, finished
// and pending alike in queue order, at whatever fill level they reached,
// followed by an end-of-stream marker. Only legal in synchronous mode.
func (c *Capturer) Flush() error {
	if c.shuttingDown.Load() {
		return errShutDown("flush")
	}
	if st := c.State(); st != StateOperatingSync {
		return c.protocolViolation("flush", errInvalidState("flush", st))
	}

	c.qmu.Lock()
	flushed := make([]*PendingCaptureBuffer, 0, len(c.finished)+len(c.pending))
	flushed = append(flushed, c.finished...)
	flushed = append(flushed, c.pending...)
	c.finished = nil
	c.pending = nil
	c.qmu.Unlock()

	c.metrics.SetPendingDepth(0)
	if len(flushed) > 0 {
		c.ctl.post(func() {
			for _, p := range flushed {
				c.deliverPacket(p, "sync")
			}
			c.client.OnEndOfStream()
		})
	}
	// Let the mix loop notice the empty queue and drop its timeline anchor.
	c.mix.signal()
	return nil
}

// StartAsync switches the session to asynchronous operation, in which the
// engine generates fixed-size packets on its own, ping-ponging through the
// payload buffer. Failures reject the call without changing state.
func (c *Capturer) StartAsync(framesPerPacket uint32) error {
	if c.shuttingDown.Load() {
		return errShutDown("start_async")
	}

	c.qmu.Lock()
	if st := c.State(); st != StateOperatingSync {
		c.qmu.Unlock()
		return errInvalidState("start_async", st)
	}
	if len(c.pending) != 0 || len(c.finished) != 0 {
		c.qmu.Unlock()
		return errors.Newf("cannot start async capture with buffers in flight").
			Component(ComponentCapture).
			Category(errors.CategoryState).
			Build()
	}
	capacity := c.payload.Frames()
	if framesPerPacket == 0 || framesPerPacket > capacity/2 {
		c.qmu.Unlock()
		return errors.Newf("async packet size %d frames does not leave room for two packets in a %d frame buffer",
			framesPerPacket, capacity).
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Context("frames_per_packet", framesPerPacket).
			Context("payload_frames", capacity).
			Build()
	}
	c.asyncFramesPerPacket = framesPerPacket
	c.asyncNextOffset = 0
	c.setState(StateOperatingAsync)
	c.qmu.Unlock()

	c.logger.Info("async capture started", "frames_per_packet", framesPerPacket)
	c.mix.signal()
	return nil
}

// StopAsync requests a return to synchronous operation. The stop is
// processed on the mix context: partially filled buffers with content are
// delivered, empty ones are discarded, then the callback fires on the
// control context. Stopping a session that is already synchronous (or
// already stopping) is a harmless no-op whose callback still fires.
func (c *Capturer) StopAsync(callback func()) error {
	if c.shuttingDown.Load() {
		return errShutDown("stop_async")
	}
	for {
		st := c.State()
		switch st {
		case StateOperatingAsync:
			c.qmu.Lock()
			if c.State() != StateOperatingAsync {
				c.qmu.Unlock()
				continue
			}
			c.stopCallback = callback
			c.setState(StateStopping)
			c.qmu.Unlock()
			c.mix.signal()
			return nil
		case StateOperatingSync, StateStopping, StateStoppingCallbackPending:
			if callback != nil {
				c.ctl.post(callback)
			}
			return nil
		default:
			return c.protocolViolation("stop_async", errInvalidState("stop_async", st))
		}
	}
}

// SetGainDb sets the session's stream-stage gain in decibels.
func (c *Capturer) SetGainDb(db float64) error {
	if c.shuttingDown.Load() {
		return errShutDown("set_gain")
	}
	return c.gain.SetStreamGainDb(db)
}

// SetMute mutes or unmutes the session's output.
func (c *Capturer) SetMute(muted bool) error {
	if c.shuttingDown.Load() {
		return errShutDown("set_mute")
	}
	c.gain.SetMute(muted)
	return nil
}

// AddSource links an upstream source into the session's mix. Sources may be
// linked at any point before shutdown; a source whose format is not yet
// known is admitted and skipped until it reports one.
func (c *Capturer) AddSource(source Source) (*SourceLink, error) {
	if c.shuttingDown.Load() {
		return nil, errShutDown("add_source")
	}
	if source == nil {
		return nil, errors.Newf("source is required").
			Component(ComponentCapture).
			Category(errors.CategoryValidation).
			Build()
	}
	link := newSourceLink(source)
	c.lmu.Lock()
	c.links = append(c.links, link)
	count := len(c.links)
	c.lmu.Unlock()
	c.logger.Info("source linked", "source_id", source.ID(), "links", count)
	return link, nil
}

// RemoveSource unlinks a source. Unknown links are ignored.
func (c *Capturer) RemoveSource(link *SourceLink) {
	if link == nil {
		return
	}
	c.lmu.Lock()
	for i, l := range c.links {
		if l == link {
			c.links = append(c.links[:i], c.links[i+1:]...)
			break
		}
	}
	c.lmu.Unlock()
}

// snapshotLinks copies the link list for one mix pass so mixing never runs
// under the link lock.
func (c *Capturer) snapshotLinks() []*SourceLink {
	c.lmu.Lock()
	defer c.lmu.Unlock()
	out := make([]*SourceLink, len(c.links))
	copy(out, c.links)
	return out
}

// Shutdown tears the session down exactly once: the mix goroutine is
// stopped first so nothing touches the payload mapping afterward, then the
// terminal state is published, queued buffers are reclaimed, the mapping is
// released, and finally the control goroutine drains and exits.
func (c *Capturer) Shutdown() {
	c.shutdownOnce.Do(func() {
		c.shuttingDown.Store(true)
		c.mix.deactivate()
		c.setState(StateShutDown)

		c.qmu.Lock()
		reclaimed := make([]*PendingCaptureBuffer, 0, len(c.finished)+len(c.pending))
		reclaimed = append(reclaimed, c.finished...)
		reclaimed = append(reclaimed, c.pending...)
		c.finished = nil
		c.pending = nil
		c.stopCallback = nil
		c.qmu.Unlock()
		for _, p := range reclaimed {
			c.pool.Put(p)
		}
		c.metrics.SetPendingDepth(0)

		c.lmu.Lock()
		c.links = nil
		c.lmu.Unlock()

		c.sessionMu.Lock()
		if c.payload != nil {
			if err := c.payload.Close(); err != nil {
				c.logger.Warn("payload region close failed", "error", err)
			}
		}
		c.scratch = nil
		c.sessionMu.Unlock()

		c.ctl.deactivate()
		c.logger.Info("capture session shut down")
	})
}

// deliverPacket hands one buffer to the client and reclaims its slot.
// Control context only.
func (c *Capturer) deliverPacket(p *PendingCaptureBuffer, mode string) {
	pkt := p.packet()
	if p.Callback != nil {
		p.Callback(pkt)
	} else {
		c.client.OnPacketProduced(pkt)
	}
	c.metrics.RecordPacket(mode, int64(pkt.FilledFrames))
	c.pool.Put(p)
}

// deliverFinished drains the finished queue to the client in completion
// order. Control context only.
func (c *Capturer) deliverFinished() {
	c.qmu.Lock()
	finished := c.finished
	c.finished = nil
	c.qmu.Unlock()

	mode := "sync"
	if st := c.State(); st == StateOperatingAsync || st == StateStopping ||
		st == StateStoppingCallbackPending {
		mode = "async"
	}
	for _, p := range finished {
		c.deliverPacket(p, mode)
	}
}
