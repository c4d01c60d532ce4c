package capture

import "time"

// Clock supplies monotonically non-decreasing time in nanoseconds. It is an
// injection point so tests can drive the mix loop deterministically.
type Clock interface {
	Now() int64
}

// MonotonicClock is the production Clock, based on the runtime's monotonic
// reading of time.Since.
type MonotonicClock struct {
	epoch time.Time
}

// NewMonotonicClock returns a Clock anchored at the moment of the call.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{epoch: time.Now()}
}

// Now returns nanoseconds elapsed since the clock was created.
func (c *MonotonicClock) Now() int64 {
	return int64(time.Since(c.epoch))
}

// Fractional frame positions carry FracBits fractional bits so resamplers
// can address sub-frame source read positions without floating point.
const (
	FracBits = 13
	FracOne  = Frac(1) << FracBits
	FracMask = FracOne - 1
)

// Frac is a fixed-point fractional frame position.
type Frac int64

// FracFromFrames converts a whole frame count to a fractional position.
func FracFromFrames(frames int64) Frac {
	return Frac(frames) << FracBits
}

// Floor returns the whole-frame part of the position.
func (f Frac) Floor() int64 {
	return int64(f >> FracBits)
}

// Fraction returns the sub-frame part of the position.
func (f Frac) Fraction() Frac {
	return f & FracMask
}

// Bookkeeping holds the per-link rate-conversion state a Mixer consumes and
// updates. The (StepSize, RateModulo, Denominator) triple expresses the
// exact fractional source advance per destination frame; PosModulo is the
// running remainder that prevents cumulative rate-conversion drift.
type Bookkeeping struct {
	StepSize    Frac
	RateModulo  uint64
	Denominator uint64
	PosModulo   uint64

	// GainScale is the linear scale for this link's combined gain,
	// refreshed before every mix invocation.
	GainScale float32

	// Cached generations; the link's transform is recomputed when either
	// goes stale.
	destGen   uint64
	sourceGen uint64
}

// Mixer accumulates resampled source samples into a float32 scratch buffer.
// Implementations must report whether they consumed the entire supplied
// source region (true) or stopped because the destination filled (false).
type Mixer interface {
	Mix(dest []float32, destFrames int64, destOffset *int64,
		source []byte, fracSourceFrames Frac, fracSourceOffset *Frac,
		accumulate bool, bk *Bookkeeping) bool
}

// MixerSelector picks a Mixer for a source/destination format pair. It is
// invoked lazily, once both formats are known.
type MixerSelector func(src, dst Format) (Mixer, error)

// SourceType distinguishes mixing strategies.
type SourceType int

const (
	// SourceTypeContinuous marks ring-buffer backed sources that are
	// mixed by the capture loop.
	SourceTypeContinuous SourceType = iota
	// SourceTypePacket marks packet-backed sources, which are excluded
	// from the continuous mixing strategy.
	SourceTypePacket
)

// RingSnapshot is a stable view of a source's ring buffer taken for one
// mixing pass.
type RingSnapshot struct {
	// Buffer is the entire ring, Frames*BytesPerFrame long.
	Buffer        []byte
	BytesPerFrame int
	Frames        int64

	// MonoToFracFrames maps monotonic nanoseconds to the fractional
	// source frame position written at that instant.
	MonoToFracFrames TimelineFunction

	// Generation changes whenever the mapping above is re-anchored.
	Generation uint64
}

// Source is an upstream audio producer a capturer can link to.
type Source interface {
	ID() string
	Type() SourceType

	// Format returns the source's stream type, with ok=false until it
	// is known. A link to a source with no format yet is admitted and
	// silently skipped during mixing.
	Format() (Format, bool)

	// Ring returns a snapshot of the source's ring buffer, with
	// ok=false if the source has no usable ring yet.
	Ring() (RingSnapshot, bool)

	// OnFormatChanged registers interest in the source's format. The
	// callback may fire on any goroutine.
	OnFormatChanged(fn func())
}

// PacketFlags annotate a delivered packet.
type PacketFlags uint32

// FlagDiscontinuous marks the first packet produced after stream
// continuity was broken (startup, flush, async stop).
const FlagDiscontinuous PacketFlags = 1 << 0

// NoTimestamp is the CaptureTimestamp of a packet that was delivered before
// any of its frames were produced (for example by a flush).
const NoTimestamp = int64(-1) << 62

// Packet describes a completed (or flushed) region of the payload buffer.
type Packet struct {
	OffsetFrames     uint32
	NumFrames        uint32
	FilledFrames     uint32
	CaptureTimestamp int64
	Flags            PacketFlags
	Sequence         uint32
}

// Client receives capture notifications on the control context. Callbacks
// are posted fire-and-forget from the mix context and must not call back
// into the Capturer synchronously with blocking expectations.
type Client interface {
	OnPacketProduced(p Packet)
	OnEndOfStream()
}
