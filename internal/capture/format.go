package capture

import (
	"time"

	"github.com/soundspine/capturemix/internal/errors"
)

// SampleFormat identifies the in-memory representation of a single sample.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatUnsigned8
	SampleFormatSigned16
	SampleFormatSigned24In32 // 24 significant bits in a 32-bit container
	SampleFormatFloat32
)

// String returns the config-file spelling of the sample format.
func (sf SampleFormat) String() string {
	switch sf {
	case SampleFormatUnsigned8:
		return "u8"
	case SampleFormatSigned16:
		return "s16le"
	case SampleFormatSigned24In32:
		return "s24le32"
	case SampleFormatFloat32:
		return "f32le"
	default:
		return "unknown"
	}
}

// BytesPerSample returns the storage size of one sample, or 0 if unknown.
func (sf SampleFormat) BytesPerSample() int {
	switch sf {
	case SampleFormatUnsigned8:
		return 1
	case SampleFormatSigned16:
		return 2
	case SampleFormatSigned24In32, SampleFormatFloat32:
		return 4
	default:
		return 0
	}
}

// ParseSampleFormat parses the config-file spelling of a sample format.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "u8":
		return SampleFormatUnsigned8, nil
	case "s16le":
		return SampleFormatSigned16, nil
	case "s24le32":
		return SampleFormatSigned24In32, nil
	case "f32le":
		return SampleFormatFloat32, nil
	default:
		return SampleFormatUnknown, errors.Newf("unknown sample format: %q", s).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
}

// Frame rate and channel bounds accepted by Format.Validate.
const (
	MinFramesPerSecond = 1000
	MaxFramesPerSecond = 192000
	MaxChannels        = 8
)

// Format describes a PCM stream type. It is set once before a capture
// session begins operating and is immutable afterward.
type Format struct {
	SampleFormat    SampleFormat
	Channels        int
	FramesPerSecond int
}

// BytesPerFrame returns the storage size of one frame.
func (f Format) BytesPerFrame() int {
	return f.SampleFormat.BytesPerSample() * f.Channels
}

// Validate checks the format against the accepted parameter ranges.
func (f Format) Validate() error {
	if f.SampleFormat.BytesPerSample() == 0 {
		return errors.Newf("invalid sample format: %d", f.SampleFormat).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
	if f.Channels < 1 || f.Channels > MaxChannels {
		return errors.Newf("invalid channel count: %d", f.Channels).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("channels", f.Channels).
			Build()
	}
	if f.FramesPerSecond < MinFramesPerSecond || f.FramesPerSecond > MaxFramesPerSecond {
		return errors.Newf("invalid frame rate: %d", f.FramesPerSecond).
			Component("capture").
			Category(errors.CategoryValidation).
			Context("frames_per_second", f.FramesPerSecond).
			Build()
	}
	return nil
}

// MaxFramesPerMix returns the frame count corresponding to the wall-clock
// ceiling for a single mix job. This bounds worst-case mixing latency.
func (f Format) MaxFramesPerMix(ceiling time.Duration) int64 {
	frames := int64(f.FramesPerSecond) * int64(ceiling) / int64(time.Second)
	if frames < 1 {
		frames = 1
	}
	return frames
}

// FrameTimeline returns the rational rate mapping frames of this format to
// monotonic nanoseconds, anchored so that frame refFrame occurs at refTime.
func (f Format) FrameTimeline(refFrame, refTime int64) TimelineFunction {
	num, den := reduceRatio(uint64(time.Second), uint64(f.FramesPerSecond))
	return TimelineFunction{
		SubjectTime:    refTime,
		ReferenceTime:  refFrame,
		SubjectDelta:   uint32(num),
		ReferenceDelta: uint32(den),
	}
}

// FracFrameTimeline returns the rational rate mapping monotonic nanoseconds
// to fractional frame positions of this format, anchored so that position
// refFrac is written at refTime. This is the shape of mapping a source
// publishes in its ring snapshots.
func (f Format) FracFrameTimeline(refFrac Frac, refTime int64) TimelineFunction {
	num, den := reduceRatio(uint64(f.FramesPerSecond)<<FracBits, uint64(time.Second))
	return TimelineFunction{
		SubjectTime:    int64(refFrac),
		ReferenceTime:  refTime,
		SubjectDelta:   uint32(num),
		ReferenceDelta: uint32(den),
	}
}
