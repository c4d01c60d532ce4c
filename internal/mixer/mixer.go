// Package mixer provides the resampling mixers a capture session uses to
// pull source frames out of ring buffers and accumulate them, gain-scaled,
// into the session's float32 scratch buffer.
//
// Two samplers are provided: a point sampler for links whose source and
// destination run at the same frame rate, and a linear interpolator for
// everything else. Selection happens lazily per link via Select.
package mixer

import (
	"encoding/binary"
	"math"

	"github.com/soundspine/capturemix/internal/capture"
	"github.com/soundspine/capturemix/internal/errors"
)

// sampleReader extracts one normalized sample from raw source bytes.
// Integer formats divide by 2^(bits-1), the exact inverse of the capture
// output producers.
type sampleReader func(src []byte, frame int64, channel int) float32

func newSampleReader(f capture.Format) (sampleReader, error) {
	channels := int64(f.Channels)
	switch f.SampleFormat {
	case capture.SampleFormatUnsigned8:
		return func(src []byte, frame int64, channel int) float32 {
			v := int(src[frame*channels+int64(channel)]) - 128
			return float32(v) / 128
		}, nil
	case capture.SampleFormatSigned16:
		return func(src []byte, frame int64, channel int) float32 {
			off := (frame*channels + int64(channel)) * 2
			v := int16(binary.LittleEndian.Uint16(src[off : off+2]))
			return float32(v) / 32768
		}, nil
	case capture.SampleFormatSigned24In32:
		return func(src []byte, frame int64, channel int) float32 {
			off := (frame*channels + int64(channel)) * 4
			v := int32(binary.LittleEndian.Uint32(src[off:off+4])) >> 8
			return float32(v) / (1 << 23)
		}, nil
	case capture.SampleFormatFloat32:
		return func(src []byte, frame int64, channel int) float32 {
			off := (frame*channels + int64(channel)) * 4
			return math.Float32frombits(binary.LittleEndian.Uint32(src[off : off+4]))
		}, nil
	default:
		return nil, errors.Newf("no sample reader for format %v", f.SampleFormat).
			Component("mixer").
			Category(errors.CategoryValidation).
			Build()
	}
}

// frameReader reads one whole source frame, already mapped onto the
// destination channel layout, into out (len = destination channels).
type frameReader func(src []byte, frame int64, out []float32)

// newFrameReader builds the channel mapping between source and destination
// layouts. Equal channel counts pass through; mono fans out to every
// destination channel; multichannel sources fold down to mono by average.
func newFrameReader(src, dst capture.Format) (frameReader, error) {
	read, err := newSampleReader(src)
	if err != nil {
		return nil, err
	}
	switch {
	case src.Channels == dst.Channels:
		return func(buf []byte, frame int64, out []float32) {
			for ch := range out {
				out[ch] = read(buf, frame, ch)
			}
		}, nil
	case src.Channels == 1:
		return func(buf []byte, frame int64, out []float32) {
			s := read(buf, frame, 0)
			for ch := range out {
				out[ch] = s
			}
		}, nil
	case dst.Channels == 1:
		scale := 1 / float32(src.Channels)
		return func(buf []byte, frame int64, out []float32) {
			var sum float32
			for ch := 0; ch < src.Channels; ch++ {
				sum += read(buf, frame, ch)
			}
			out[0] = sum * scale
		}, nil
	default:
		return nil, errors.Newf("unsupported channel mapping: %d -> %d",
			src.Channels, dst.Channels).
			Component("mixer").
			Category(errors.CategoryValidation).
			Context("source_channels", src.Channels).
			Context("dest_channels", dst.Channels).
			Build()
	}
}

// advance moves the fractional source position forward by one destination
// frame, carrying the rate-modulo remainder so sub-step error never
// accumulates.
func advance(pos capture.Frac, bk *capture.Bookkeeping) capture.Frac {
	pos += bk.StepSize
	if bk.RateModulo != 0 && bk.Denominator != 0 {
		bk.PosModulo += bk.RateModulo
		if bk.PosModulo >= bk.Denominator {
			bk.PosModulo -= bk.Denominator
			pos++
		}
	}
	return pos
}

// mixSample writes or accumulates one mapped frame into the destination.
func mixSample(dest []float32, frameBase int64, frame []float32, gain float32, accumulate bool) {
	if accumulate {
		for ch, s := range frame {
			dest[frameBase+int64(ch)] += s * gain
		}
	} else {
		for ch, s := range frame {
			dest[frameBase+int64(ch)] = s * gain
		}
	}
}
