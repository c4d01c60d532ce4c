package capture

import (
	"encoding/binary"
	"math"

	"github.com/soundspine/capturemix/internal/errors"
)

// outputProducer converts normalized float32 samples from the mix scratch
// buffer into the destination sample format, writing directly into the
// payload buffer. Integer formats scale by 2^(bits-1) and clamp, the exact
// inverse of the mixers' sample readers, so a unity-gain pass through the
// engine reproduces source samples bit for bit.
type outputProducer func(dest []byte, src []float32)

// newOutputProducer selects a converter for the destination sample format.
func newOutputProducer(format Format) (outputProducer, error) {
	switch format.SampleFormat {
	case SampleFormatUnsigned8:
		return produceU8, nil
	case SampleFormatSigned16:
		return produceS16LE, nil
	case SampleFormatSigned24In32:
		return produceS24In32LE, nil
	case SampleFormatFloat32:
		return produceF32LE, nil
	default:
		return nil, errors.Newf("no output producer for sample format %v", format.SampleFormat).
			Component("capture").
			Category(errors.CategoryValidation).
			Build()
	}
}

func clampInt(v, lo, hi int64) int64 {
	if v > hi {
		return hi
	}
	if v < lo {
		return lo
	}
	return v
}

func produceU8(dest []byte, src []float32) {
	for i, v := range src {
		scaled := clampInt(int64(float64(v)*128), -128, 127)
		dest[i] = uint8(scaled + 128)
	}
}

func produceS16LE(dest []byte, src []float32) {
	for i, v := range src {
		scaled := clampInt(int64(float64(v)*32768), math.MinInt16, math.MaxInt16)
		binary.LittleEndian.PutUint16(dest[i*2:i*2+2], uint16(int16(scaled)))
	}
}

func produceS24In32LE(dest []byte, src []float32) {
	const scale = 1 << 23
	for i, v := range src {
		scaled := clampInt(int64(float64(v)*scale), -scale, scale-1)
		// 24 significant bits left-justified in the 32-bit container.
		binary.LittleEndian.PutUint32(dest[i*4:i*4+4], uint32(int32(scaled)<<8))
	}
}

func produceF32LE(dest []byte, src []float32) {
	for i, v := range src {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		binary.LittleEndian.PutUint32(dest[i*4:i*4+4], math.Float32bits(v))
	}
}
