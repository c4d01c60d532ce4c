package mixer

import "github.com/soundspine/capturemix/internal/capture"

// PointSampler copies source frames without interpolation. It is the
// cheapest mixer and, at unity gain with matching formats, reproduces
// source samples bit for bit. Selected when source and destination share a
// frame rate.
type PointSampler struct {
	read        frameReader
	dstChannels int64
	frame       []float32
}

// NewPointSampler builds a point sampler for the given format pair.
func NewPointSampler(src, dst capture.Format) (*PointSampler, error) {
	read, err := newFrameReader(src, dst)
	if err != nil {
		return nil, err
	}
	return &PointSampler{
		read:        read,
		dstChannels: int64(dst.Channels),
		frame:       make([]float32, dst.Channels),
	}, nil
}

// Mix implements capture.Mixer.
func (m *PointSampler) Mix(dest []float32, destFrames int64, destOffset *int64,
	source []byte, fracSourceFrames capture.Frac, fracSourceOffset *capture.Frac,
	accumulate bool, bk *capture.Bookkeeping) bool {

	pos := *fracSourceOffset
	idx := *destOffset
	for idx < destFrames && pos >= 0 && pos < fracSourceFrames {
		m.read(source, pos.Floor(), m.frame)
		mixSample(dest, idx*m.dstChannels, m.frame, bk.GainScale, accumulate)
		pos = advance(pos, bk)
		idx++
	}
	*destOffset = idx
	*fracSourceOffset = pos
	return pos >= fracSourceFrames
}
