package mixer

import "github.com/soundspine/capturemix/internal/capture"

// LinearSampler interpolates linearly between adjacent source frames.
// Selected whenever source and destination frame rates differ. A position
// with a nonzero fractional part needs the following frame too, so the
// sampler stops one frame short of the region end in that case and reports
// the region as not fully consumed.
type LinearSampler struct {
	read        frameReader
	dstChannels int64
	a, b, frame []float32
}

// NewLinearSampler builds a linear interpolator for the given format pair.
func NewLinearSampler(src, dst capture.Format) (*LinearSampler, error) {
	read, err := newFrameReader(src, dst)
	if err != nil {
		return nil, err
	}
	return &LinearSampler{
		read:        read,
		dstChannels: int64(dst.Channels),
		a:           make([]float32, dst.Channels),
		b:           make([]float32, dst.Channels),
		frame:       make([]float32, dst.Channels),
	}, nil
}

// Mix implements capture.Mixer.
func (m *LinearSampler) Mix(dest []float32, destFrames int64, destOffset *int64,
	source []byte, fracSourceFrames capture.Frac, fracSourceOffset *capture.Frac,
	accumulate bool, bk *capture.Bookkeeping) bool {

	sourceFrames := fracSourceFrames.Floor()
	pos := *fracSourceOffset
	idx := *destOffset
	for idx < destFrames && pos >= 0 && pos < fracSourceFrames {
		frame := pos.Floor()
		frac := pos.Fraction()
		if frac == 0 {
			m.read(source, frame, m.frame)
		} else {
			if frame+1 >= sourceFrames {
				// The interpolation partner is past the region end.
				break
			}
			m.read(source, frame, m.a)
			m.read(source, frame+1, m.b)
			t := float32(frac) / float32(capture.FracOne)
			for ch := range m.frame {
				m.frame[ch] = m.a[ch] + t*(m.b[ch]-m.a[ch])
			}
		}
		mixSample(dest, idx*m.dstChannels, m.frame, bk.GainScale, accumulate)
		pos = advance(pos, bk)
		idx++
	}
	*destOffset = idx
	*fracSourceOffset = pos
	return pos >= fracSourceFrames
}
