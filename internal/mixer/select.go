package mixer

import "github.com/soundspine/capturemix/internal/capture"

// Select is the production capture.MixerSelector: matching frame rates get
// the point sampler, differing rates get the linear interpolator. Formats
// are validated here so the capture engine can treat selection failure as
// an improperly linked source.
func Select(src, dst capture.Format) (capture.Mixer, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	if src.FramesPerSecond == dst.FramesPerSecond {
		return NewPointSampler(src, dst)
	}
	return NewLinearSampler(src, dst)
}
