package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Engine defaults. MaxMixJob bounds the worst-case latency of a single mix
// pass; FenceDelay is the assumed time a source needs after "now" before its
// latest samples are stable.
const (
	DefaultSampleRate      = 48000
	DefaultChannels        = 2
	DefaultSampleFormat    = "s16le"
	DefaultMaxMixJob       = 50 * time.Millisecond
	DefaultFenceDelay      = 5 * time.Millisecond
	DefaultPendingPoolSize = 256
)

// setDefaults registers default values with viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("audio.device", "")
	v.SetDefault("audio.samplerate", DefaultSampleRate)
	v.SetDefault("audio.channels", DefaultChannels)
	v.SetDefault("audio.sampleformat", DefaultSampleFormat)

	v.SetDefault("engine.maxmixjob", DefaultMaxMixJob)
	v.SetDefault("engine.fencedelay", DefaultFenceDelay)
	v.SetDefault("engine.pendingpoolsize", DefaultPendingPoolSize)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.rotation", RotationSize)
	v.SetDefault("log.maxsize", int64(100*1024*1024))

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9190")
}

// defaultSettings returns a Settings struct populated with defaults.
func defaultSettings() *Settings {
	return &Settings{
		Debug: false,
		Audio: AudioSettings{
			SampleRate:   DefaultSampleRate,
			Channels:     DefaultChannels,
			SampleFormat: DefaultSampleFormat,
		},
		Engine: EngineSettings{
			MaxMixJob:       DefaultMaxMixJob,
			FenceDelay:      DefaultFenceDelay,
			PendingPoolSize: DefaultPendingPoolSize,
		},
		Log: LogSettings{
			Level:    "info",
			Rotation: RotationSize,
			MaxSize:  100 * 1024 * 1024,
		},
		Metrics: MetricsSettings{
			Enabled: false,
			Listen:  "127.0.0.1:9190",
		},
	}
}
