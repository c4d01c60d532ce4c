// Package conf handles capturemix configuration: defaults, an optional YAML
// config file and CAPTUREMIX_* environment overrides, all through viper.
package conf

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// Log rotation types
const (
	RotationDaily  = "daily"
	RotationWeekly = "weekly"
	RotationSize   = "size"
)

// AudioSettings holds the default capture format and device selection.
type AudioSettings struct {
	Device       string // capture device name, empty for system default
	SampleRate   int    // frames per second
	Channels     int
	SampleFormat string // "u8", "s16le", "s24le32", "f32le"
}

// EngineSettings holds tunables for the mixing engine.
type EngineSettings struct {
	MaxMixJob       time.Duration // wall-clock ceiling per mix job
	FenceDelay      time.Duration // assumed worst-case source fence delay
	PendingPoolSize int           // bookkeeping slots for in-flight capture buffers
}

// LogSettings holds logging output and rotation configuration.
type LogSettings struct {
	Level    string // "debug", "info", "warn", "error"
	File     string // log file path, empty for stdio only
	Rotation string // daily, weekly or size
	MaxSize  int64  // max log file size in bytes for size rotation
}

// MetricsSettings holds the Prometheus endpoint configuration.
type MetricsSettings struct {
	Enabled bool
	Listen  string // e.g. "0.0.0.0:9090"
}

// Settings is the root configuration object.
type Settings struct {
	Debug   bool
	Audio   AudioSettings
	Engine  EngineSettings
	Log     LogSettings
	Metrics MetricsSettings
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.Lock()
		defer settingsMutex.Unlock()
		if settingsInstance == nil {
			s, err := Load()
			if err != nil {
				// Fall back to defaults when no config file is present.
				s = defaultSettings()
			}
			settingsInstance = s
		}
	})
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// Load reads configuration from file and environment into a Settings struct.
func Load() (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/capturemix")
	v.AddConfigPath("/etc/capturemix")

	v.SetEnvPrefix("CAPTUREMIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !asConfigNotFound(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine, defaults plus env apply.
	}

	settings := defaultSettings()
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks that loaded settings are usable.
func (s *Settings) Validate() error {
	if s.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate: %d", s.Audio.SampleRate)
	}
	if s.Audio.Channels <= 0 {
		return fmt.Errorf("invalid channel count: %d", s.Audio.Channels)
	}
	if s.Engine.MaxMixJob <= 0 {
		return fmt.Errorf("invalid max mix job duration: %v", s.Engine.MaxMixJob)
	}
	if s.Engine.FenceDelay < 0 {
		return fmt.Errorf("invalid fence delay: %v", s.Engine.FenceDelay)
	}
	if s.Engine.PendingPoolSize <= 0 {
		return fmt.Errorf("invalid pending pool size: %d", s.Engine.PendingPoolSize)
	}
	switch s.Log.Rotation {
	case RotationDaily, RotationWeekly, RotationSize:
	default:
		return fmt.Errorf("unknown log rotation type: %q", s.Log.Rotation)
	}
	return nil
}

func asConfigNotFound(err error, target *viper.ConfigFileNotFoundError) bool {
	if e, ok := err.(viper.ConfigFileNotFoundError); ok {
		*target = e
		return true
	}
	return false
}
