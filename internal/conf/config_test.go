package conf

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdir mimics testing.T.Chdir (Go 1.24+) for older toolchains: change
// into dir and restore the original working directory at cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Errorf("restoring working directory: %v", err)
		}
	})
}

func TestDefaultSettings(t *testing.T) {
	s := defaultSettings()
	require.NoError(t, s.Validate())

	assert.Equal(t, DefaultSampleRate, s.Audio.SampleRate)
	assert.Equal(t, DefaultChannels, s.Audio.Channels)
	assert.Equal(t, DefaultSampleFormat, s.Audio.SampleFormat)
	assert.Equal(t, 50*time.Millisecond, s.Engine.MaxMixJob)
	assert.Equal(t, 5*time.Millisecond, s.Engine.FenceDelay)
	assert.Equal(t, 256, s.Engine.PendingPoolSize)
	assert.Equal(t, RotationSize, s.Log.Rotation)
}

func TestSettingsValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }},
		{"zero channels", func(s *Settings) { s.Audio.Channels = 0 }},
		{"zero max mix job", func(s *Settings) { s.Engine.MaxMixJob = 0 }},
		{"negative fence delay", func(s *Settings) { s.Engine.FenceDelay = -time.Millisecond }},
		{"zero pool size", func(s *Settings) { s.Engine.PendingPoolSize = 0 }},
		{"bad rotation", func(s *Settings) { s.Log.Rotation = "hourly" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := defaultSettings()
			tc.mutate(s)
			require.Error(t, s.Validate())
		})
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultSampleRate, s.Audio.SampleRate)
}

func TestEnvOverride(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("CAPTUREMIX_AUDIO_SAMPLERATE", "44100")
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 44100, s.Audio.SampleRate)
}
