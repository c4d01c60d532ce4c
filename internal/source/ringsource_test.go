package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundspine/capturemix/internal/capture"
)

type fixedClock struct{ now int64 }

func (c *fixedClock) Now() int64 { return c.now }

var s16Mono = capture.Format{
	SampleFormat:    capture.SampleFormatSigned16,
	Channels:        1,
	FramesPerSecond: 48000,
}

func TestRingSource_FormatAndListeners(t *testing.T) {
	s := NewRingSource("test", &fixedClock{}, 100*time.Millisecond)
	assert.Equal(t, "test", s.ID())
	assert.Equal(t, capture.SourceTypeContinuous, s.Type())

	_, ok := s.Format()
	assert.False(t, ok)
	_, ok = s.Ring()
	assert.False(t, ok)

	notified := 0
	s.OnFormatChanged(func() { notified++ })

	require.NoError(t, s.SetFormat(s16Mono))
	assert.Equal(t, 1, notified)

	f, ok := s.Format()
	require.True(t, ok)
	assert.Equal(t, s16Mono, f)

	require.Error(t, s.SetFormat(capture.Format{}))
	assert.Equal(t, 1, notified)
}

func TestRingSource_StartAnchorsMapping(t *testing.T) {
	clock := &fixedClock{now: 250_000_000}
	s := NewRingSource("test", clock, 100*time.Millisecond)

	require.Error(t, s.Start()) // format must be set first

	require.NoError(t, s.SetFormat(s16Mono))
	require.NoError(t, s.Start())

	snap, ok := s.Ring()
	require.True(t, ok)
	assert.Equal(t, int64(4800), snap.Frames) // 100ms at 48kHz
	assert.Equal(t, 2, snap.BytesPerFrame)
	require.True(t, snap.MonoToFracFrames.Invertible())

	// At the anchor instant the write position is zero; 100ms later it is
	// 4800 frames on.
	pos, err := snap.MonoToFracFrames.Apply(clock.now)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos)
	pos, err = snap.MonoToFracFrames.Apply(clock.now + 100_000_000)
	require.NoError(t, err)
	assert.Equal(t, int64(capture.FracFromFrames(4800)), pos)
}

func TestRingSource_GenerationBumpsOnRestart(t *testing.T) {
	s := NewRingSource("test", &fixedClock{}, 100*time.Millisecond)
	require.NoError(t, s.SetFormat(s16Mono))
	require.NoError(t, s.Start())
	snap1, _ := s.Ring()
	require.NoError(t, s.Start())
	snap2, _ := s.Ring()
	assert.Greater(t, snap2.Generation, snap1.Generation)
}

func TestRingSource_WriteWrapsInPlace(t *testing.T) {
	s := NewRingSource("test", &fixedClock{}, time.Millisecond)
	require.NoError(t, s.SetFormat(s16Mono)) // 48 frame ring

	_, err := s.Write([]byte{0, 0})
	require.Error(t, err) // not started

	require.NoError(t, s.Start())

	// Write 60 frames of pattern into a 48 frame ring. Slot j must hold
	// the latest frame whose absolute position is congruent to j.
	frame := func(v int) []byte { return []byte{byte(v), byte(v >> 8)} }
	for v := 0; v < 60; v++ {
		n, err := s.Write(frame(v))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	}
	assert.Equal(t, int64(60), s.WriteFrame())

	snap, ok := s.Ring()
	require.True(t, ok)
	for j := int64(0); j < 48; j++ {
		want := j
		if j < 12 { // slots 0..11 were overwritten by frames 48..59
			want = j + 48
		}
		got := int64(snap.Buffer[j*2]) | int64(snap.Buffer[j*2+1])<<8
		assert.Equal(t, want, got, "slot %d", j)
	}
}

func TestRingSource_CarriesPartialFrames(t *testing.T) {
	s := NewRingSource("test", &fixedClock{}, time.Millisecond)
	require.NoError(t, s.SetFormat(s16Mono))
	require.NoError(t, s.Start())

	// One and a half frames: only the whole frame lands.
	_, err := s.Write([]byte{0x34, 0x12, 0x78})
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.WriteFrame())

	// The carried byte completes the second frame.
	_, err = s.Write([]byte{0x56})
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.WriteFrame())

	snap, _ := s.Ring()
	assert.Equal(t, []byte{0x34, 0x12}, snap.Buffer[0:2])
	assert.Equal(t, []byte{0x78, 0x56}, snap.Buffer[2:4])
}

func TestRingSource_SnapshotIsStable(t *testing.T) {
	s := NewRingSource("test", &fixedClock{}, time.Millisecond)
	require.NoError(t, s.SetFormat(s16Mono))
	require.NoError(t, s.Start())
	_, err := s.Write(make([]byte, 96))
	require.NoError(t, err)

	snap, ok := s.Ring()
	require.True(t, ok)
	// Later writes must not show through an already-taken snapshot.
	_, err = s.Write([]byte{0xff, 0xff})
	require.NoError(t, err)
	assert.Equal(t, byte(0), snap.Buffer[96%96])

	s.Stop()
	_, ok = s.Ring()
	assert.False(t, ok)
}
