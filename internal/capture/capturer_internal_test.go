package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soundspine/capturemix/internal/errors"
)

type stillClock struct{}

func (stillClock) Now() int64 { return 0 }

type nullClient struct{}

func (nullClient) OnPacketProduced(Packet) {}
func (nullClient) OnEndOfStream()          {}

// A sync enqueue that passes its fast state check while StartAsync is
// committing the async transition must still be rejected: the mode is
// confirmed again under the queue lock, so no client buffer can slip into
// an async session.
func TestEnqueue_ModeConfirmedUnderQueueLock(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, err := NewCapturer(Config{
		SelectMixer: func(src, dst Format) (Mixer, error) { return nil, nil },
		Clock:       stillClock{},
	}, nullClient{})
	require.NoError(t, err)
	t.Cleanup(c.Shutdown)

	f := Format{SampleFormat: SampleFormatSigned16, Channels: 1, FramesPerSecond: 48000}
	require.NoError(t, c.SetFormat(f))
	require.NoError(t, c.AttachBuffer(NewHeapRegion(1000*f.BytesPerFrame())))

	// Hold the queue lock so the enqueue blocks after its fast check,
	// then commit the async transition the way StartAsync does before
	// releasing the lock.
	c.qmu.Lock()
	result := make(chan error, 1)
	go func() { result <- c.Enqueue(0, 480, nil) }()
	time.Sleep(20 * time.Millisecond)
	c.asyncFramesPerPacket = 480
	c.setState(StateOperatingAsync)
	c.qmu.Unlock()

	err = <-result
	require.Error(t, err)
	assert.True(t, errors.IsState(err))
	assert.Equal(t, StateShutDown, c.State())
}
