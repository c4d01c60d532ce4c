package capture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundspine/capturemix/internal/errors"
)

var testFormat = Format{
	SampleFormat:    SampleFormatSigned16,
	Channels:        2,
	FramesPerSecond: 48000,
}

func TestNewPayloadBuffer_Geometry(t *testing.T) {
	// Smaller than one frame is rejected.
	_, err := NewPayloadBuffer(NewHeapRegion(3), testFormat)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	// A trailing partial frame is ignored.
	pb, err := NewPayloadBuffer(NewHeapRegion(4*10+2), testFormat)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), pb.Frames())
}

func TestPayloadBuffer_SliceBounds(t *testing.T) {
	pb, err := NewPayloadBuffer(NewHeapRegion(4*100), testFormat)
	require.NoError(t, err)

	data, err := pb.Slice(0, 100)
	require.NoError(t, err)
	assert.Len(t, data, 400)

	data, err = pb.Slice(90, 10)
	require.NoError(t, err)
	assert.Len(t, data, 40)

	_, err = pb.Slice(90, 11)
	require.Error(t, err)

	_, err = pb.Slice(0, 0)
	require.Error(t, err)
}

func TestPayloadBuffer_CloseExactlyOnce(t *testing.T) {
	region := NewHeapRegion(4 * 10)
	pb, err := NewPayloadBuffer(region, testFormat)
	require.NoError(t, err)

	require.NoError(t, pb.Close())
	require.NoError(t, pb.Close())
	assert.Nil(t, region.Bytes())
}
