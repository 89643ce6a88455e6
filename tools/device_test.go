package tools

import (
	"testing"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMalgoDeviceClosedWithoutOpen(t *testing.T) {
	d := NewMalgoDevice(nil, DeviceConfig{})
	assert.Equal(t, DefaultInputSampleRate, d.Config().InputSampleRate)
	assert.False(t, d.Closed())

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	assert.True(t, d.Closed())

	_, err := d.ReadChunk()
	assert.ErrorIs(t, err, shared.ErrDeviceClosed)
	assert.ErrorIs(t, d.WriteChunk([]byte{0, 0}), shared.ErrDeviceClosed)
	assert.ErrorIs(t, d.Open(), shared.ErrDeviceClosed)
	assert.NoError(t, d.StopOutput())

	var devErr *shared.DeviceError
	assert.ErrorAs(t, d.Open(), &devErr)
}

func TestMalgoDeviceWriteBeforeOpen(t *testing.T) {
	d := NewMalgoDevice(nil, DeviceConfig{})
	defer d.Close()
	assert.ErrorIs(t, d.WriteChunk([]byte{0, 0}), shared.ErrDeviceUnavailable)
}
