package tools

import (
	"testing"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPCMBufferWriteDropsOldest(t *testing.T) {
	b := NewPCMBuffer(4)

	assert.Equal(t, 0, b.Write([]byte{1, 2, 3}))
	assert.Equal(t, 2, b.Write([]byte{4, 5, 6}))
	assert.Equal(t, 4, b.Len())

	p := make([]byte, 4)
	require.NoError(t, b.ReadFull(p, 10*time.Millisecond))
	assert.Equal(t, []byte{3, 4, 5, 6}, p)

	assert.Equal(t, 2, b.Write([]byte{7, 8, 9, 10, 11, 12}))
	require.NoError(t, b.ReadFull(p, 10*time.Millisecond))
	assert.Equal(t, []byte{9, 10, 11, 12}, p)
}

func TestPCMBufferReadFullWaitsForData(t *testing.T) {
	b := NewPCMBuffer(16)
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Write([]byte{1, 2})
		time.Sleep(10 * time.Millisecond)
		b.Write([]byte{3, 4})
	}()

	p := make([]byte, 4)
	require.NoError(t, b.ReadFull(p, time.Second))
	assert.Equal(t, []byte{1, 2, 3, 4}, p)
}

func TestPCMBufferReadFullTimeout(t *testing.T) {
	b := NewPCMBuffer(16)
	b.Write([]byte{1})

	err := b.ReadFull(make([]byte, 2), 20*time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrDeviceTimeout)
	assert.Equal(t, 1, b.Len())
}

func TestPCMBufferCloseWakesReader(t *testing.T) {
	b := NewPCMBuffer(16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.ReadFull(make([]byte, 4), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, shared.ErrDeviceClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not woken by Close")
	}
	assert.Equal(t, 0, b.Write([]byte{1}))
}

func TestPCMBufferReadAvailableZeroFills(t *testing.T) {
	b := NewPCMBuffer(16)
	b.Write([]byte{7, 7})

	p := []byte{1, 1, 1, 1}
	assert.Equal(t, 2, b.ReadAvailable(p))
	assert.Equal(t, []byte{7, 7, 0, 0}, p)

	assert.Equal(t, 0, b.ReadAvailable(p))
	assert.Equal(t, []byte{0, 0, 0, 0}, p)
}

func TestPCMBufferWriteWait(t *testing.T) {
	b := NewPCMBuffer(4)
	done := make(chan error, 1)
	go func() {
		done <- b.WriteWait([]byte{1, 2, 3, 4, 5, 6}, time.Second)
	}()

	p := make([]byte, 2)
	require.NoError(t, b.ReadFull(p, time.Second))
	assert.Equal(t, []byte{1, 2}, p)
	require.NoError(t, <-done)

	rest := make([]byte, 4)
	require.NoError(t, b.ReadFull(rest, time.Second))
	assert.Equal(t, []byte{3, 4, 5, 6}, rest)
}

func TestPCMBufferWriteWaitTimeout(t *testing.T) {
	b := NewPCMBuffer(2)
	err := b.WriteWait([]byte{1, 2, 3}, 20*time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrDeviceTimeout)

	b.Reset()
	assert.Equal(t, 0, b.Len())
	b.Close()
	assert.ErrorIs(t, b.WriteWait([]byte{1}, time.Second), shared.ErrDeviceClosed)
}
