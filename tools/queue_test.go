package tools

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bt-bridge/realtime-voice/metrics"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu       sync.Mutex
	chunks   [][]byte
	stopped  int
	writeErr error
	delay    time.Duration
}

func (s *recordingSink) WriteChunk(pcm []byte) error {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.chunks = append(s.chunks, pcm)
	return nil
}

func (s *recordingSink) StopOutput() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return nil
}

func (s *recordingSink) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

func TestPlaybackQueueOverflowKeepsNewest(t *testing.T) {
	q := NewPlaybackQueue(nil, 2, nil)

	assert.False(t, q.Enqueue([]byte("A")))
	assert.False(t, q.Enqueue([]byte("B")))
	assert.True(t, q.Enqueue([]byte("C")))

	assert.Equal(t, [][]byte{[]byte("B"), []byte("C")}, q.Snapshot())
}

func TestPlaybackQueueDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultPlaybackQueueSize, NewPlaybackQueue(nil, 0, nil).Capacity())
	assert.Equal(t, 2, NewPlaybackQueue(nil, 2, nil).Capacity())
}

func TestPlaybackQueueHoldsMostRecentFrames(t *testing.T) {
	q := NewPlaybackQueue(nil, 64, nil)
	for i := range 100 {
		q.Enqueue([]byte{byte(i)})
	}

	frames := q.Snapshot()
	require.Len(t, frames, 64)
	assert.Equal(t, []byte{36}, frames[0])
	assert.Equal(t, []byte{99}, frames[63])
}

func TestPlaybackQueueIgnoresEmptyFrames(t *testing.T) {
	q := NewPlaybackQueue(nil, 2, nil)
	assert.False(t, q.Enqueue(nil))
	assert.False(t, q.Enqueue([]byte{}))
	assert.Equal(t, 0, q.Len())
}

func TestPlaybackQueueDequeueTimeout(t *testing.T) {
	q := NewPlaybackQueue(nil, 4, nil)

	start := time.Now()
	_, ok := q.Dequeue(30 * time.Millisecond)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)

	go func() {
		time.Sleep(10 * time.Millisecond)
		q.Enqueue([]byte("late"))
	}()
	frame, ok := q.Dequeue(time.Second)
	require.True(t, ok)
	assert.Equal(t, []byte("late"), frame)
}

func TestPlaybackQueueClear(t *testing.T) {
	q := NewPlaybackQueue(nil, 4, nil)
	q.Enqueue([]byte("a"))
	q.Enqueue([]byte("b"))

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Clear())
}

func TestPlaybackQueueWritesInOrder(t *testing.T) {
	m := metrics.New()
	q := NewPlaybackQueue(nil, 8, m)
	sink := &recordingSink{}
	require.NoError(t, q.Start(sink))
	assert.ErrorIs(t, q.Start(sink), shared.ErrSessionAlreadyRunning)

	q.Enqueue([]byte("1"))
	q.Enqueue([]byte("2"))
	q.Enqueue([]byte("3"))

	assert.Eventually(t, func() bool { return len(sink.written()) == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]byte{[]byte("1"), []byte("2"), []byte("3")}, sink.written())

	require.NoError(t, q.Stop(time.Second))
	assert.Equal(t, 1, sink.stopped)
	expected := `
# HELP realtime_voice_playback_frames_written_total Frames written to the output device.
# TYPE realtime_voice_playback_frames_written_total counter
realtime_voice_playback_frames_written_total 3
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "realtime_voice_playback_frames_written_total"))
}

func TestPlaybackQueueMutedDrainsWithoutWriting(t *testing.T) {
	q := NewPlaybackQueue(nil, 8, nil)
	sink := &recordingSink{}
	q.Mute()
	assert.True(t, q.Muted())
	require.NoError(t, q.Start(sink))

	for i := range 5 {
		q.Enqueue([]byte{byte(i)})
	}

	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.written())

	q.Unmute()
	q.Enqueue([]byte("x"))
	assert.Eventually(t, func() bool { return len(sink.written()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, q.Stop(time.Second))
}

func TestPlaybackQueueSurvivesSinkErrors(t *testing.T) {
	q := NewPlaybackQueue(nil, 8, nil)
	sink := &recordingSink{writeErr: errors.New("underrun")}
	require.NoError(t, q.Start(sink))

	q.Enqueue([]byte("a"))
	q.Enqueue([]byte("b"))
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, q.Stop(time.Second))
	select {
	case <-q.Done():
	default:
		t.Fatal("loop still running")
	}
}

func TestPlaybackQueueStopIsBounded(t *testing.T) {
	q := NewPlaybackQueue(nil, 8, nil)
	sink := &recordingSink{delay: 300 * time.Millisecond}
	require.NoError(t, q.Start(sink))
	q.Enqueue([]byte("slow"))
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	err := q.Stop(50 * time.Millisecond)
	assert.ErrorIs(t, err, shared.ErrPlayerStopTimeout)
	assert.Less(t, time.Since(start), 250*time.Millisecond)
	assert.Equal(t, 1, sink.stopped)

	<-q.Done()
	require.NoError(t, q.Stop(time.Second))
}

func TestPlaybackQueueDequeueLeavesPendingStop(t *testing.T) {
	q := NewPlaybackQueue(nil, 8, nil)
	sink := &recordingSink{delay: 150 * time.Millisecond}
	require.NoError(t, q.Start(sink))
	q.Enqueue([]byte("slow"))
	assert.Eventually(t, func() bool { return q.Len() == 0 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- q.Stop(2 * time.Second) }()
	assert.Eventually(t, func() bool { return q.Len() == 1 }, time.Second, time.Millisecond)

	pcm, ok := q.Dequeue(10 * time.Millisecond)
	assert.False(t, ok)
	assert.Nil(t, pcm)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, <-stopped)
	select {
	case <-q.Done():
	default:
		t.Fatal("loop still running")
	}
}

func TestPlaybackQueueStopBeforeStart(t *testing.T) {
	q := NewPlaybackQueue(nil, 8, nil)
	assert.NoError(t, q.Stop(time.Second))
}
