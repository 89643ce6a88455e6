package tools

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/realtime-voice/metrics"
	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

const (
	DefaultPlaybackQueueSize   = 64
	DefaultDequeueTimeout      = 100 * time.Millisecond
	DefaultPlaybackJoinTimeout = time.Second
)

// AudioSink receives decoded PCM for playback.
type AudioSink interface {
	WriteChunk(pcm []byte) error
	StopOutput() error
}

type queueEntry struct {
	pcm  []byte
	stop bool
}

// PlaybackQueue decouples the network receive path from the output device.
// Enqueue never blocks: when full, the oldest pending frame is evicted so
// playback latency stays bounded.
type PlaybackQueue struct {
	logger   shared.LoggerAdapter
	metrics  *metrics.Metrics
	capacity int
	timeout  time.Duration

	mu      sync.Mutex
	entries []queueEntry
	notify  chan struct{}

	muted    atomic.Bool
	started  bool
	stopOnce sync.Once
	done     chan struct{}
	sink     AudioSink
}

func NewPlaybackQueue(logger shared.LoggerAdapter, capacity int, m *metrics.Metrics) *PlaybackQueue {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	if capacity <= 0 {
		capacity = DefaultPlaybackQueueSize
	}
	return &PlaybackQueue{
		logger:   logger,
		metrics:  m,
		capacity: capacity,
		timeout:  DefaultDequeueTimeout,
		entries:  make([]queueEntry, 0, capacity),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *PlaybackQueue) Capacity() int {
	return q.capacity
}

// Enqueue adds one frame and reports whether an older frame was evicted.
// Empty frames are ignored.
func (q *PlaybackQueue) Enqueue(pcm []byte) (dropped bool) {
	if len(pcm) == 0 {
		return false
	}
	dropped = q.push(queueEntry{pcm: pcm})
	q.metrics.FrameEnqueued(dropped)
	if dropped {
		q.logger.Debug("playback queue full, dropped oldest frame", zap.Int("capacity", q.capacity))
	}
	return dropped
}

func (q *PlaybackQueue) push(e queueEntry) (dropped bool) {
	q.mu.Lock()
	if len(q.entries) >= q.capacity {
		// The stop sentinel is never evicted.
		for i, old := range q.entries {
			if !old.stop {
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				dropped = true
				break
			}
		}
	}
	q.entries = append(q.entries, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pop removes the head entry. With keepStop the stop sentinel is reported
// but left in place for the consumer loop.
func (q *PlaybackQueue) pop(keepStop bool) (queueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	e := q.entries[0]
	if e.stop && keepStop {
		select {
		case q.notify <- struct{}{}:
		default:
		}
		return e, true
	}
	q.entries[0] = queueEntry{}
	q.entries = q.entries[1:]
	return e, true
}

func (q *PlaybackQueue) dequeue(timeout time.Duration, keepStop bool) (queueEntry, bool) {
	if e, ok := q.pop(keepStop); ok {
		return e, true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.notify:
			if e, ok := q.pop(keepStop); ok {
				return e, true
			}
		case <-timer.C:
			return q.pop(keepStop)
		}
	}
}

// Dequeue waits up to timeout for the next frame. It never consumes a
// pending stop, so Stop still reaches the consumer loop.
func (q *PlaybackQueue) Dequeue(timeout time.Duration) ([]byte, bool) {
	e, ok := q.dequeue(timeout, true)
	if !ok || e.stop {
		return nil, false
	}
	return e.pcm, true
}

// Clear drops every pending frame and returns how many were dropped.
func (q *PlaybackQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.stop {
			kept = append(kept, e)
			continue
		}
		n++
	}
	clear(q.entries[len(kept):])
	q.entries = kept
	return n
}

func (q *PlaybackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Snapshot returns the pending frames, oldest first.
func (q *PlaybackQueue) Snapshot() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.entries))
	for _, e := range q.entries {
		if !e.stop {
			out = append(out, e.pcm)
		}
	}
	return out
}

func (q *PlaybackQueue) Mute() { q.muted.Store(true) }

func (q *PlaybackQueue) Unmute() { q.muted.Store(false) }

func (q *PlaybackQueue) Muted() bool { return q.muted.Load() }

// Start launches the consumer loop writing frames to sink.
func (q *PlaybackQueue) Start(sink AudioSink) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sink == nil {
		return errors.New("sink is required")
	}
	if q.started {
		return shared.ErrSessionAlreadyRunning
	}
	q.started = true
	q.sink = sink
	go q.loop()
	return nil
}

func (q *PlaybackQueue) loop() {
	defer close(q.done)
	q.logger.Info("playback loop started")
	for {
		e, ok := q.dequeue(q.timeout, false)
		if !ok {
			continue
		}
		if e.stop {
			q.logger.Info("playback loop stopped")
			return
		}
		if q.muted.Load() {
			q.metrics.FrameDiscarded()
			continue
		}
		if err := q.sink.WriteChunk(e.pcm); err != nil {
			q.logger.Error("writing playback frame", err)
			continue
		}
		q.metrics.FrameWritten()
	}
}

// Stop posts the stop sentinel, waits up to timeout for the loop to exit
// and stops the sink's output. Safe to call more than once.
func (q *PlaybackQueue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	started := q.started
	sink := q.sink
	q.mu.Unlock()
	if !started {
		return nil
	}
	q.stopOnce.Do(func() {
		q.push(queueEntry{stop: true})
	})
	var err error
	select {
	case <-q.done:
	case <-time.After(timeout):
		err = shared.ErrPlayerStopTimeout
		q.logger.Warn("playback loop did not stop in time", zap.Duration("timeout", timeout))
	}
	if stopErr := sink.StopOutput(); stopErr != nil {
		q.logger.Error("stopping audio output", stopErr)
		if err == nil {
			err = stopErr
		}
	}
	return err
}

// Done is closed once the consumer loop has exited.
func (q *PlaybackQueue) Done() <-chan struct{} {
	return q.done
}
