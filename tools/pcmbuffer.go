package tools

import (
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
)

// PCMBuffer is a bounded byte FIFO shared between a device callback and a
// blocking reader or writer. Blocking calls take a timeout so shutdown never
// waits on a stalled device.
type PCMBuffer struct {
	mu      sync.Mutex
	buffer  []byte
	cap     int
	closed  bool
	changed chan struct{}
}

func NewPCMBuffer(fixedCap int) *PCMBuffer {
	return &PCMBuffer{
		buffer:  make([]byte, 0, fixedCap),
		cap:     fixedCap,
		changed: make(chan struct{}),
	}
}

func (b *PCMBuffer) broadcastLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Write appends data, dropping the oldest bytes when over capacity. It never blocks.
func (b *PCMBuffer) Write(data []byte) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(data) == 0 {
		return 0
	}
	if len(data) >= b.cap {
		dropped = len(b.buffer) + len(data) - b.cap
		b.buffer = append(b.buffer[:0], data[len(data)-b.cap:]...)
		b.broadcastLocked()
		return dropped
	}
	if over := len(b.buffer) + len(data) - b.cap; over > 0 {
		b.buffer = append(b.buffer[:0], b.buffer[over:]...)
		dropped = over
	}
	b.buffer = append(b.buffer, data...)
	b.broadcastLocked()
	return dropped
}

// WriteWait appends data, waiting for free space. Data larger than the
// buffer is written in pieces.
func (b *PCMBuffer) WriteWait(data []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for len(data) > 0 {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return shared.ErrDeviceClosed
		}
		if free := b.cap - len(b.buffer); free > 0 {
			n := min(free, len(data))
			b.buffer = append(b.buffer, data[:n]...)
			data = data[n:]
			b.broadcastLocked()
			b.mu.Unlock()
			continue
		}
		wait := b.changed
		b.mu.Unlock()
		select {
		case <-wait:
		case <-timer.C:
			return shared.ErrDeviceTimeout
		}
	}
	return nil
}

// ReadFull blocks until len(p) bytes are buffered, then consumes them.
func (b *PCMBuffer) ReadFull(p []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return shared.ErrDeviceClosed
		}
		if len(b.buffer) >= len(p) {
			b.consumeLocked(p)
			b.mu.Unlock()
			return nil
		}
		wait := b.changed
		b.mu.Unlock()
		select {
		case <-wait:
		case <-timer.C:
			return shared.ErrDeviceTimeout
		}
	}
}

// ReadAvailable copies whatever is buffered into p and zero-fills the rest.
// It is meant for device callbacks that must never block.
func (b *PCMBuffer) ReadAvailable(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	if len(b.buffer) > 0 {
		n = b.consumeLocked(p)
	}
	clear(p[n:])
	return n
}

func (b *PCMBuffer) consumeLocked(p []byte) int {
	n := copy(p, b.buffer)
	b.buffer = append(b.buffer[:0], b.buffer[n:]...)
	b.broadcastLocked()
	return n
}

func (b *PCMBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Reset discards buffered bytes.
func (b *PCMBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buffer = b.buffer[:0]
	b.broadcastLocked()
}

// Close wakes every waiter; later blocking calls fail with ErrDeviceClosed.
func (b *PCMBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.broadcastLocked()
}
