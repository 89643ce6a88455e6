package tools

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/gen2brain/malgo"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000
	DefaultChunkDuration    = 20 * time.Millisecond
	DefaultCaptureBuffer    = time.Second
	DefaultPlaybackBuffer   = 500 * time.Millisecond
	DefaultDeviceIOTimeout  = 2 * time.Second
)

// AudioDevice is a mono PCM16 capture and playback pair.
type AudioDevice interface {
	AudioSink
	Open() error
	ReadChunk() ([]byte, error)
	Close() error
}

type DeviceConfig struct {
	InputSampleRate  int
	OutputSampleRate int
	ChunkDuration    time.Duration
	// CaptureBuffer bounds how much unread microphone audio is kept before
	// the oldest samples are overwritten.
	CaptureBuffer  time.Duration
	PlaybackBuffer time.Duration
	IOTimeout      time.Duration
}

func (c DeviceConfig) withDefaults() DeviceConfig {
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = DefaultInputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = DefaultOutputSampleRate
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = DefaultChunkDuration
	}
	if c.CaptureBuffer < c.ChunkDuration {
		c.CaptureBuffer = max(DefaultCaptureBuffer, c.ChunkDuration)
	}
	if c.PlaybackBuffer <= 0 {
		c.PlaybackBuffer = DefaultPlaybackBuffer
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = DefaultDeviceIOTimeout
	}
	return c
}

// ChunkBytes is the size of one captured chunk.
func (c DeviceConfig) ChunkBytes() int {
	c = c.withDefaults()
	return ChunkBytes(c.ChunkDuration, c.InputSampleRate)
}

// MalgoDevice captures from the default input and plays to the default
// output through miniaudio.
type MalgoDevice struct {
	logger shared.LoggerAdapter
	cfg    DeviceConfig

	mu       sync.Mutex
	mctx     *malgo.AllocatedContext
	capture  *malgo.Device
	playback *malgo.Device
	opened   bool
	closed   atomic.Bool

	in         *PCMBuffer
	out        *PCMBuffer
	chunkBytes int
	overflow   atomic.Uint64
}

var _ AudioDevice = (*MalgoDevice)(nil)

func NewMalgoDevice(logger shared.LoggerAdapter, cfg DeviceConfig) *MalgoDevice {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	cfg = cfg.withDefaults()
	return &MalgoDevice{
		logger:     logger,
		cfg:        cfg,
		in:         NewPCMBuffer(ChunkBytes(cfg.CaptureBuffer, cfg.InputSampleRate)),
		out:        NewPCMBuffer(ChunkBytes(cfg.PlaybackBuffer, cfg.OutputSampleRate)),
		chunkBytes: ChunkBytes(cfg.ChunkDuration, cfg.InputSampleRate),
	}
}

func (d *MalgoDevice) Config() DeviceConfig {
	return d.cfg
}

// Open starts capture immediately; playback starts on the first WriteChunk.
func (d *MalgoDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return &shared.DeviceError{Op: "open", Err: shared.ErrDeviceClosed}
	}
	if d.opened {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		d.logger.Debug("miniaudio", zap.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return &shared.DeviceError{Op: "open", Err: fmt.Errorf("%w: initializing context: %v", shared.ErrDeviceUnavailable, err)}
	}

	captureCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	captureCfg.Capture.Format = malgo.FormatS16
	captureCfg.Capture.Channels = 1
	captureCfg.SampleRate = uint32(d.cfg.InputSampleRate)
	captureCfg.Alsa.NoMMap = 1
	capture, err := malgo.InitDevice(mctx.Context, captureCfg, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			if dropped := d.in.Write(input); dropped > 0 {
				d.overflow.Add(uint64(dropped))
			}
		},
	})
	if err != nil {
		d.releaseContext(mctx)
		return &shared.DeviceError{Op: "open", Err: fmt.Errorf("%w: initializing capture: %v", shared.ErrDeviceUnavailable, err)}
	}

	playbackCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playbackCfg.Playback.Format = malgo.FormatS16
	playbackCfg.Playback.Channels = 1
	playbackCfg.SampleRate = uint32(d.cfg.OutputSampleRate)
	playbackCfg.Alsa.NoMMap = 1
	playback, err := malgo.InitDevice(mctx.Context, playbackCfg, malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			d.out.ReadAvailable(output)
		},
	})
	if err != nil {
		capture.Uninit()
		d.releaseContext(mctx)
		return &shared.DeviceError{Op: "open", Err: fmt.Errorf("%w: initializing playback: %v", shared.ErrDeviceUnavailable, err)}
	}

	if err := capture.Start(); err != nil {
		playback.Uninit()
		capture.Uninit()
		d.releaseContext(mctx)
		return &shared.DeviceError{Op: "open", Err: fmt.Errorf("starting capture: %w", err)}
	}

	d.mctx = mctx
	d.capture = capture
	d.playback = playback
	d.opened = true
	d.logger.Info(
		"audio device opened",
		zap.Int("inputRate", d.cfg.InputSampleRate),
		zap.Int("outputRate", d.cfg.OutputSampleRate),
		zap.Int("chunkBytes", d.chunkBytes),
	)
	return nil
}

func (d *MalgoDevice) releaseContext(mctx *malgo.AllocatedContext) {
	if err := mctx.Uninit(); err != nil {
		d.logger.Error("releasing audio context", err)
	}
	mctx.Free()
}

// ReadChunk blocks until one chunk of microphone audio is available.
// Capture overflow is never reported here.
func (d *MalgoDevice) ReadChunk() ([]byte, error) {
	buf := make([]byte, d.chunkBytes)
	if err := d.in.ReadFull(buf, d.cfg.IOTimeout); err != nil {
		return nil, &shared.DeviceError{Op: "read", Err: err}
	}
	return buf, nil
}

// WriteChunk queues pcm for the output stream, starting it on first use.
func (d *MalgoDevice) WriteChunk(pcm []byte) error {
	if err := d.startOutput(); err != nil {
		return err
	}
	if err := d.out.WriteWait(pcm, d.cfg.IOTimeout); err != nil {
		return &shared.DeviceError{Op: "write", Err: err}
	}
	return nil
}

func (d *MalgoDevice) startOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return &shared.DeviceError{Op: "start output", Err: shared.ErrDeviceClosed}
	}
	if d.playback == nil {
		return &shared.DeviceError{Op: "start output", Err: shared.ErrDeviceUnavailable}
	}
	if d.playback.IsStarted() {
		return nil
	}
	if err := d.playback.Start(); err != nil {
		return &shared.DeviceError{Op: "start output", Err: err}
	}
	d.logger.Debug("audio output started")
	return nil
}

// StopOutput halts playback and discards audio not yet played.
func (d *MalgoDevice) StopOutput() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Reset()
	if d.playback == nil || !d.playback.IsStarted() {
		return nil
	}
	if err := d.playback.Stop(); err != nil {
		return &shared.DeviceError{Op: "stop output", Err: err}
	}
	return nil
}

// Close releases capture, playback and the context. Every step runs even if
// an earlier one fails; failures are logged and returned together.
func (d *MalgoDevice) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	d.in.Close()
	d.out.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	var errs error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			d.logger.Error("closing audio "+name, err)
			errs = multierr.Append(errs, &shared.DeviceError{Op: "close " + name, Err: err})
		}
	}
	step("capture", func() error {
		if d.capture == nil {
			return nil
		}
		var err error
		if d.capture.IsStarted() {
			err = d.capture.Stop()
		}
		d.capture.Uninit()
		d.capture = nil
		return err
	})
	step("playback", func() error {
		if d.playback == nil {
			return nil
		}
		var err error
		if d.playback.IsStarted() {
			err = d.playback.Stop()
		}
		d.playback.Uninit()
		d.playback = nil
		return err
	})
	step("context", func() error {
		if d.mctx == nil {
			return nil
		}
		err := d.mctx.Uninit()
		d.mctx.Free()
		d.mctx = nil
		return err
	})
	if n := d.overflow.Load(); n > 0 {
		d.logger.Info("capture overflow dropped audio", zap.Uint64("bytes", n))
	}
	d.logger.Info("audio device closed")
	return errs
}

func (d *MalgoDevice) Closed() bool {
	return d.closed.Load()
}
