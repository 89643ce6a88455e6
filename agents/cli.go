package agents

import (
	"context"
	"errors"
	"sync"

	pkg "github.com/bt-bridge/realtime-voice"
	"github.com/bt-bridge/realtime-voice/metrics"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"github.com/goccy/go-yaml"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var errNotPositive = errors.New("must be positive")

// DeviceFactory builds, but does not open, the audio device for cfg.
type DeviceFactory func(cfg tools.DeviceConfig) (tools.AudioDevice, error)

type Option func(a *CLIAgent)

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *CLIAgent) {
		a.metrics = m
	}
}

func WithClientOptions(opts ...pkg.Option) Option {
	return func(a *CLIAgent) {
		a.clientOpts = append(a.clientOpts, opts...)
	}
}

// CLIAgent wires the microphone, the realtime session and the speaker
// together and streams the assistant's transcript to a printer.
type CLIAgent struct {
	logger     shared.LoggerAdapter
	printer    *shared.Printer
	client     *pkg.Client
	device     tools.AudioDevice
	player     *tools.PlaybackQueue
	metrics    *metrics.Metrics
	clientOpts []pkg.Option

	// lineOpen is only touched by the dispatch goroutine.
	lineOpen bool

	mu        sync.Mutex
	spawned   bool
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

var _ pkg.Sink = (*CLIAgent)(nil)

func (a *CLIAgent) Spawn(
	ctx context.Context,
	logger shared.LoggerAdapter,
	cfg *Config,
	newDevice DeviceFactory,
	printer *shared.Printer,
	opts ...Option,
) error {
	if logger == nil {
		return shared.ErrNoLogger
	}
	if cfg == nil {
		return shared.ErrNoConfig
	}
	if printer == nil {
		return shared.ErrNoPrinter
	}
	if newDevice == nil {
		return errors.New("no device factory provided")
	}
	a.mu.Lock()
	if a.spawned {
		a.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	a.spawned = true
	a.done = make(chan struct{})
	a.mu.Unlock()

	a.logger = logger
	a.printer = printer
	for _, opt := range opts {
		opt(a)
	}
	a.logger.Info("spawning CLI agent")
	a.println("🤖 Spawning CLI agent...\n", 0)

	// Creating client
	clientOpts := append([]pkg.Option{pkg.WithMetrics(a.metrics)}, a.clientOpts...)
	client, err := pkg.NewClient(ctx, a.logger.With(zap.String("component", "client")), cfg.Client, cfg.Session, clientOpts...)
	if err != nil {
		a.logger.Error("creating client", err)
		return a.fail(err)
	}
	a.client = client

	// Printing the effective session config
	session := client.Config()
	a.println("📋 Session Config\n", 0)
	yamlBytes, err := yaml.Marshal(session)
	if err != nil {
		a.logger.Error("marshaling session config to yaml", err)
		return a.fail(err)
	}
	if err := a.printer.Write(string(yamlBytes), 1); err != nil {
		a.logger.Error("printing session config", err)
	}

	// Opening the audio device at the session's rates
	a.println("\n🎤 Opening audio device...", 0)
	deviceCfg := cfg.Device
	deviceCfg.InputSampleRate = session.InputSampleRate
	deviceCfg.OutputSampleRate = session.OutputSampleRate
	device, err := newDevice(deviceCfg)
	if err != nil {
		a.logger.Error("creating audio device", err)
		return a.fail(err)
	}
	a.device = device
	if err := device.Open(); err != nil {
		a.logger.Error("opening audio device", err)
		a.println("❌ Unable to open the microphone or speaker. Please check that an audio device is connected.\n", 0)
		return a.fail(err)
	}
	a.println("✅ Audio device opened.\n", 0)

	// Starting playback
	a.player = tools.NewPlaybackQueue(a.logger.With(zap.String("component", "player")), cfg.PlaybackQueueSize, a.metrics)
	if err := a.player.Start(device); err != nil {
		a.logger.Error("starting playback", err)
		return a.fail(err)
	}

	// Registering microphone and sink
	if err := client.RegisterMicrophone(device); err != nil {
		a.logger.Error("registering microphone", err)
		return a.fail(err)
	}
	if err := client.RegisterSink(a); err != nil {
		a.logger.Error("registering sink", err)
		return a.fail(err)
	}

	// Connecting
	a.println("🔌 Connecting to the realtime API...", 0)
	if err := client.Connect(); err != nil {
		a.logger.Error("connecting session", err)
		a.println("❌ Unable to connect.\n", 0)
		return a.fail(err)
	}
	a.println("✅ Connected. Start speaking.\n", 0)

	go func() {
		<-client.Done()
		if err := a.Close(); err != nil {
			a.logger.Error("closing CLI agent after session end", err)
		}
	}()
	return nil
}

func (a *CLIAgent) println(s string, ind int) {
	if err := a.printer.Writeln(s, ind); err != nil {
		a.logger.Error("printing", err)
	}
}

// fail tears down whatever Spawn managed to build and returns err.
func (a *CLIAgent) fail(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		a.logger.Error("cleaning up after failed spawn", closeErr)
	}
	return err
}

func (a *CLIAgent) Audio(pcm []byte) {
	a.player.Enqueue(pcm)
}

func (a *CLIAgent) TranscriptDelta(delta string) {
	if delta == "" {
		return
	}
	if !a.lineOpen {
		a.lineOpen = true
		if err := a.printer.Write("🤖 ", 0); err != nil {
			a.logger.Error("printing transcript", err)
		}
	}
	if err := a.printer.Write(delta, 0); err != nil {
		a.logger.Error("printing transcript", err)
	}
}

func (a *CLIAgent) TranscriptDone(string) {
	a.lineOpen = false
	if err := a.printer.Newline(); err != nil {
		a.logger.Error("printing transcript", err)
	}
}

func (a *CLIAgent) Interrupted() {
	if n := a.player.Clear(); n > 0 {
		a.logger.Info("user interrupted, dropped pending audio", zap.Int("frames", n))
	}
}

// Close stops playback, closes the audio device and then the session. Every
// step runs; failures are logged and returned together.
func (a *CLIAgent) Close() error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		defer close(done)
		var errs error
		if a.player != nil {
			if err := a.player.Stop(tools.DefaultPlaybackJoinTimeout); err != nil {
				a.logger.Error("stopping playback", err)
				errs = multierr.Append(errs, err)
			}
		}
		if a.device != nil {
			if err := a.device.Close(); err != nil {
				a.logger.Error("closing audio device", err)
				errs = multierr.Append(errs, err)
			}
		}
		if a.client != nil {
			if err := a.client.Close(); err != nil {
				a.logger.Error("closing client", err)
				errs = multierr.Append(errs, err)
			}
		}
		a.closeErr = errs
		a.logger.Info("CLI agent closed")
	})
	return a.closeErr
}

// Done is closed once Close has finished.
func (a *CLIAgent) Done() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}
