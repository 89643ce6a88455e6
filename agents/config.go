package agents

import (
	"errors"
	"fmt"
	"time"

	pkg "github.com/bt-bridge/realtime-voice"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bt-bridge/realtime-voice/tools"
	"go.uber.org/multierr"
)

// Environment variable keys
const (
	EnvAPIKey           = "OPENAI_API_KEY"
	EnvURL              = "REALTIME_URL"
	EnvModel            = "MODEL"
	EnvVoice            = "VOICE"
	EnvSystemPrompt     = "SYSTEM_PROMPT"
	EnvDialect          = "REALTIME_DIALECT"
	EnvVADThreshold     = "SERVER_VAD_THRESHOLD"
	EnvVADSilenceMs     = "SERVER_VAD_SILENCE_MS"
	EnvVADPrefixMs      = "SERVER_VAD_PREFIX_MS"
	EnvAppendLogEveryN  = "APPEND_LOG_EVERY_N"
	EnvInputSampleRate  = "INPUT_SAMPLE_RATE"
	EnvOutputSampleRate = "OUTPUT_SAMPLE_RATE"
	EnvChunkMs          = "CHUNK_MS"
	EnvPlaybackQueue    = "PLAYBACK_QUEUE_SIZE"
	EnvBargeIn          = "BARGE_IN"
	EnvPingInterval     = "PING_INTERVAL"
	EnvPingTimeout      = "PING_TIMEOUT"
	EnvLogFile          = "LOG_FILE"
	EnvMetricsAddr      = "METRICS_ADDR"
)

// minKeepalive is the shortest accepted ping interval or timeout.
const minKeepalive = time.Second

var errThresholdRange = errors.New("must be in (0, 1]")

type Config struct {
	Client            pkg.ClientConfig
	Session           pkg.SessionConfig
	Device            tools.DeviceConfig
	PlaybackQueueSize int
	LogFile           string
	MetricsAddr       string
}

// LoadConfig reads the agent configuration from the environment. Every
// variable is checked; all problems are returned together.
func LoadConfig() (*Config, error) {
	var errs error
	get := func(err error) {
		errs = multierr.Append(errs, err)
	}

	apiKey, err := shared.Getenv(shared.GetenvString, EnvAPIKey, true, "")
	get(err)
	url, err := shared.Getenv(shared.GetenvString, EnvURL, false, pkg.DefaultURL)
	get(err)
	model, err := shared.Getenv(shared.GetenvString, EnvModel, false, pkg.DefaultModel)
	get(err)
	voice, err := shared.Getenv(shared.GetenvString, EnvVoice, false, pkg.DefaultVoice)
	get(err)
	prompt, err := shared.Getenv(shared.GetenvString, EnvSystemPrompt, false, pkg.DefaultInstructions)
	get(err)
	rawDialect, err := shared.Getenv(shared.GetenvString, EnvDialect, false, string(pkg.DialectBeta))
	get(err)
	dialect, err := pkg.ParseDialect(rawDialect)
	if err != nil {
		get(&shared.ConfigurationError{Key: EnvDialect, Err: err})
	}
	threshold, err := shared.Getenv(shared.GetenvFloat64, EnvVADThreshold, false, pkg.DefaultVADThreshold)
	get(err)
	silenceMs, err := shared.Getenv(shared.GetenvInt, EnvVADSilenceMs, false, int(pkg.DefaultVADSilenceDuration.Milliseconds()))
	get(err)
	prefixMs, err := shared.Getenv(shared.GetenvInt, EnvVADPrefixMs, false, int(pkg.DefaultVADPrefixPadding.Milliseconds()))
	get(err)
	appendEvery, err := shared.Getenv(shared.GetenvInt, EnvAppendLogEveryN, false, pkg.DefaultAppendLogEvery)
	get(err)
	inRate, err := shared.Getenv(shared.GetenvInt, EnvInputSampleRate, false, pkg.DefaultInputSampleRate)
	get(err)
	outRate, err := shared.Getenv(shared.GetenvInt, EnvOutputSampleRate, false, pkg.DefaultOutputSampleRate)
	get(err)
	chunkMs, err := shared.Getenv(shared.GetenvInt, EnvChunkMs, false, int(tools.DefaultChunkDuration.Milliseconds()))
	get(err)
	queueSize, err := shared.Getenv(shared.GetenvInt, EnvPlaybackQueue, false, tools.DefaultPlaybackQueueSize)
	get(err)
	bargeIn, err := shared.Getenv(shared.GetenvBool, EnvBargeIn, false, false)
	get(err)
	pingInterval, err := shared.Getenv(shared.GetenvDuration, EnvPingInterval, false, pkg.DefaultPingInterval)
	get(err)
	pingTimeout, err := shared.Getenv(shared.GetenvDuration, EnvPingTimeout, false, pkg.DefaultPingTimeout)
	get(err)
	logFile, err := shared.Getenv(shared.GetenvString, EnvLogFile, false, "")
	get(err)
	metricsAddr, err := shared.Getenv(shared.GetenvString, EnvMetricsAddr, false, "")
	get(err)

	for key, v := range map[string]int{
		EnvAppendLogEveryN:  appendEvery,
		EnvInputSampleRate:  inRate,
		EnvOutputSampleRate: outRate,
		EnvChunkMs:          chunkMs,
		EnvPlaybackQueue:    queueSize,
		EnvVADSilenceMs:     silenceMs,
		EnvVADPrefixMs:      prefixMs,
	} {
		if v <= 0 {
			get(&shared.ConfigurationError{Key: key, Err: errNotPositive})
		}
	}
	if threshold <= 0 || threshold > 1 {
		get(&shared.ConfigurationError{Key: EnvVADThreshold, Err: errThresholdRange})
	}
	for key, d := range map[string]time.Duration{
		EnvPingInterval: pingInterval,
		EnvPingTimeout:  pingTimeout,
	} {
		if d < minKeepalive {
			get(&shared.ConfigurationError{Key: key, Err: fmt.Errorf("%v is below %v", d, minKeepalive)})
		}
	}
	if errs != nil {
		return nil, errs
	}

	session := pkg.SessionConfig{
		Dialect:          dialect,
		Model:            model,
		Voice:            voice,
		Instructions:     prompt,
		Modalities:       []string{"audio", "text"},
		InputSampleRate:  inRate,
		OutputSampleRate: outRate,
		TurnDetection: pkg.TurnDetection{
			Threshold:       threshold,
			SilenceDuration: time.Duration(silenceMs) * time.Millisecond,
			PrefixPadding:   time.Duration(prefixMs) * time.Millisecond,
		},
	}.Normalize()

	return &Config{
		Client: pkg.ClientConfig{
			URL:            url,
			APIKey:         apiKey,
			AppendLogEvery: appendEvery,
			PingInterval:   pingInterval,
			PingTimeout:    pingTimeout,
			BargeIn:        bargeIn,
		},
		Session: session,
		Device: tools.DeviceConfig{
			InputSampleRate:  session.InputSampleRate,
			OutputSampleRate: session.OutputSampleRate,
			ChunkDuration:    time.Duration(chunkMs) * time.Millisecond,
		},
		PlaybackQueueSize: queueSize,
		LogFile:           logFile,
		MetricsAddr:       metricsAddr,
	}, nil
}
