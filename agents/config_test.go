package agents

import (
	"errors"
	"testing"
	"time"

	pkg "github.com/bt-bridge/realtime-voice"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

var allEnvKeys = []string{
	EnvAPIKey, EnvURL, EnvModel, EnvVoice, EnvSystemPrompt, EnvDialect,
	EnvVADThreshold, EnvVADSilenceMs, EnvVADPrefixMs, EnvAppendLogEveryN,
	EnvInputSampleRate, EnvOutputSampleRate, EnvChunkMs, EnvPlaybackQueue,
	EnvBargeIn, EnvPingInterval, EnvPingTimeout, EnvLogFile, EnvMetricsAddr,
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "sk-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Client.APIKey)
	assert.Equal(t, pkg.DefaultURL, cfg.Client.URL)
	assert.Equal(t, 50, cfg.Client.AppendLogEvery)
	assert.Equal(t, 20*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.Client.PingTimeout)
	assert.False(t, cfg.Client.BargeIn)

	assert.Equal(t, pkg.DialectBeta, cfg.Session.Dialect)
	assert.Equal(t, "gpt-4o-realtime-preview", cfg.Session.Model)
	assert.Equal(t, "verse", cfg.Session.Voice)
	assert.Equal(t, "You are a concise voice assistant. Keep answers short.", cfg.Session.Instructions)
	assert.Equal(t, 0.65, cfg.Session.TurnDetection.Threshold)
	assert.Equal(t, 400*time.Millisecond, cfg.Session.TurnDetection.SilenceDuration)
	assert.Equal(t, 300*time.Millisecond, cfg.Session.TurnDetection.PrefixPadding)

	assert.Equal(t, 16000, cfg.Device.InputSampleRate)
	assert.Equal(t, 24000, cfg.Device.OutputSampleRate)
	assert.Equal(t, 20*time.Millisecond, cfg.Device.ChunkDuration)
	assert.Equal(t, 64, cfg.PlaybackQueueSize)
	assert.Empty(t, cfg.LogFile)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvVoice, "alloy")
	t.Setenv(EnvVADThreshold, "0.5")
	t.Setenv(EnvVADSilenceMs, "600")
	t.Setenv(EnvBargeIn, "true")
	t.Setenv(EnvPingInterval, "5s")
	t.Setenv(EnvPlaybackQueue, "8")
	t.Setenv(EnvDialect, "ga")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "alloy", cfg.Session.Voice)
	assert.Equal(t, 0.5, cfg.Session.TurnDetection.Threshold)
	assert.Equal(t, 600*time.Millisecond, cfg.Session.TurnDetection.SilenceDuration)
	assert.True(t, cfg.Client.BargeIn)
	assert.Equal(t, 5*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, 8, cfg.PlaybackQueueSize)
	assert.Equal(t, pkg.DialectGA, cfg.Session.Dialect)
	assert.Equal(t, 24000, cfg.Device.InputSampleRate)
}

func TestLoadConfigMissingKey(t *testing.T) {
	clearEnv(t)

	_, err := LoadConfig()
	var cfgErr *shared.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, EnvAPIKey, cfgErr.Key)
	assert.ErrorIs(t, err, shared.ErrMissingEnv)
}

func TestLoadConfigReportsEveryProblem(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvVADSilenceMs, "soon")
	t.Setenv(EnvChunkMs, "-5")
	t.Setenv(EnvDialect, "v9")

	_, err := LoadConfig()
	require.Error(t, err)
	errs := multierr.Errors(err)
	assert.Len(t, errs, 4)

	keys := make([]string, 0, len(errs))
	for _, e := range errs {
		var cfgErr *shared.ConfigurationError
		require.True(t, errors.As(e, &cfgErr))
		keys = append(keys, cfgErr.Key)
	}
	assert.ElementsMatch(t, []string{EnvAPIKey, EnvVADSilenceMs, EnvChunkMs, EnvDialect}, keys)
}

func TestLoadConfigBarePingValuesAreSeconds(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvPingInterval, "20")
	t.Setenv(EnvPingTimeout, "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Client.PingInterval)
	assert.Equal(t, 10*time.Second, cfg.Client.PingTimeout)
}

func TestLoadConfigRejectsOutOfRangeValues(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvAPIKey, "sk-test")
	t.Setenv(EnvPingInterval, "20ns")
	t.Setenv(EnvPingTimeout, "500ms")
	t.Setenv(EnvVADThreshold, "0")
	t.Setenv(EnvVADSilenceMs, "0")
	t.Setenv(EnvVADPrefixMs, "-1")

	_, err := LoadConfig()
	require.Error(t, err)

	keys := make([]string, 0)
	for _, e := range multierr.Errors(err) {
		var cfgErr *shared.ConfigurationError
		require.True(t, errors.As(e, &cfgErr))
		keys = append(keys, cfgErr.Key)
	}
	assert.ElementsMatch(t, []string{
		EnvPingInterval, EnvPingTimeout, EnvVADThreshold, EnvVADSilenceMs, EnvVADPrefixMs,
	}, keys)
}
