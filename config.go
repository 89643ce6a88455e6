package realtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v3/packages/param"
	oairealtime "github.com/openai/openai-go/v3/realtime"
)

// Dialect selects the wire shape of the session handshake.
type Dialect string

const (
	DialectBeta Dialect = "beta"
	DialectGA   Dialect = "ga"
)

const (
	DefaultURL          = "wss://api.openai.com/v1/realtime"
	DefaultModel        = "gpt-4o-realtime-preview"
	DefaultVoice        = "verse"
	DefaultInstructions = "You are a concise voice assistant. Keep answers short."

	DefaultVADThreshold       = 0.65
	DefaultVADSilenceDuration = 400 * time.Millisecond
	DefaultVADPrefixPadding   = 300 * time.Millisecond

	DefaultInputSampleRate  = 16000
	DefaultOutputSampleRate = 24000

	// GA sessions only accept 24 kHz PCM in both directions.
	gaSampleRate = 24000
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(strings.TrimSpace(s))); d {
	case "", DialectBeta:
		return DialectBeta, nil
	case DialectGA:
		return DialectGA, nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Threshold         float64       `yaml:"threshold"`
	SilenceDuration   time.Duration `yaml:"silence_duration"`
	PrefixPadding     time.Duration `yaml:"prefix_padding"`
	CreateResponse    bool          `yaml:"create_response"`
	InterruptResponse bool          `yaml:"interrupt_response"`
}

type SessionConfig struct {
	Dialect          Dialect       `yaml:"dialect"`
	Model            string        `yaml:"model"`
	Voice            string        `yaml:"voice"`
	Instructions     string        `yaml:"instructions"`
	Modalities       []string      `yaml:"modalities"`
	InputSampleRate  int           `yaml:"input_sample_rate"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	TurnDetection    TurnDetection `yaml:"turn_detection"`
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Dialect:          DialectBeta,
		Model:            DefaultModel,
		Voice:            DefaultVoice,
		Instructions:     DefaultInstructions,
		Modalities:       []string{"audio", "text"},
		InputSampleRate:  DefaultInputSampleRate,
		OutputSampleRate: DefaultOutputSampleRate,
		TurnDetection: TurnDetection{
			Threshold:       DefaultVADThreshold,
			SilenceDuration: DefaultVADSilenceDuration,
			PrefixPadding:   DefaultVADPrefixPadding,
		},
	}
}

// Normalize fills unset fields with defaults; non-positive numbers count as
// unset. GA sessions are forced to 24 kHz on both sides; callers must open
// the audio device with the normalized rates.
func (c SessionConfig) Normalize() SessionConfig {
	def := DefaultSessionConfig()
	if c.Dialect == "" {
		c.Dialect = def.Dialect
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.Voice == "" {
		c.Voice = def.Voice
	}
	if c.Instructions == "" {
		c.Instructions = def.Instructions
	}
	if len(c.Modalities) == 0 {
		c.Modalities = def.Modalities
	}
	if c.InputSampleRate <= 0 {
		c.InputSampleRate = def.InputSampleRate
	}
	if c.OutputSampleRate <= 0 {
		c.OutputSampleRate = def.OutputSampleRate
	}
	if c.TurnDetection.Threshold <= 0 {
		c.TurnDetection.Threshold = def.TurnDetection.Threshold
	}
	if c.TurnDetection.SilenceDuration <= 0 {
		c.TurnDetection.SilenceDuration = def.TurnDetection.SilenceDuration
	}
	if c.TurnDetection.PrefixPadding <= 0 {
		c.TurnDetection.PrefixPadding = def.TurnDetection.PrefixPadding
	}
	if c.Dialect == DialectGA {
		c.InputSampleRate = gaSampleRate
		c.OutputSampleRate = gaSampleRate
	}
	return c
}

type betaAudioFormat struct {
	Type         string `json:"type"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type betaTurnDetection struct {
	Type              string  `json:"type"`
	SilenceDurationMs int64   `json:"silence_duration_ms"`
	PrefixPaddingMs   int64   `json:"prefix_padding_ms"`
	Threshold         float64 `json:"threshold"`
	CreateResponse    bool    `json:"create_response"`
	InterruptResponse bool    `json:"interrupt_response"`
}

type betaSession struct {
	Instructions      string            `json:"instructions"`
	Voice             string            `json:"voice"`
	Modalities        []string          `json:"modalities"`
	InputAudioFormat  betaAudioFormat   `json:"input_audio_format"`
	OutputAudioFormat betaAudioFormat   `json:"output_audio_format"`
	TurnDetection     betaTurnDetection `json:"turn_detection"`
}

type betaResponse struct {
	Modalities []string `json:"modalities"`
	Voice      string   `json:"voice"`
}

type gaResponse struct {
	OutputModalities []string `json:"output_modalities"`
}

// SessionPayload is the body of the session.update event for the configured dialect.
func (c SessionConfig) SessionPayload() (any, error) {
	c = c.Normalize()
	switch c.Dialect {
	case DialectBeta:
		return betaSession{
			Instructions:      c.Instructions,
			Voice:             c.Voice,
			Modalities:        c.Modalities,
			InputAudioFormat:  betaAudioFormat{Type: "pcm16", SampleRateHz: c.InputSampleRate},
			OutputAudioFormat: betaAudioFormat{Type: "pcm16", SampleRateHz: c.OutputSampleRate},
			TurnDetection: betaTurnDetection{
				Type:              "server_vad",
				SilenceDurationMs: c.TurnDetection.SilenceDuration.Milliseconds(),
				PrefixPaddingMs:   c.TurnDetection.PrefixPadding.Milliseconds(),
				Threshold:         c.TurnDetection.Threshold,
				CreateResponse:    c.TurnDetection.CreateResponse,
				InterruptResponse: c.TurnDetection.InterruptResponse,
			},
		}, nil
	case DialectGA:
		session := c.gaSession()
		b, err := session.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("marshaling session: %w", err)
		}
		return json.RawMessage(b), nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", c.Dialect)
	}
}

func (c SessionConfig) gaSession() *oairealtime.RealtimeSessionCreateRequestParam {
	format := oairealtime.RealtimeAudioFormatsUnionParam{
		OfAudioPCM: &oairealtime.RealtimeAudioFormatsAudioPCMParam{
			Rate: gaSampleRate,
			Type: "audio/pcm",
		},
	}
	return &oairealtime.RealtimeSessionCreateRequestParam{
		Type:             "realtime",
		Model:            oairealtime.RealtimeSessionCreateRequestModel(c.Model),
		Instructions:     param.NewOpt(c.Instructions),
		OutputModalities: gaOutputModalities(c.Modalities),
		Audio: oairealtime.RealtimeAudioConfigParam{
			Input: oairealtime.RealtimeAudioConfigInputParam{
				Format: format,
				TurnDetection: oairealtime.RealtimeAudioInputTurnDetectionUnionParam{
					OfServerVad: &oairealtime.RealtimeAudioInputTurnDetectionServerVadParam{
						Type:              "server_vad",
						Threshold:         param.NewOpt(c.TurnDetection.Threshold),
						SilenceDurationMs: param.NewOpt(c.TurnDetection.SilenceDuration.Milliseconds()),
						PrefixPaddingMs:   param.NewOpt(c.TurnDetection.PrefixPadding.Milliseconds()),
						CreateResponse:    param.NewOpt(c.TurnDetection.CreateResponse),
						InterruptResponse: param.NewOpt(c.TurnDetection.InterruptResponse),
					},
				},
			},
			Output: oairealtime.RealtimeAudioConfigOutputParam{
				Format: format,
				Voice:  oairealtime.RealtimeAudioConfigOutputVoice(c.Voice),
			},
		},
	}
}

// GA sessions produce either audio (with transcript) or text, not both.
func gaOutputModalities(modalities []string) []string {
	for _, m := range modalities {
		if m == "audio" {
			return []string{"audio"}
		}
	}
	return []string{"text"}
}

// ResponsePayload is the body of the response.create sent after the user stops speaking.
func (c SessionConfig) ResponsePayload() any {
	c = c.Normalize()
	if c.Dialect == DialectGA {
		return gaResponse{OutputModalities: gaOutputModalities(c.Modalities)}
	}
	return betaResponse{Modalities: c.Modalities, Voice: c.Voice}
}
