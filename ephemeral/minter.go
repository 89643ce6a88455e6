// Package ephemeral mints short-lived realtime client secrets so browser
// clients never see the long-lived API key.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.openai.com/v1"
	DefaultModel   = "gpt-4o-realtime-preview-2025-06-03"
	DefaultTimeout = 10 * time.Second
)

type Secret struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice,omitempty"`
}

type sessionResponse struct {
	ID           string  `json:"id"`
	ClientSecret *Secret `json:"client_secret"`
}

type Minter struct {
	logger  shared.LoggerAdapter
	baseUrl *url.URL
	apiKey  string
	model   string
	voice   string
	client  *fasthttp.Client
}

type MinterOption func(m *Minter)

func WithModel(model string) MinterOption {
	return func(m *Minter) {
		if model != "" {
			m.model = model
		}
	}
}

func WithVoice(voice string) MinterOption {
	return func(m *Minter) {
		m.voice = voice
	}
}

func WithTimeout(d time.Duration) MinterOption {
	return func(m *Minter) {
		if d > 0 {
			m.client.ReadTimeout = d
			m.client.WriteTimeout = d
		}
	}
}

func NewMinter(logger shared.LoggerAdapter, apiKey, baseUrl string, opts ...MinterOption) (*Minter, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if apiKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	if baseUrl == "" {
		baseUrl = DefaultBaseURL
	}
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	m := &Minter{
		logger:  logger,
		baseUrl: u,
		apiKey:  apiKey,
		model:   DefaultModel,
		client: &fasthttp.Client{
			ReadTimeout:  DefaultTimeout,
			WriteTimeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Mint creates a realtime session upstream and returns its client secret.
func (m *Minter) Mint(ctx context.Context) (*Secret, error) {
	body, err := sonic.Marshal(sessionRequest{Model: m.model, Voice: m.voice})
	if err != nil {
		return nil, fmt.Errorf("marshaling session request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(m.baseUrl.JoinPath("/realtime/sessions").String())
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	errC := make(chan error, 1)
	go func() {
		errC <- m.client.Do(req, resp)
	}()
	select {
	case <-ctx.Done():
		// resp is still owned by the in-flight request.
		<-errC
		return nil, ctx.Err()
	case err := <-errC:
		if err != nil {
			return nil, fmt.Errorf("performing HTTP request: %w", err)
		}
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: %d, body: %s", shared.ErrUnexpectedStatus, status, string(resp.Body()))
	}
	var parsed sessionResponse
	if err := sonic.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("parsing session response: %w", err)
	}
	if parsed.ClientSecret == nil || parsed.ClientSecret.Value == "" {
		return nil, errors.New("session response has no client secret")
	}
	m.logger.Info(
		"minted ephemeral client secret",
		zap.String("session", parsed.ID),
		zap.Int64("expiresAt", parsed.ClientSecret.ExpiresAt),
	)
	return parsed.ClientSecret, nil
}
