package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bt-bridge/realtime-voice/metrics"
	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	DefaultAppendLogEvery = 50
	DefaultPingInterval   = 20 * time.Second
	DefaultPingTimeout    = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultDialAttempts   = 5
	DefaultDialBackoff    = time.Second
	DefaultCloseTimeout   = 2 * time.Second

	micRetryDelay     = 5 * time.Millisecond
	inboundBufferSize = 256
)

var errClientClosed = errors.New("client closed")

// AudioSource yields fixed-size PCM16 chunks from a microphone.
type AudioSource interface {
	ReadChunk() ([]byte, error)
}

// Sink receives what the session produces for the user.
type Sink interface {
	Audio(pcm []byte)
	TranscriptDelta(delta string)
	TranscriptDone(transcript string)
	// Interrupted is called when the user starts speaking and barge-in is enabled.
	Interrupted()
}

type ClientConfig struct {
	URL    string
	APIKey string
	// AppendLogEvery logs one line per N successful audio appends.
	AppendLogEvery int
	PingInterval   time.Duration
	PingTimeout    time.Duration
	WriteTimeout   time.Duration
	DialAttempts   int
	DialBackoff    time.Duration
	CloseTimeout   time.Duration
	BargeIn        bool
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.AppendLogEvery <= 0 {
		c.AppendLogEvery = DefaultAppendLogEvery
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = DefaultDialAttempts
	}
	if c.DialBackoff <= 0 {
		c.DialBackoff = DefaultDialBackoff
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = DefaultCloseTimeout
	}
	return c
}

type Option func(c *Client)

func WithDialer(d Dialer) Option {
	return func(c *Client) {
		c.dial = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

type Client struct {
	logger  shared.LoggerAdapter
	cfg     ClientConfig
	sessCfg SessionConfig
	dial    Dialer
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	mic     AudioSource
	sink    Sink
	session *Session

	// sendMu orders every data frame written to the socket.
	sendMu      sync.Mutex
	appendCount uint64

	inbound   chan []byte
	wg        sync.WaitGroup
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelCauseFunc
}

func NewClient(ctx context.Context, logger shared.LoggerAdapter, cfg ClientConfig, sessCfg SessionConfig, opts ...Option) (*Client, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if cfg.APIKey == "" {
		return nil, shared.ErrNoAPIKey
	}
	cfg = cfg.withDefaults()
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("parsing realtime URL: %w", err)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	c := &Client{
		logger:  logger,
		cfg:     cfg,
		sessCfg: sessCfg.Normalize(),
		dial:    DefaultDialer(),
		inbound: make(chan []byte, inboundBufferSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) respectCtx() error {
	select {
	case <-c.ctx.Done():
		return context.Cause(c.ctx)
	default:
	}
	return nil
}

func (c *Client) RegisterMicrophone(mic AudioSource) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	if c.mic != nil {
		return shared.ErrMicAlreadySet
	}
	if mic == nil {
		return errors.New("microphone is required")
	}
	c.mic = mic
	return nil
}

func (c *Client) RegisterSink(sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return shared.ErrSessionAlreadyRunning
	}
	if c.sink != nil {
		return shared.ErrSinkAlreadySet
	}
	if sink == nil {
		return errors.New("sink is required")
	}
	c.sink = sink
	return nil
}

// Config is the normalized session configuration sent on connect.
func (c *Client) Config() SessionConfig {
	return c.sessCfg
}

func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) State() SessionState {
	if s := c.Session(); s != nil {
		return s.State()
	}
	return SessionStateNew
}

// Done is closed when the session ends, either by Close or by the server.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Err reports why the session ended.
func (c *Client) Err() error {
	return context.Cause(c.ctx)
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", c.sessCfg.Model)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.sessCfg.Dialect == DialectBeta {
		h.Set("OpenAI-Beta", "realtime=v1")
	}
	return h
}

// Connect dials the realtime endpoint, sends the session.update handshake and
// starts the reader, dispatcher, keepalive and microphone loops.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return shared.ErrSessionAlreadyRunning
	}
	if err := c.respectCtx(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("respecting client context: %w", err)
	}
	c.running = true
	sess := newSession(c.sessCfg)
	sess.setState(SessionStateConnecting)
	c.session = sess
	mic, sink := c.mic, c.sink
	c.mu.Unlock()

	payload, err := c.sessCfg.SessionPayload()
	if err != nil {
		sess.setState(SessionStateClosed)
		c.cancel(err)
		return fmt.Errorf("building session payload: %w", err)
	}

	conn, err := c.dialWithRetry()
	if err != nil {
		sess.transition(SessionStateConnecting, SessionStateDisconnected)
		err = &shared.TransportError{Op: "dial", Err: err}
		c.cancel(err)
		return err
	}

	c.sendMu.Lock()
	if err := c.respectCtx(); err != nil {
		c.sendMu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("respecting client context: %w", err)
	}
	sess.conn = conn
	c.sendMu.Unlock()

	readWindow := c.cfg.PingInterval + c.cfg.PingTimeout
	_ = conn.SetReadDeadline(time.Now().Add(readWindow))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWindow))
	})
	if !sess.transition(SessionStateConnecting, SessionStateConnected) {
		_ = conn.Close()
		return &shared.TransportError{Op: "connect", Err: shared.ErrNotConnected}
	}
	c.logger.Info(
		"session connected",
		zap.String("model", c.sessCfg.Model),
		zap.String("dialect", string(c.sessCfg.Dialect)),
	)

	dispatcher := c.routes(sink)
	loops := 3
	if mic != nil {
		loops++
	}
	// Every loop is counted before any starts so a concurrent Close waits for all of them.
	c.wg.Add(loops)
	go c.readLoop(sess, conn, readWindow)
	go c.dispatchLoop(dispatcher)
	go c.pingLoop(conn)
	configured := make(chan struct{})
	if mic != nil {
		go c.micLoop(sess, mic, configured)
	}

	sent := c.SendSafe(NewSessionUpdate(payload))
	close(configured)
	if !sent {
		return &shared.TransportError{Op: "send session.update", Err: shared.ErrNotConnected}
	}
	return nil
}

func (c *Client) dialWithRetry() (Conn, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	header := c.header()
	backoff := c.cfg.DialBackoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.DialAttempts; attempt++ {
		conn, err := c.dial(c.ctx, endpoint, header)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Warn(
			"dialing realtime endpoint failed",
			zap.Int("attempt", attempt),
			zap.Int("maxAttempts", c.cfg.DialAttempts),
			zap.Error(err),
		)
		if attempt == c.cfg.DialAttempts {
			break
		}
		timer := time.NewTimer(backoff)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return nil, context.Cause(c.ctx)
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("giving up after %d attempts: %w", c.cfg.DialAttempts, lastErr)
}

// SendSafe writes one event. It never blocks past the write timeout and
// reports false when the event was dropped.
func (c *Client) SendSafe(event ClientEvent) bool {
	sess := c.Session()
	if sess == nil || !sess.Connected() {
		c.metrics.SendDropped()
		return false
	}
	data, err := event.Marshal()
	if err != nil {
		c.logger.Error("marshaling client event", err, zap.String("type", string(event.Type)))
		c.metrics.SendDropped()
		return false
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !sess.Connected() || sess.conn == nil {
		c.metrics.SendDropped()
		return false
	}
	_ = sess.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error(
			"sending client event",
			&shared.TransportError{Op: "send", Err: err},
			zap.String("type", string(event.Type)),
		)
		c.metrics.SendDropped()
		return false
	}
	c.metrics.EventSent(string(event.Type))

	if event.Type == ClientEventTypeInputAudioBufferAppend {
		c.appendCount++
		if c.appendCount%uint64(c.cfg.AppendLogEvery) == 0 {
			c.logger.Debug("sent audio chunks", zap.Uint64("count", c.appendCount))
		}
		return true
	}
	c.logger.Info(
		"sent event",
		zap.String("type", string(event.Type)),
		zap.String("event_id", event.EventId),
	)
	return true
}

func (c *Client) readLoop(sess *Session, conn Conn, readWindow time.Duration) {
	defer c.wg.Done()
	defer close(c.inbound)
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if sess.transition(SessionStateConnected, SessionStateDisconnected) {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Info("server closed the session", zap.Error(err))
				} else {
					c.logger.Error("reading from socket", &shared.TransportError{Op: "receive", Err: err})
				}
				c.cancel(fmt.Errorf("session disconnected: %w", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWindow))
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring non-text frame", zap.Int("messageType", messageType))
			continue
		}
		select {
		case c.inbound <- data:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) dispatchLoop(d *Dispatcher) {
	defer c.wg.Done()
	for data := range c.inbound {
		event, err := ParseServerEvent(data)
		if err != nil {
			c.metrics.ParseError()
			c.logger.Warn("discarding malformed frame", zap.Error(err), zap.Int("size", len(data)))
			continue
		}
		c.metrics.EventReceived(string(event.Type))
		d.Dispatch(event)
	}
}

func (c *Client) pingLoop(conn Conn) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.cfg.PingTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("sending ping", zap.Error(err))
			}
		}
	}
}

// micLoop relays microphone chunks once configured is closed, so no audio
// precedes session.update.
func (c *Client) micLoop(sess *Session, mic AudioSource, configured <-chan struct{}) {
	defer c.wg.Done()
	select {
	case <-configured:
	case <-c.ctx.Done():
		return
	}
	c.logger.Info("microphone relay started")
	defer c.logger.Info("microphone relay stopped")
	for {
		if c.respectCtx() != nil || !sess.Connected() {
			return
		}
		pcm, err := mic.ReadChunk()
		if err != nil {
			if errors.Is(err, shared.ErrDeviceClosed) {
				return
			}
			c.logger.Trace("reading microphone", zap.Error(err))
			timer := time.NewTimer(micRetryDelay)
			select {
			case <-c.ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}
		c.SendSafe(NewInputAudioBufferAppend(pcm))
	}
}

// Close ends the session and releases the socket. It waits a bounded time
// for the client's goroutines and is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel(errClientClosed)
		sess := c.Session()
		if sess == nil {
			return
		}
		prev := sess.setState(SessionStateClosed)
		c.sendMu.Lock()
		if sess.conn != nil {
			if prev == SessionStateConnected {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = sess.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			}
			if closeErr := sess.conn.Close(); closeErr != nil {
				err = &shared.TransportError{Op: "close", Err: closeErr}
			}
		}
		c.sendMu.Unlock()

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(c.cfg.CloseTimeout):
			c.logger.Warn("session loops did not stop in time", zap.Duration("timeout", c.cfg.CloseTimeout))
		}
		c.logger.Info("session closed", zap.Duration("uptime", sess.Uptime()))
	})
	return err
}
