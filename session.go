package realtime

import (
	"sync/atomic"
	"time"
)

type SessionState int32

const (
	SessionStateNew SessionState = iota
	SessionStateConnecting
	SessionStateConnected
	SessionStateDisconnected
	SessionStateClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionStateNew:
		return "new"
	case SessionStateConnecting:
		return "connecting"
	case SessionStateConnected:
		return "connected"
	case SessionStateDisconnected:
		return "disconnected"
	case SessionStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the live connection owned by a Client. Its state is the only
// connection flag; every loop reads it through the accessors.
type Session struct {
	cfg       SessionConfig
	conn      Conn
	state     atomic.Int32
	startedAt time.Time
}

func newSession(cfg SessionConfig) *Session {
	return &Session{cfg: cfg, startedAt: time.Now()}
}

func (s *Session) Config() SessionConfig {
	return s.cfg
}

func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) Connected() bool {
	return s.State() == SessionStateConnected
}

func (s *Session) setState(state SessionState) (prev SessionState) {
	return SessionState(s.state.Swap(int32(state)))
}

// transition moves from one state to another only if the session is still in from.
func (s *Session) transition(from, to SessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *Session) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
