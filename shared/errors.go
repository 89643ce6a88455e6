package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNoLogger              = errors.New("no logger provided")
	ErrNoConfig              = errors.New("no config provided")
	ErrNoAPIKey              = errors.New("no API key provided")
	ErrNoPrinter             = errors.New("no printer provided")
	ErrSessionAlreadyRunning = errors.New("session already running")
	ErrNotConnected          = errors.New("session not connected")
	ErrMicAlreadySet         = errors.New("microphone already set")
	ErrSinkAlreadySet        = errors.New("event sink already set")
	ErrMissingEnv            = errors.New("required environment variable not set")
	ErrDeviceUnavailable     = errors.New("no compatible audio device")
	ErrDeviceClosed          = errors.New("audio device closed")
	ErrDeviceTimeout         = errors.New("audio device timed out")
	ErrPlayerStopTimeout     = errors.New("playback loop did not stop in time")
	ErrUnexpectedStatus      = errors.New("unexpected upstream status")
)

// TransportError is a socket dial, send or receive failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DeviceError is an audio device open, read, write or close failure.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// ProtocolParseError is a malformed inbound frame.
type ProtocolParseError struct {
	Data []byte
	Err  error
}

func (e *ProtocolParseError) Error() string {
	return fmt.Sprintf("parsing server event: %v", e.Err)
}

func (e *ProtocolParseError) Unwrap() error { return e.Err }

// ConfigurationError is fatal and only raised at startup.
type ConfigurationError struct {
	Key string
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Key, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
