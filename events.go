package realtime

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/bt-bridge/realtime-voice/shared"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

type EventType string

type ServerEventType EventType

type ClientEventType EventType

// Server event types. Where the beta and GA protocols name the same event
// differently both spellings are listed; the dispatcher routes them alike.
const (
	ServerEventTypeError                         ServerEventType = "error"
	ServerEventTypeSessionCreated                ServerEventType = "session.created"
	ServerEventTypeSessionUpdated                ServerEventType = "session.updated"
	ServerEventTypeRatelimitsUpdated             ServerEventType = "rate_limits.updated"
	ServerEventTypeConversationItemCreated       ServerEventType = "conversation.item.created"
	ServerEventTypeConversationItemAdded         ServerEventType = "conversation.item.added"
	ServerEventTypeConversationItemDone          ServerEventType = "conversation.item.done"
	ServerEventTypeInputAudioBufferCommitted     ServerEventType = "input_audio_buffer.committed"
	ServerEventTypeInputAudioBufferCleared       ServerEventType = "input_audio_buffer.cleared"
	ServerEventTypeInputAudioBufferSpeechStarted ServerEventType = "input_audio_buffer.speech_started"
	ServerEventTypeInputAudioBufferSpeechStopped ServerEventType = "input_audio_buffer.speech_stopped"
	ServerEventTypeResponseCreated               ServerEventType = "response.created"
	ServerEventTypeResponseDone                  ServerEventType = "response.done"
	ServerEventTypeResponseOutputItemAdded       ServerEventType = "response.output_item.added"
	ServerEventTypeResponseOutputItemDone        ServerEventType = "response.output_item.done"
	ServerEventTypeResponseContentPartAdded      ServerEventType = "response.content_part.added"
	ServerEventTypeResponseContentPartDone       ServerEventType = "response.content_part.done"

	ServerEventTypeResponseAudioDelta                 ServerEventType = "response.audio.delta"
	ServerEventTypeResponseAudioDone                  ServerEventType = "response.audio.done"
	ServerEventTypeResponseAudioTranscriptDelta       ServerEventType = "response.audio_transcript.delta"
	ServerEventTypeResponseAudioTranscriptDone        ServerEventType = "response.audio_transcript.done"
	ServerEventTypeResponseOutputAudioDelta           ServerEventType = "response.output_audio.delta"
	ServerEventTypeResponseOutputAudioDone            ServerEventType = "response.output_audio.done"
	ServerEventTypeResponseOutputAudioTranscriptDelta ServerEventType = "response.output_audio_transcript.delta"
	ServerEventTypeResponseOutputAudioTranscriptDone  ServerEventType = "response.output_audio_transcript.done"
)

// Client event types
const (
	ClientEventTypeSessionUpdate          ClientEventType = "session.update"
	ClientEventTypeInputAudioBufferAppend ClientEventType = "input_audio_buffer.append"
	ClientEventTypeResponseCreate         ClientEventType = "response.create"
)

// ClientEvent is one outbound frame. Audio appends carry no event id to keep
// the hot path cheap.
type ClientEvent struct {
	EventId  string          `json:"event_id,omitempty"`
	Type     ClientEventType `json:"type"`
	Audio    string          `json:"audio,omitempty"`
	Session  any             `json:"session,omitempty"`
	Response any             `json:"response,omitempty"`
}

func newEventId() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func NewSessionUpdate(session any) ClientEvent {
	return ClientEvent{EventId: newEventId(), Type: ClientEventTypeSessionUpdate, Session: session}
}

// NewInputAudioBufferAppend base64-encodes one chunk of PCM16.
func NewInputAudioBufferAppend(pcm []byte) ClientEvent {
	return ClientEvent{Type: ClientEventTypeInputAudioBufferAppend, Audio: base64.StdEncoding.EncodeToString(pcm)}
}

func NewResponseCreate(response any) ClientEvent {
	return ClientEvent{EventId: newEventId(), Type: ClientEventTypeResponseCreate, Response: response}
}

func (e ClientEvent) Marshal() ([]byte, error) {
	if e.Type == "" {
		return nil, errors.New("client event type is empty")
	}
	return sonic.Marshal(e)
}

type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param"`
	EventId string `json:"event_id"`
}

func (e *ServerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ServerEvent keeps the handful of fields the client acts on. The full
// frame stays in Raw.
type ServerEvent struct {
	EventId    string          `json:"event_id"`
	Type       ServerEventType `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	ResponseId string          `json:"response_id"`
	ItemId     string          `json:"item_id"`
	Error      *ServerError    `json:"error"`

	Raw []byte `json:"-"`
}

// ParseServerEvent decodes one inbound text frame. Frames that are not a JSON
// object with a type yield a ProtocolParseError.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	e := new(ServerEvent)
	if err := sonic.Unmarshal(data, e); err != nil {
		return nil, &shared.ProtocolParseError{Data: data, Err: err}
	}
	if e.Type == "" {
		return nil, &shared.ProtocolParseError{Data: data, Err: errors.New("missing type")}
	}
	e.Raw = data
	return e, nil
}

// DecodeAudio returns the PCM carried by an audio delta.
func (e *ServerEvent) DecodeAudio() ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(e.Delta)
	if err != nil {
		return nil, &shared.ProtocolParseError{Data: e.Raw, Err: fmt.Errorf("decoding audio delta: %w", err)}
	}
	return pcm, nil
}
