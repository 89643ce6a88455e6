package realtime

import (
	"go.uber.org/zap"
)

// routes builds the dispatch table for one session.
func (c *Client) routes(sink Sink) *Dispatcher {
	d := NewDispatcher(c.logger)

	d.LogOnly(
		ServerEventTypeSessionCreated,
		ServerEventTypeSessionUpdated,
		ServerEventTypeResponseCreated,
		ServerEventTypeRatelimitsUpdated,
		ServerEventTypeConversationItemCreated,
		ServerEventTypeConversationItemAdded,
		ServerEventTypeResponseContentPartAdded,
		ServerEventTypeResponseContentPartDone,
		ServerEventTypeResponseOutputItemDone,
		ServerEventTypeResponseAudioDone,
		ServerEventTypeResponseOutputAudioDone,
		ServerEventTypeResponseDone,
	)

	d.Handle(func(event *ServerEvent) {
		if event.Error == nil {
			c.logger.Warn("server error event without details", zap.String("event_id", event.EventId))
			return
		}
		c.logger.Warn(
			"server error",
			zap.String("type", event.Error.Type),
			zap.String("code", event.Error.Code),
			zap.String("message", event.Error.Message),
			zap.String("event_id", event.Error.EventId),
		)
	}, ServerEventTypeError)

	// With create_response enabled the server opens the turn itself.
	if !c.sessCfg.TurnDetection.CreateResponse {
		d.Handle(func(*ServerEvent) {
			c.SendSafe(NewResponseCreate(c.sessCfg.ResponsePayload()))
		}, ServerEventTypeInputAudioBufferSpeechStopped)
	}

	if sink == nil {
		return d
	}

	d.Handle(func(event *ServerEvent) {
		pcm, err := event.DecodeAudio()
		if err != nil {
			c.metrics.ParseError()
			c.logger.Warn("discarding audio delta", zap.Error(err))
			return
		}
		if len(pcm) > 0 {
			sink.Audio(pcm)
		}
	}, ServerEventTypeResponseAudioDelta, ServerEventTypeResponseOutputAudioDelta)

	d.Handle(func(event *ServerEvent) {
		sink.TranscriptDelta(event.Delta)
	}, ServerEventTypeResponseAudioTranscriptDelta, ServerEventTypeResponseOutputAudioTranscriptDelta)

	d.Handle(func(event *ServerEvent) {
		sink.TranscriptDone(event.Transcript)
	}, ServerEventTypeResponseAudioTranscriptDone, ServerEventTypeResponseOutputAudioTranscriptDone)

	if c.cfg.BargeIn {
		d.Handle(func(*ServerEvent) {
			sink.Interrupted()
		}, ServerEventTypeInputAudioBufferSpeechStarted)
	}
	return d
}
