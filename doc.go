// Package realtime streams microphone audio to the OpenAI Realtime API over a
// WebSocket and relays the spoken response back to an audio sink.
//
// A Client owns one Session. Connect dials the endpoint, sends a single
// session.update and then runs four loops: a socket reader feeding an inbound
// channel, a dispatcher consuming it in arrival order, a ping keepalive and,
// when a microphone is registered, the audio relay. Outbound frames are
// serialized by SendSafe, which drops silently when the session is not
// connected.
//
// Two protocol dialects are supported: the beta protocol (the default, sent
// with the OpenAI-Beta header) and the GA protocol, whose session payload is
// built from the openai-go realtime types.
package realtime
