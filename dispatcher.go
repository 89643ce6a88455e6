package realtime

import (
	"github.com/bt-bridge/realtime-voice/shared"
	"go.uber.org/zap"
)

type Action func(event *ServerEvent)

// Dispatcher maps inbound event types to actions. It is built before the
// dispatch loop starts and is read-only afterwards.
type Dispatcher struct {
	logger shared.LoggerAdapter
	routes map[ServerEventType]Action
}

func NewDispatcher(logger shared.LoggerAdapter) *Dispatcher {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Dispatcher{
		logger: logger,
		routes: make(map[ServerEventType]Action),
	}
}

// Handle routes every listed type to action, replacing earlier routes.
func (d *Dispatcher) Handle(action Action, types ...ServerEventType) {
	for _, t := range types {
		d.routes[t] = action
	}
}

// LogOnly routes the listed types to a debug log line carrying the frame
// verbatim.
func (d *Dispatcher) LogOnly(types ...ServerEventType) {
	d.Handle(func(event *ServerEvent) {
		d.logger.Debug(
			"received event",
			zap.String("type", string(event.Type)),
			zap.String("event_id", event.EventId),
			zap.ByteString("frame", event.Raw),
		)
	}, types...)
}

// Dispatch runs the action for event and reports whether one was found.
// Unknown types are ignored.
func (d *Dispatcher) Dispatch(event *ServerEvent) bool {
	action, ok := d.routes[event.Type]
	if !ok {
		d.logger.Trace("ignoring event", zap.String("type", string(event.Type)))
		return false
	}
	action(event)
	return true
}

func (d *Dispatcher) Handles(t ServerEventType) bool {
	_, ok := d.routes[t]
	return ok
}
