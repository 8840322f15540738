package events

import (
	"encoding/json"

	"go.uber.org/zap"
)

// EventLogger writes every bus event to a zap logger at debug level
type EventLogger struct {
	logger      *zap.Logger
	unsubscribe func()
}

// NewEventLogger subscribes a logger to all events on the bus
func NewEventLogger(bus *Bus, logger *zap.Logger) *EventLogger {
	el := &EventLogger{logger: logger.Named("events")}
	el.unsubscribe = bus.Subscribe(All, el.log)
	return el
}

func (el *EventLogger) log(event Event) {
	data, err := json.Marshal(event.Payload)
	if err != nil {
		el.logger.Warn("unserializable event payload",
			zap.String("type", string(event.Type)),
			zap.Error(err))
		return
	}
	el.logger.Debug("event",
		zap.String("type", string(event.Type)),
		zap.Time("timestamp", event.Timestamp),
		zap.ByteString("payload", data),
	)
}

// Close detaches the logger from the bus
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}
