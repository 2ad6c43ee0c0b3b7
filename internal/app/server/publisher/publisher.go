// Package publisher forwards timestamped log events to an external pub/sub
// channel without ever blocking or failing the caller.
package publisher

import (
	"context"
	"time"
)

const (
	// EventLogs is the only event type the server publishes.
	EventLogs = "logs"

	channelPrefix   = "dashify-"
	timestampLayout = "2006-01-02T15:04:05.000Z"
	separator       = " | "
)

// ChannelName returns the channel a client id publishes to.
func ChannelName(cid string) string {
	return channelPrefix + cid
}

// LogEvent is one message stamped with the time it was published.
type LogEvent struct {
	Timestamp time.Time
	Message   string
}

// NewLogEvent stamps message with now.
func NewLogEvent(now time.Time, message string) LogEvent {
	return LogEvent{Timestamp: now.UTC(), Message: message}
}

// String renders the event as "<ISO-8601 timestamp> | <message>".
func (e LogEvent) String() string {
	return e.Timestamp.UTC().Format(timestampLayout) + separator + e.Message
}

// Payload is the body sent with every event.
type Payload struct {
	Message string `json:"message"`
}

// Publisher is the fire-and-forget publish capability the rest of the
// server depends on.
type Publisher interface {
	Publish(channel, event, message string)
}

// Flusher is implemented by publishers that can wait for queued events.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Transport delivers one payload to a channel. Implementations may block.
type Transport interface {
	Trigger(ctx context.Context, channel, event string, payload Payload) error
}
