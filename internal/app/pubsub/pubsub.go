// Package pubsub is the event bus between the API and background workers.
// The API publishes notification events; the mailer and websocket stream
// consume them. Redis backs it in production, an in-process bus elsewhere.
package pubsub

import "context"

// TopicNotificationCreated carries notification.Event payloads.
const TopicNotificationCreated = "notifications.created"

// Message is a raw payload received from a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Bus publishes and subscribes to topics. Subscribe returns a receive
// channel and a cancel function that releases the subscription; the channel
// is closed after cancel or when the context ends.
type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error)
}
