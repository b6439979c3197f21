// Package broadcast defines the best-effort publish/subscribe boundary the
// sync protocol runs over, with an in-process bus for tests and co-located
// replicas and a websocket relay client for everything else. The channel
// promises nothing: messages may be dropped, duplicated, reordered, or
// looped back to their sender.
package broadcast

// Message is one inbound payload delivered to a topic subscriber.
type Message struct {
	Topic  string
	Sender string
	Data   []byte
}

// Handler receives inbound messages for a subscription.
type Handler func(Message)

// Channel is a best-effort broadcast endpoint owned by a single replica.
type Channel interface {
	// ID identifies this endpoint as a message sender, so subscribers can
	// suppress their own loopback deliveries.
	ID() string
	// Subscribe starts delivering messages published on topic to h.
	Subscribe(topic string, h Handler) error
	// Unsubscribe stops delivery for topic.
	Unsubscribe(topic string) error
	// Publish broadcasts data to every subscriber of topic, possibly
	// including this endpoint itself.
	Publish(topic string, data []byte) error
}
