package broadcast

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Bus is an in-process broadcast channel shared by a set of endpoints.
// Delivery is asynchronous (each endpoint drains its own queue on its own
// goroutine) and includes loopback to the publishing endpoint, matching the
// weakest behaviour a real transport may exhibit.
type Bus struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

func NewBus() *Bus {
	return &Bus{endpoints: map[string]*Endpoint{}}
}

// Endpoint creates a new endpoint attached to the bus.
func (b *Bus) Endpoint() *Endpoint {
	e := &Endpoint{
		bus:      b,
		id:       uuid.NewString(),
		handlers: map[string]Handler{},
		queue:    make(chan Message, 256),
		done:     make(chan struct{}),
	}
	go e.deliverLoop()
	b.mu.Lock()
	b.endpoints[e.id] = e
	b.mu.Unlock()
	return e
}

func (b *Bus) publish(msg Message) {
	b.mu.Lock()
	targets := make([]*Endpoint, 0, len(b.endpoints))
	for _, e := range b.endpoints {
		targets = append(targets, e)
	}
	b.mu.Unlock()
	for _, e := range targets {
		e.enqueue(msg)
	}
}

func (b *Bus) remove(id string) {
	b.mu.Lock()
	delete(b.endpoints, id)
	b.mu.Unlock()
}

// Endpoint is one replica's attachment to a Bus.
type Endpoint struct {
	bus *Bus
	id  string

	mu       sync.Mutex
	handlers map[string]Handler
	closed   bool

	queue chan Message
	done  chan struct{}
}

func (e *Endpoint) ID() string { return e.id }

func (e *Endpoint) Subscribe(topic string, h Handler) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return fmt.Errorf("endpoint is closed")
	}
	e.handlers[topic] = h
	return nil
}

func (e *Endpoint) Unsubscribe(topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, topic)
	return nil
}

func (e *Endpoint) Publish(topic string, data []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return fmt.Errorf("endpoint is closed")
	}
	e.bus.publish(Message{Topic: topic, Sender: e.id, Data: data})
	return nil
}

// Close detaches the endpoint from the bus and stops delivery.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.bus.remove(e.id)
	close(e.done)
}

func (e *Endpoint) enqueue(msg Message) {
	select {
	case e.queue <- msg:
	case <-e.done:
	default:
		// best effort: a full queue drops the message
	}
}

func (e *Endpoint) deliverLoop() {
	for {
		select {
		case msg := <-e.queue:
			e.mu.Lock()
			h := e.handlers[msg.Topic]
			e.mu.Unlock()
			if h != nil {
				h(msg)
			}
		case <-e.done:
			return
		}
	}
}
