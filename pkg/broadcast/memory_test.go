package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgs[len(r.msgs)-1]
}

func TestBusDeliversToAllSubscribersIncludingSender(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint()
	b := bus.Endpoint()
	defer a.Close()
	defer b.Close()

	var ra, rb recorder
	require.NoError(t, a.Subscribe("doc", ra.handle))
	require.NoError(t, b.Subscribe("doc", rb.handle))

	require.NoError(t, a.Publish("doc", []byte("hello")))

	require.Eventually(t, func() bool { return ra.count() == 1 && rb.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, Message{Topic: "doc", Sender: a.ID(), Data: []byte("hello")}, rb.last())
	// loopback: the sender hears itself, suppression is the consumer's job
	assert.Equal(t, a.ID(), ra.last().Sender)
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint()
	b := bus.Endpoint()
	defer a.Close()
	defer b.Close()

	var rb recorder
	require.NoError(t, b.Subscribe("other", rb.handle))
	require.NoError(t, a.Publish("doc", []byte("hello")))

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rb.count())
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint()
	b := bus.Endpoint()
	defer a.Close()
	defer b.Close()

	var rb recorder
	require.NoError(t, b.Subscribe("doc", rb.handle))
	require.NoError(t, a.Publish("doc", []byte("one")))
	require.Eventually(t, func() bool { return rb.count() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, b.Unsubscribe("doc"))
	require.NoError(t, a.Publish("doc", []byte("two")))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rb.count())
}

func TestBusClosedEndpointRejectsPublish(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint()
	a.Close()
	assert.Error(t, a.Publish("doc", []byte("hello")))
	assert.Error(t, a.Subscribe("doc", func(Message) {}))
}

func TestBusEndpointIDsAreUnique(t *testing.T) {
	bus := NewBus()
	a := bus.Endpoint()
	b := bus.Endpoint()
	defer a.Close()
	defer b.Close()
	assert.NotEqual(t, a.ID(), b.ID())
}
