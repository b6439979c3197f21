package protocol

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/astromechza/automerge-sheet/pkg/broadcast"
	"github.com/astromechza/automerge-sheet/pkg/store"
)

// DefaultRequestDelay is how long a freshly attached driver waits before
// broadcasting its one sync-request, giving peer discovery a moment to
// connect. The request is not retried here: a lost request is recovered by
// steady-state updates or by the next peer's own sync exchange.
const DefaultRequestDelay = 3 * time.Second

// Driver wires a replicated store to a broadcast topic. Locally authored
// store changes are broadcast as updates; inbound updates and sync
// responses are merged back with a network origin tag so they are never
// re-broadcast; inbound sync requests are answered with the delta the
// requester declared itself missing. The driver performs no deduplication:
// the store's idempotent, commutative merge absorbs duplicate and reordered
// delivery.
type Driver struct {
	topic   string
	store   *store.Store
	channel broadcast.Channel

	mu           sync.Mutex
	detachStore  func()
	requestTimer *time.Timer
	destroyed    bool
}

// Option adjusts driver behaviour.
type Option func(*options)

type options struct {
	requestDelay time.Duration
}

// WithRequestDelay overrides the initial sync-request delay.
func WithRequestDelay(d time.Duration) Option {
	return func(o *options) { o.requestDelay = d }
}

// Attach subscribes to the topic, registers the store observer, and
// schedules the initial sync-request.
func Attach(topic string, st *store.Store, ch broadcast.Channel, opts ...Option) (*Driver, error) {
	o := options{requestDelay: DefaultRequestDelay}
	for _, fn := range opts {
		fn(&o)
	}
	d := &Driver{topic: topic, store: st, channel: ch}
	if err := ch.Subscribe(topic, d.handleMessage); err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	d.detachStore = st.Observe(d.storeChanged)
	d.requestTimer = time.AfterFunc(o.requestDelay, d.sendSyncRequest)
	return d, nil
}

// Destroy unsubscribes from the channel and then detaches the store
// observer, in that order, so no callback can fire into a torn-down driver.
func (d *Driver) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	timer := d.requestTimer
	detach := d.detachStore
	d.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if err := d.channel.Unsubscribe(d.topic); err != nil {
		slog.Error("failed to unsubscribe", "topic", d.topic, "err", err)
	}
	if detach != nil {
		detach()
	}
}

// storeChanged re-broadcasts locally authored deltas. Network-origin
// changes are exactly the ones another replica broadcast to us, so
// re-broadcasting them would amplify every update around the mesh forever.
func (d *Driver) storeChanged(_ []string, origin store.Origin, delta []byte) {
	if origin != store.OriginLocal || len(delta) == 0 {
		return
	}
	if err := d.publish(TypeUpdate, delta); err != nil {
		// the local write stands; peers catch up on the next exchange
		slog.Error("failed to broadcast update", "topic", d.topic, "err", err)
	}
}

func (d *Driver) sendSyncRequest() {
	if err := d.publish(TypeSyncRequest, d.store.VersionSummary()); err != nil {
		slog.Error("failed to broadcast sync-request", "topic", d.topic, "err", err)
	}
}

func (d *Driver) publish(t MessageType, payload []byte) error {
	raw, err := Encode(t, payload)
	if err != nil {
		return err
	}
	return d.channel.Publish(d.topic, raw)
}

// handleMessage processes one inbound broadcast. Messages for other topics
// or from this replica itself are ignored; malformed payloads are logged
// and dropped so one bad message never blocks the next valid one.
func (d *Driver) handleMessage(msg broadcast.Message) {
	if msg.Topic != d.topic || msg.Sender == d.channel.ID() {
		return
	}
	env, err := Decode(msg.Data)
	if err != nil {
		slog.Error("discarding message", "topic", d.topic, "sender", msg.Sender, "err", err)
		return
	}
	switch env.Type {
	case TypeUpdate, TypeSyncResponse:
		if err := d.store.ApplyDelta(env.Payload, store.OriginNetwork); err != nil {
			slog.Error("discarding undecodable delta", "topic", d.topic, "type", env.Type, "err", err)
		}
	case TypeSyncRequest:
		delta, err := d.store.DeltaSince(env.Payload)
		if err != nil {
			slog.Error("failed to compute sync delta", "topic", d.topic, "err", err)
			return
		}
		if len(delta) == 0 {
			return
		}
		// broadcast, not unicast: the channel has no addressed delivery,
		// and other replicas applying the response is harmless
		if err := d.publish(TypeSyncResponse, delta); err != nil {
			slog.Error("failed to broadcast sync-response", "topic", d.topic, "err", err)
		}
	}
}
