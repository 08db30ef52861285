package events

import (
	"sync"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

// subscription is one EventsSubscribe caller's live feed: a buffered
// channel fed by the tenant broker's fan-out loop, drained by a goroutine
// that invokes the caller's handler.
type subscription struct {
	ch   chan dwntypes.Event
	stop chan struct{}
	done chan struct{} // closed by the drain goroutine once it has exited
}

// tenantBroker fans out one tenant's events to its subscribers. Every
// tenant gets its own broker and its own goroutine, so a slow or stuck
// subscriber in one tenant never backs up another's delivery.
type tenantBroker struct {
	mu      sync.RWMutex
	subs    map[string]*subscription
	eventCh chan dwntypes.Event
	stopCh  chan struct{}
}

func newTenantBroker() *tenantBroker {
	tb := &tenantBroker{
		subs:    make(map[string]*subscription),
		eventCh: make(chan dwntypes.Event, 100),
		stopCh:  make(chan struct{}),
	}
	go tb.run()
	return tb
}

func (tb *tenantBroker) run() {
	for {
		select {
		case event := <-tb.eventCh:
			tb.broadcast(event)
		case <-tb.stopCh:
			return
		}
	}
}

func (tb *tenantBroker) broadcast(event dwntypes.Event) {
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	for _, sub := range tb.subs {
		select {
		case sub.ch <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

func (tb *tenantBroker) close() {
	close(tb.stopCh)
	tb.mu.Lock()
	closed := make([]*subscription, 0, len(tb.subs))
	for id, sub := range tb.subs {
		close(sub.stop)
		delete(tb.subs, id)
		closed = append(closed, sub)
	}
	tb.mu.Unlock()
	for _, sub := range closed {
		<-sub.done
	}
}

// Broker implements storage.EventStream, fanning each tenant's accepted
// messages out to its own live EventsSubscribe listeners. Unlike the
// durable EventLog, a subscriber that is not listening when Emit is
// called simply misses the event.
type Broker struct {
	mu      sync.Mutex
	tenants map[string]*tenantBroker
}

// NewBroker builds an empty per-tenant event broker; tenant brokers are
// created lazily on first Subscribe or Emit.
func NewBroker() *Broker {
	return &Broker{tenants: make(map[string]*tenantBroker)}
}

func (b *Broker) tenantBrokerFor(tenant string) *tenantBroker {
	b.mu.Lock()
	defer b.mu.Unlock()
	tb, ok := b.tenants[tenant]
	if !ok {
		tb = newTenantBroker()
		b.tenants[tenant] = tb
	}
	return tb
}

// Subscribe registers handler to receive tenant's events under
// subscriptionID until Unsubscribe is called or the broker is closed.
func (b *Broker) Subscribe(tenant, subscriptionID string, handler func(dwntypes.Event)) error {
	tb := b.tenantBrokerFor(tenant)
	sub := &subscription{
		ch:   make(chan dwntypes.Event, 50),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	tb.mu.Lock()
	tb.subs[subscriptionID] = sub
	tb.mu.Unlock()

	go func() {
		defer close(sub.done)
		for {
			select {
			case event := <-sub.ch:
				// stop wins over a buffered event, so a subscriber that has
				// been removed is never invoked again
				select {
				case <-sub.stop:
					return
				default:
				}
				handler(event)
			case <-sub.stop:
				return
			}
		}
	}()
	return nil
}

// Unsubscribe stops delivering events to subscriptionID; the handler is
// never invoked again once this call returns. It is a no-op if the tenant
// or subscription is unknown.
func (b *Broker) Unsubscribe(tenant, subscriptionID string) {
	b.mu.Lock()
	tb, ok := b.tenants[tenant]
	b.mu.Unlock()
	if !ok {
		return
	}

	tb.mu.Lock()
	sub, ok := tb.subs[subscriptionID]
	if ok {
		close(sub.stop)
		delete(tb.subs, subscriptionID)
	}
	tb.mu.Unlock()
	if ok {
		<-sub.done
	}
}

// Emit hands event to tenant's broker for fan-out to its subscribers.
func (b *Broker) Emit(tenant string, event dwntypes.Event) error {
	tb := b.tenantBrokerFor(tenant)
	select {
	case tb.eventCh <- event:
	case <-tb.stopCh:
	}
	return nil
}

// Close shuts down every tenant broker and unblocks every subscriber
// goroutine this Broker started.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, tb := range b.tenants {
		tb.close()
		delete(b.tenants, id)
	}
	return nil
}

// SubscriberCount returns the number of active subscriptions for tenant,
// mainly useful for diagnostics and tests.
func (b *Broker) SubscriberCount(tenant string) int {
	b.mu.Lock()
	tb, ok := b.tenants[tenant]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	tb.mu.RLock()
	defer tb.mu.RUnlock()
	return len(tb.subs)
}
