package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryftlabs/dwn/pkg/dwntypes"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	var mu sync.Mutex
	var received []dwntypes.Event
	done := make(chan struct{})

	require.NoError(t, b.Subscribe("t1", "sub1", func(e dwntypes.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		close(done)
	}))

	require.NoError(t, b.Emit("t1", dwntypes.Event{Tenant: "t1", MessageCID: "cid1"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event delivery")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "cid1", received[0].MessageCID)
}

func TestBrokerIsolatesTenants(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	gotA := make(chan dwntypes.Event, 1)
	require.NoError(t, b.Subscribe("tenantA", "subA", func(e dwntypes.Event) { gotA <- e }))

	require.NoError(t, b.Emit("tenantB", dwntypes.Event{Tenant: "tenantB", MessageCID: "cidB"}))

	select {
	case <-gotA:
		t.Fatal("tenantA subscriber must not receive tenantB's event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	got := make(chan dwntypes.Event, 1)
	require.NoError(t, b.Subscribe("t1", "sub1", func(e dwntypes.Event) { got <- e }))
	b.Unsubscribe("t1", "sub1")

	require.NoError(t, b.Emit("t1", dwntypes.Event{Tenant: "t1", MessageCID: "cid1"}))

	select {
	case <-got:
		t.Fatal("unsubscribed handler must not be invoked")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerSubscriberCount(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	assert.Equal(t, 0, b.SubscriberCount("t1"))
	require.NoError(t, b.Subscribe("t1", "sub1", func(dwntypes.Event) {}))
	assert.Equal(t, 1, b.SubscriberCount("t1"))
	b.Unsubscribe("t1", "sub1")
	assert.Equal(t, 0, b.SubscriberCount("t1"))
}
