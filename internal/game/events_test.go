package game

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(Event) { got = append(got, "first") })
	bus.SubscribeKind(EventReset, func(Event) { got = append(got, "typed") })
	bus.Subscribe(func(Event) { got = append(got, "second") })

	bus.Publish(Event{Kind: EventReset})
	bus.Publish(Event{Kind: EventTurnChanged})
	assert.Equal(t, []string{"first", "typed", "second", "first", "second"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	h := bus.Subscribe(func(Event) { calls++ })
	k := bus.SubscribeKind(EventCompleted, func(Event) { calls++ })
	assert.Equal(t, 2, bus.Len())

	bus.Unsubscribe(h)
	bus.Unsubscribe(k)
	bus.Unsubscribe(99)
	bus.Publish(Event{Kind: EventCompleted})
	assert.Zero(t, calls)
	assert.Zero(t, bus.Len())
}

func TestBusChurnKeepsOrder(t *testing.T) {
	bus := NewBus()
	for i := 0; i < 100; i++ {
		bus.Unsubscribe(bus.Subscribe(func(Event) {}))
	}
	var got []int
	a := bus.Subscribe(func(Event) { got = append(got, 1) })
	bus.Subscribe(func(Event) { got = append(got, 2) })
	bus.Unsubscribe(a)
	bus.Subscribe(func(Event) { got = append(got, 3) })

	bus.Publish(Event{Kind: EventReset})
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 2, bus.Len())
}

func TestBusNilListener(t *testing.T) {
	bus := NewBus()
	assert.Equal(t, -1, bus.Subscribe(nil))
	assert.Equal(t, -1, bus.SubscribeKind(EventReset, nil))
	assert.Zero(t, bus.Len())
}

func TestBusListenerMaySubscribe(t *testing.T) {
	bus := NewBus()
	var once sync.Once
	inner := 0
	bus.Subscribe(func(Event) {
		once.Do(func() { bus.Subscribe(func(Event) { inner++ }) })
	})
	bus.Publish(Event{Kind: EventReset})
	bus.Publish(Event{Kind: EventReset})
	assert.Equal(t, 1, inner)
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()
	var mu sync.Mutex
	n := 0
	bus.Subscribe(func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(Event{Kind: EventTurnChanged})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, n)
}
