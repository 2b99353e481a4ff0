package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	bus := NewBus()
	a, cancelA := bus.Subscribe(4)
	defer cancelA()
	b, cancelB := bus.Subscribe(4)
	defer cancelB()

	bus.Publish(Event{Name: EventDonePrinting})

	ev := <-a
	assert.Equal(t, EventDonePrinting, ev.Name)
	assert.False(t, ev.Time.IsZero())
	ev = <-b
	assert.Equal(t, EventDonePrinting, ev.Name)
}

func TestPublishSkipsFullSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(Event{Name: EventDoneFinding})
	bus.Publish(Event{Name: EventDoneAppending})

	ev := <-ch
	assert.Equal(t, EventDoneFinding, ev.Name)
	assert.Len(t, ch, 0)
}

func TestCancelAndClose(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	other, _ := bus.Subscribe(1)
	bus.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	require.False(t, ok)

	bus.Publish(Event{Name: EventDonePrinting})
}
