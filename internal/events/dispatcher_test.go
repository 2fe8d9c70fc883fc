package events

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/fleetctl/internal/model"
)

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello", truncate("hello", 10))
	require.Equal(t, "hel", truncate("hello", 3))
	require.Equal(t, "", truncate("hello", 0))
}

func TestDispatcherEnqueueDropsWhenFull(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeStore{}, 1, clockwork.NewFakeClock())
	d.queue = make(chan *model.Event, 1)

	d.Enqueue(&model.Event{EventID: "1"})
	require.NotPanics(t, func() {
		d.Enqueue(&model.Event{EventID: "2"})
	})
	require.Len(t, d.queue, 1)
}

func TestDispatcherRunAndStop(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(&fakeStore{}, 2, clockwork.NewFakeClock())
	d.Run()
	d.Enqueue(&model.Event{EventID: "1", EventType: "host.created"})
	d.Stop()
}
