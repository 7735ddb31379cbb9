package fleet

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFirstSubscriberStartsListening(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	_, sub, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return f.device("10.0.0.20").IsListening() && f.device("10.0.0.21").IsListening()
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, "LISTENING", f.model.ListenState())

	kitchen, err := f.model.PlayerByName("kitchen")
	require.NoError(t, err)
	require.True(t, kitchen.Listening)
}

func TestIdleTimeoutStopsListening(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	_, sub, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.device("10.0.0.20").IsListening()
	}, 2*time.Second, 5*time.Millisecond)

	sub.Close()

	require.Eventually(t, func() bool {
		return !f.device("10.0.0.20").IsListening() && !f.device("10.0.0.21").IsListening()
	}, 2*time.Second, 5*time.Millisecond, "idle timeout must stop the listeners")
	require.Equal(t, "IDLE", f.model.ListenState())
}

func TestNewSubscriberCancelsIdleShutdown(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	_, first, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.device("10.0.0.20").IsListening()
	}, 2*time.Second, 5*time.Millisecond)

	first.Close()
	_, second, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	defer second.Close()

	// Wait past the idle timeout; the new subscriber must keep the
	// listeners alive.
	time.Sleep(3 * f.model.opts.IdleTimeout)
	require.True(t, f.device("10.0.0.20").IsListening())
	require.Zero(t, f.device("10.0.0.20").callCount("StopListening"))
}

func TestListenSubscriptionRetriesFlakyDevice(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	dev := f.device("10.0.0.20")
	dev.mu.Lock()
	dev.failStartListening = 2
	dev.mu.Unlock()

	_, sub, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool {
		return dev.IsListening()
	}, 2*time.Second, 5*time.Millisecond, "a flaky device must settle in, not sit the session out")
	require.Equal(t, 3, dev.callCount("StartListening"))
}

func TestListenTransitionsAreRecorded(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	_, sub, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.device("10.0.0.20").IsListening()
	}, 2*time.Second, 5*time.Millisecond)

	sub.Close()
	require.Eventually(t, func() bool {
		return f.model.ListenState() == "IDLE"
	}, 2*time.Second, 5*time.Millisecond)

	changes, err := f.store.ChangesSince(0)
	require.NoError(t, err)
	var seen []string
	for _, c := range changes {
		if c.Field == "fleetListening" {
			require.Zero(t, c.PlayerID, "lifecycle records belong to no player")
			seen = append(seen, c.Value)
		}
	}
	require.Equal(t, []string{"true", "false"}, seen)
}

func TestEventsFlowIntoModelWhileListening(t *testing.T) {
	f := newFixture(t)
	f.model.Start()
	f.model.ApplyTopology(twoPlayerTopology())
	f.drain(t)

	snapshot, sub, err := f.model.Subscribe(SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()
	require.Len(t, snapshot, 2)

	dev := f.device("10.0.0.20")
	require.Eventually(t, func() bool { return dev.IsListening() }, 2*time.Second, 5*time.Millisecond)

	dev.mu.Lock()
	onRendering := dev.handlers.OnRendering
	dev.mu.Unlock()
	require.NotNil(t, onRendering)

	onRendering(renderingEvent(42))

	require.Eventually(t, func() bool {
		kitchen, err := f.model.PlayerByName("kitchen")
		return err == nil && kitchen.Volume == 42
	}, 2*time.Second, 5*time.Millisecond)

	// The change arrives on the subscriber's channel, batched.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case batch := <-sub.Changes():
			for _, c := range batch {
				if c.Field == "volume" && c.Value == "42" {
					return
				}
			}
		case <-deadline:
			t.Fatal("volume change never reached the subscriber")
		}
	}
}
