package fleet

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/colmturner/sonos-fleet-go/internal/gateway/events"
	"github.com/colmturner/sonos-fleet-go/internal/retry"
)

// listenState is the model-wide event lifecycle.
type listenState int

const (
	listenIdle listenState = iota
	listenStarting
	listenListening
	listenStopping
)

func (s listenState) String() string {
	switch s {
	case listenStarting:
		return "STARTING"
	case listenListening:
		return "LISTENING"
	case listenStopping:
		return "STOPPING"
	default:
		return "IDLE"
	}
}

// ListenState reports the current lifecycle state.
func (m *Model) ListenState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listen.String()
}

// addInterest registers one more consumer of live updates. The first
// consumer brings the model out of idle; a pending idle shutdown is
// cancelled.
func (m *Model) addInterest() {
	m.mu.Lock()
	m.interest++
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	needStart := m.listen == listenIdle
	if needStart {
		m.listen = listenStarting
	}
	m.mu.Unlock()

	if needStart {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.taskBudget())
			defer cancel()
			m.startListening(ctx)
		}()
	}
}

// removeInterest drops one consumer. When the last one leaves, the
// idle timer starts; on expiry the model stops listening.
func (m *Model) removeInterest() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interest > 0 {
		m.interest--
	}
	if m.interest == 0 && m.idleTimer == nil && !m.stopped {
		m.idleTimer = time.AfterFunc(m.opts.IdleTimeout, m.idleExpired)
	}
}

func (m *Model) idleExpired() {
	m.mu.Lock()
	if m.interest > 0 || m.stopped {
		m.mu.Unlock()
		return
	}
	m.idleTimer = nil
	m.mu.Unlock()

	m.logger.Printf("FLEET: idle timeout, stopping listeners")
	ctx, cancel := context.WithTimeout(context.Background(), m.taskBudget())
	defer cancel()
	m.stopListening(ctx)
}

// startListening subscribes to events on every device in parallel.
// Per-device failures are logged and isolated so one unreachable
// player never blocks the rest of the fleet.
func (m *Model) startListening(ctx context.Context) {
	m.mu.Lock()
	m.listen = listenStarting
	uuids := make([]string, 0, len(m.devices))
	for uuid := range m.devices {
		uuids = append(uuids, uuid)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, uuid := range uuids {
		uuid := uuid
		g.Go(func() error {
			if err := m.startListeningTask(uuid)(ctx); err != nil {
				m.logger.Printf("FLEET: start listening %s: %v", uuid, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.listen = listenListening
	m.mu.Unlock()
	// The lifecycle transition belongs to the fleet, not any player.
	if _, err := m.store.AppendChange(0, "fleetListening", "true"); err != nil {
		m.logger.Printf("FLEET: record listen state: %v", err)
	}
	m.notifier.Tick()
	m.logger.Printf("FLEET: listening")
}

// stopListening unsubscribes everywhere, in parallel.
func (m *Model) stopListening(ctx context.Context) {
	m.mu.Lock()
	m.listen = listenStopping
	uuids := make([]string, 0, len(m.devices))
	for uuid := range m.devices {
		uuids = append(uuids, uuid)
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, uuid := range uuids {
		uuid := uuid
		g.Go(func() error {
			err := m.locks.WithLock(uuid, m.taskBudget(), func() error {
				dev := m.deviceOf(uuid)
				if dev == nil || !dev.IsListening() {
					return nil
				}
				if err := retry.Do(ctx, dev.StopListening, m.callOptions("stopListening "+uuid)); err != nil {
					return err
				}
				m.withPlayer(uuid, func(p *Player) { p.Listening = false })
				return nil
			})
			if err != nil {
				m.logger.Printf("FLEET: stop listening %s: %v", uuid, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.listen = listenIdle
	m.mu.Unlock()
	if _, err := m.store.AppendChange(0, "fleetListening", "false"); err != nil {
		m.logger.Printf("FLEET: record listen state: %v", err)
	}
	m.notifier.Tick()
	m.logger.Printf("FLEET: idle")
}

// startListeningTask subscribes one device under its lock. The
// subscription call itself is retried; a flaky device settles in
// rather than sitting the session out.
func (m *Model) startListeningTask(uuid string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return m.locks.WithLock(uuid, m.taskBudget(), func() error {
			dev := m.deviceOf(uuid)
			if dev == nil || dev.IsListening() {
				return nil
			}
			err := retry.Do(ctx, func(ctx context.Context) error {
				return dev.StartListening(ctx, m.handlersFor(uuid))
			}, m.callOptions("startListening "+uuid))
			if err != nil {
				return err
			}
			m.withPlayer(uuid, func(p *Player) { p.Listening = true })
			return nil
		})
	}
}

// handlersFor binds the device event callbacks onto the model.
func (m *Model) handlersFor(uuid string) events.Handlers {
	return events.Handlers{
		OnTransport: func(ev events.TransportEvent) {
			uri := ev.AVTransportURI
			if uri == "" {
				uri = ev.CurrentTrackURI
			}
			m.applyTransportEvent(uuid, ev.TransportState, ev.PlayMode, uri, ev.CurrentTrackMetaData)
		},
		OnRendering: func(ev events.RenderingEvent) {
			m.applyRenderingEvent(uuid, ev.Volume, ev.HasVolume, ev.Muted, ev.HasMute)
		},
		OnTopology: func(ev events.TopologyEvent) {
			m.applyTopologyEvent(ev.ZoneGroupState)
		},
		OnError: func(err error) {
			m.logger.Printf("FLEET: event error on %s: %v", uuid, err)
		},
	}
}
