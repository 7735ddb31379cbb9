package fleet

import (
	"context"
	"time"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/retry"
)

// task is one unit of serialized per-player work.
type task struct {
	name string
	run  func(ctx context.Context) error
}

// dispatcher is the per-player FIFO. At most one task runs per player
// at any time; tasks for different players run concurrently. Fields
// are guarded by the model mutex.
type dispatcher struct {
	uuid    string
	queue   []task
	running bool
}

// enqueueTask appends a task to the player's queue and starts the
// runner when idle. Callers must hold m.mu.
func (m *Model) enqueueTask(p *Player, name string, run func(ctx context.Context) error) {
	d := m.dispatchers[p.UUID]
	if d == nil {
		d = &dispatcher{uuid: p.UUID}
		m.dispatchers[p.UUID] = d
	}
	d.queue = append(d.queue, task{name: name, run: run})
	if !d.running {
		d.running = true
		m.wg.Add(1)
		go m.runDispatcher(d)
	}
}

// enqueueUniqueTask enqueues unless a task of the same name is already
// queued for the player. Used for refresh follow-ups that would only
// redo the same work. Callers must hold m.mu.
func (m *Model) enqueueUniqueTask(p *Player, name string, run func(ctx context.Context) error) {
	if d := m.dispatchers[p.UUID]; d != nil {
		for _, t := range d.queue {
			if t.name == name {
				return
			}
		}
	}
	m.enqueueTask(p, name, run)
}

// runDispatcher drains the player's queue. Task errors are logged and
// swallowed so one failing command never wedges the queue; programmer
// errors escalate to the fatal handler instead.
func (m *Model) runDispatcher(d *dispatcher) {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		if len(d.queue) == 0 {
			d.running = false
			m.mu.Unlock()
			return
		}
		t := d.queue[0]
		d.queue = d.queue[1:]
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.taskBudget())
		err := t.run(ctx)
		cancel()

		if err != nil {
			if apperrors.IsProgrammer(err) {
				retry.FatalHandler(err)
				return
			}
			m.logger.Printf("FLEET: %s on %s failed: %v", t.name, d.uuid, err)
		}
	}
}

// taskBudget bounds a whole task including all its retries and verify
// polls.
func (m *Model) taskBudget() time.Duration {
	attempt := m.opts.DeviceTimeout + time.Duration(m.opts.VerifyTries)*m.opts.VerifyDelay
	return time.Duration(m.opts.CallRetries)*(attempt+m.opts.CallRetryDelay) + time.Second
}

// commandPollLoop drains the external command inbox. Commands are
// claimed into the inflight set so a slow task is never enqueued
// twice, and deleted from the store only after they ran.
func (m *Model) commandPollLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.opts.CommandPoll)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.pollCommands()
		}
	}
}

func (m *Model) pollCommands() {
	cmds, err := m.store.PendingCommands()
	if err != nil {
		m.logger.Printf("FLEET: read commands: %v", err)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cmd := range cmds {
		if m.inflight[cmd.ID] {
			continue
		}
		p := m.playerByIDLocked(cmd.PlayerID)
		if p == nil {
			m.logger.Printf("FLEET: dropping command %s for unknown player %d", cmd.Name, cmd.PlayerID)
			m.deleteCommand(cmd.ID)
			continue
		}
		build, ok := commandTable[cmd.Name]
		if !ok {
			m.logger.Printf("FLEET: dropping unknown command %q for %s", cmd.Name, p.Name)
			m.deleteCommand(cmd.ID)
			continue
		}
		run, err := build(m, p, cmd.Args)
		if err != nil {
			m.logger.Printf("FLEET: dropping malformed command %q for %s: %v", cmd.Name, p.Name, err)
			m.deleteCommand(cmd.ID)
			continue
		}

		m.inflight[cmd.ID] = true
		cmdID := cmd.ID
		m.enqueueTask(p, cmd.Name, func(ctx context.Context) error {
			err := run(ctx)
			m.mu.Lock()
			delete(m.inflight, cmdID)
			m.deleteCommand(cmdID)
			m.mu.Unlock()
			return err
		})
	}
}

// deleteCommand removes a command row, logging failures. Callers hold
// m.mu.
func (m *Model) deleteCommand(id string) {
	if err := m.store.DeleteCommand(id); err != nil {
		m.logger.Printf("FLEET: delete command %s: %v", id, err)
	}
}

func (m *Model) playerByIDLocked(id int64) *Player {
	for _, p := range m.players {
		if p.ID == id {
			return p
		}
	}
	return nil
}
