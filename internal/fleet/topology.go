package fleet

import (
	"context"

	"github.com/colmturner/sonos-fleet-go/internal/gateway"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/soap"
	"github.com/colmturner/sonos-fleet-go/internal/library"
	"github.com/colmturner/sonos-fleet-go/internal/retry"
)

// ApplyTopology reconciles the model against a reported topology.
// Applying the same topology twice is a no-op the second time. Players
// absent from the report are removed; new ones are created and
// refreshed; leadership changes queue the appropriate follow-up work.
func (m *Model) ApplyTopology(infos []gateway.DeviceInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// New players enter the registry raw before anything is derived,
	// so leader references resolve no matter how the report is ordered.
	seen := make(map[string]bool, len(infos))
	created := make(map[string]bool)
	for _, info := range infos {
		seen[info.UUID] = true
		if _, ok := m.players[info.UUID]; ok {
			continue
		}
		p := &Player{
			UUID:       info.UUID,
			FullName:   info.FullName,
			Address:    info.Address,
			LeaderUUID: info.LeaderUUID,
			PlayState:  StateStopped,
		}
		m.players[p.UUID] = p
		m.devices[p.UUID] = m.factory(p.Address)
		created[p.UUID] = true
	}

	for _, info := range infos {
		if created[info.UUID] {
			m.registerPlayer(m.players[info.UUID])
		} else {
			m.reconcilePlayer(m.players[info.UUID], info)
		}
	}

	for uuid, p := range m.players {
		if !seen[uuid] {
			m.removePlayer(p)
		}
	}

	m.refreshFollowers()
}

// reconcilePlayer folds a topology tuple into an existing player.
// Callers hold m.mu.
func (m *Model) reconcilePlayer(p *Player, info gateway.DeviceInfo) {
	wasLeader := p.IsLeader
	oldLeader := p.LeaderUUID

	m.applyUpdate(p, func(p *Player) {
		p.FullName = info.FullName
		p.Address = info.Address
		p.LeaderUUID = info.LeaderUUID
		if info.LeaderUUID != oldLeader && info.LeaderUUID != p.UUID {
			// New follower: its own queue no longer applies.
			p.QueueURLs = nil
			p.CurrentURL = strptr(gateway.URIFollow + info.LeaderUUID)
		}
	})

	if p.IsLeader && (!wasLeader || info.LeaderUUID != oldLeader) {
		// Fresh leader: its playback state must be re-read.
		m.enqueueRefresh(p)
	} else if p.IsLeader {
		m.leaderFollowups(p)
	}
}

// registerPlayer finishes a newly seen device: derives its state,
// persists it and queues the initial refresh work. The player is
// already in the registry. Callers hold m.mu.
func (m *Model) registerPlayer(p *Player) {
	m.recomputeDerived(p)
	if err := m.store.SavePlayer(p); err != nil {
		m.logger.Printf("FLEET: save new player %s: %v", p.Name, err)
	}

	if _, err := m.store.AppendChange(p.ID, "added", `"`+p.Name+`"`); err != nil {
		m.logger.Printf("FLEET: record player add %s: %v", p.Name, err)
	}
	m.notifier.Tick()
	m.logger.Printf("FLEET: player %s joined at %s", p.Name, p.Address)

	if p.IsLeader {
		m.enqueueRefresh(p)
	}
	if m.listen == listenListening {
		m.enqueueTask(p, "startListening", m.startListeningTask(p.UUID))
	}
}

// removePlayer drops a player that left the network. The departure is
// itself a change record, and the player's change history stays in the
// log so resuming clients see the full sequence. Callers hold m.mu.
func (m *Model) removePlayer(p *Player) {
	m.logger.Printf("FLEET: player %s left", p.Name)
	if dev := m.devices[p.UUID]; dev != nil && dev.IsListening() {
		uuid := p.UUID
		dev := dev
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), m.taskBudget())
			defer cancel()
			err := retry.Do(ctx, dev.StopListening, m.callOptions("stopListening "+uuid))
			if err != nil {
				m.logger.Printf("FLEET: stop listening %s: %v", uuid, err)
			}
		}()
	}
	delete(m.players, p.UUID)
	delete(m.devices, p.UUID)
	delete(m.dispatchers, p.UUID)
	if _, err := m.store.AppendChange(p.ID, "removed", `"`+p.Name+`"`); err != nil {
		m.logger.Printf("FLEET: record player removal %s: %v", p.Name, err)
	}
	if err := m.store.DeletePlayer(p.UUID); err != nil {
		m.logger.Printf("FLEET: delete player %s: %v", p.Name, err)
	}
	m.notifier.Tick()
}

// leaderFollowups queues the refresh work a leader's current state
// calls for. Callers hold m.mu.
func (m *Model) leaderFollowups(p *Player) {
	if p.CurrentURL == nil {
		// Playback state never fetched.
		m.enqueueRefresh(p)
		return
	}
	if p.MediaKind == library.KindFollow {
		// Stale: a leader cannot be following anyone.
		m.enqueueRefresh(p)
		return
	}
	if needsQueueFetch(p) {
		m.enqueueQueueFetch(p)
	}
}

// needsQueueFetch decides whether a leader's queue content must be
// (re)read after a media change:
//
//	queue unknown, media is a library track  -> fetch
//	queue unknown, media is anything else    -> no
//	queue known, track present in it         -> no
//	queue known, track missing from it       -> fetch
//	queue known, media is not a track        -> fetch
func needsQueueFetch(p *Player) bool {
	if p.CurrentURL == nil || *p.CurrentURL == "" {
		return false
	}
	isTrack := p.MediaKind == library.KindTrack
	if p.QueueURLs == nil {
		return isTrack
	}
	if isTrack {
		return !p.hasQueueURL(*p.CurrentURL)
	}
	return true
}

func (m *Model) enqueueRefresh(p *Player) {
	m.enqueueUniqueTask(p, "refresh", m.refreshTask(p.UUID))
}

func (m *Model) enqueueQueueFetch(p *Player) {
	m.enqueueUniqueTask(p, "getQueue", m.queueFetchTask(p.UUID))
}

// ------------------------------------------------------------------
// Event application
// ------------------------------------------------------------------

// applyTransportEvent folds a transport event from a device into the
// model and queues any follow-up work.
func (m *Model) applyTransportEvent(uuid, transportState, playMode, avURI, metadata string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.players[uuid]
	if p == nil {
		return
	}

	m.applyUpdate(p, func(p *Player) {
		if transportState != "" {
			p.PlayState = transportState
		}
		if playMode != "" {
			p.PlayMode = playMode
		}
		// An empty URI in an event is indistinguishable from absence;
		// only a refresh may record "explicitly nothing loaded". Track
		// metadata arrives on its own for streams, carrying the
		// now-playing text.
		if avURI != "" {
			p.CurrentURL = strptr(avURI)
		}
		if metadata != "" {
			p.CurrentMetadata = metadata
		}
	})

	// A follow URI in the transport event means this player is (now) a
	// follower regardless of what the last topology said.
	if p.CurrentURL != nil && p.MediaKind == library.KindFollow {
		leaderUUID := (*p.CurrentURL)[len(gateway.URIFollow):]
		m.applyUpdate(p, func(p *Player) {
			p.LeaderUUID = leaderUUID
			p.QueueURLs = nil
		})
		m.refreshFollowers()
		return
	}

	if p.IsLeader && needsQueueFetch(p) {
		m.enqueueQueueFetch(p)
	}
}

// applyRenderingEvent folds a volume/mute event into the model.
func (m *Model) applyRenderingEvent(uuid string, volume int, hasVolume bool, muted, hasMute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.players[uuid]
	if p == nil {
		return
	}
	m.applyUpdate(p, func(p *Player) {
		if hasVolume {
			p.Volume = volume
		}
		if hasMute {
			p.Mute = muted
		}
	})
}

// applyTopologyEvent parses a zone state notification and reconciles.
func (m *Model) applyTopologyEvent(zoneXML string) {
	state := soap.ParseZoneGroupXML(zoneXML)
	if len(state.Groups) == 0 {
		m.logger.Printf("FLEET: topology event carried no groups, ignoring")
		return
	}
	m.ApplyTopology(gateway.TopologyFromZoneState(state))
}
