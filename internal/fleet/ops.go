package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/colmturner/sonos-fleet-go/internal/gateway"
	"github.com/colmturner/sonos-fleet-go/internal/retry"
)

// verifiedCall performs a mutating device call and polls until the
// device confirms the requested state. A failed verify retries the
// whole call, bounded by the configured call retry budget.
func (m *Model) verifiedCall(ctx context.Context, name string, call func(context.Context) error, verify func(context.Context) bool) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		if err := call(ctx); err != nil {
			return err
		}
		return retry.Verify(ctx, name, func() bool { return verify(ctx) }, retry.VerifyOptions{
			Retries: m.opts.VerifyTries,
			Delay:   m.opts.VerifyDelay,
		})
	}, retry.Options{
		Retries: m.opts.CallRetries,
		Timeout: m.opts.DeviceTimeout + time.Duration(m.opts.VerifyTries)*m.opts.VerifyDelay,
		Delay:   m.opts.CallRetryDelay,
		Logger:  m.logger,
		Name:    name,
	})
}

// deviceOf returns the gateway for a player UUID.
func (m *Model) deviceOf(uuid string) Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[uuid]
}

// ------------------------------------------------------------------
// Simple verified operations
// ------------------------------------------------------------------

func (m *Model) opSetVolume(ctx context.Context, uuid string, level int) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := m.verifiedCall(ctx, fmt.Sprintf("volume=%d", level),
		func(ctx context.Context) error { return dev.SetVolume(ctx, level) },
		func(ctx context.Context) bool {
			v, err := dev.Volume(ctx)
			return err == nil && v == level
		})
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) { p.Volume = level })
	return nil
}

func (m *Model) opSetMute(ctx context.Context, uuid string, mute bool) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := m.verifiedCall(ctx, fmt.Sprintf("mute=%t", mute),
		func(ctx context.Context) error { return dev.SetMute(ctx, mute) },
		func(ctx context.Context) bool {
			v, err := dev.Mute(ctx)
			return err == nil && v == mute
		})
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) { p.Mute = mute })
	return nil
}

func (m *Model) opPlay(ctx context.Context, uuid string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := m.verifiedCall(ctx, "playing",
		dev.Play,
		func(ctx context.Context) bool { return m.transportIs(ctx, dev, true) })
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) { p.PlayState = StatePlaying })
	return nil
}

func (m *Model) opPause(ctx context.Context, uuid string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := m.verifiedCall(ctx, "paused",
		dev.Pause,
		func(ctx context.Context) bool { return m.transportIs(ctx, dev, false) })
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) { p.PlayState = StatePaused })
	return nil
}

func (m *Model) transportIs(ctx context.Context, dev Device, playing bool) bool {
	info, err := dev.TransportInfo(ctx)
	if err != nil {
		return false
	}
	isPlaying := info.State == StatePlaying || info.State == StateTransitioning
	return isPlaying == playing
}

func (m *Model) opSetPlayMode(ctx context.Context, uuid, mode string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := retry.Do(ctx, func(ctx context.Context) error { return dev.SetPlayMode(ctx, mode) },
		m.callOptions("playMode="+mode))
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) { p.PlayMode = mode })
	return nil
}

// ------------------------------------------------------------------
// Grouping
// ------------------------------------------------------------------

// opJoinGroup makes the player follow the named leader.
func (m *Model) opJoinGroup(ctx context.Context, uuid, leaderName string) error {
	m.mu.Lock()
	leader := m.playerByNameLocked(leaderName)
	m.mu.Unlock()
	if leader == nil {
		return fmt.Errorf("unknown leader %q", leaderName)
	}
	if leader.UUID == uuid {
		return m.opStartOwnGroup(ctx, uuid)
	}
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}

	err := m.verifiedCall(ctx, "joined "+leaderName,
		func(ctx context.Context) error { return dev.JoinGroup(ctx, leader.UUID) },
		func(ctx context.Context) bool {
			info, err := dev.MediaInfo(ctx)
			return err == nil && info.URI == gateway.URIFollow+leader.UUID
		})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if p := m.players[uuid]; p != nil {
		m.applyUpdate(p, func(p *Player) {
			p.LeaderUUID = leader.UUID
			p.CurrentURL = strptr(gateway.URIFollow + leader.UUID)
			p.QueueURLs = nil
		})
		m.refreshFollowers()
	}
	m.mu.Unlock()
	return nil
}

// opStartOwnGroup detaches the player into its own group.
func (m *Model) opStartOwnGroup(ctx context.Context, uuid string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := retry.Do(ctx, dev.StartOwnGroup, m.callOptions("startOwnGroup"))
	if err != nil {
		return err
	}

	m.mu.Lock()
	p := m.players[uuid]
	if p != nil {
		m.applyUpdate(p, func(p *Player) {
			p.LeaderUUID = p.UUID
			p.CurrentURL = nil
			p.QueueURLs = nil
		})
		m.refreshFollowers()
		m.enqueueRefresh(p)
	}
	m.mu.Unlock()
	return nil
}

// ------------------------------------------------------------------
// Playback
// ------------------------------------------------------------------

// opPlayRadio loads a radio stream on a leader and starts it.
func (m *Model) opPlayRadio(ctx context.Context, uuid, url string) error {
	return m.loadAndPlay(ctx, uuid, url, "")
}

// opPlayStream loads a plain web stream on a leader and starts it.
func (m *Model) opPlayStream(ctx context.Context, uuid, url string) error {
	return m.loadAndPlay(ctx, uuid, url, "")
}

func (m *Model) loadAndPlay(ctx context.Context, uuid, url, metadata string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}
	err := m.verifiedCall(ctx, "loaded "+url,
		func(ctx context.Context) error { return dev.SetAVTransportURI(ctx, url, metadata) },
		func(ctx context.Context) bool {
			info, err := dev.MediaInfo(ctx)
			return err == nil && info.URI == url
		})
	if err != nil {
		return err
	}
	m.withPlayer(uuid, func(p *Player) {
		p.CurrentURL = strptr(url)
		p.CurrentMetadata = metadata
	})
	return m.opPlay(ctx, uuid)
}

// opPlayQueue replaces the player's queue with the given track URLs
// and plays it from the first track, with repeat set as requested.
func (m *Model) opPlayQueue(ctx context.Context, uuid string, urls []string, repeat bool) error {
	if len(urls) == 0 {
		return fmt.Errorf("empty track list")
	}
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}

	if err := retry.Do(ctx, dev.EmptyQueue, m.callOptions("emptyQueue")); err != nil {
		return err
	}
	for _, url := range urls {
		url := url
		// One unloadable track must not sink the rest of the queue.
		opts := m.callOptions("addToQueue " + url)
		opts.OnExhausted = retry.Safe
		err := retry.Do(ctx, func(ctx context.Context) error { return dev.AddToQueue(ctx, url) }, opts)
		if err != nil {
			return err
		}
	}

	queueURI := gateway.URIQueue + uuid + "#0"
	err := m.verifiedCall(ctx, "queue loaded",
		func(ctx context.Context) error { return dev.SetAVTransportURI(ctx, queueURI, "") },
		func(ctx context.Context) bool {
			info, err := dev.MediaInfo(ctx)
			return err == nil && info.URI == queueURI
		})
	if err != nil {
		return err
	}
	if err := retry.Do(ctx, func(ctx context.Context) error { return dev.SeekTrack(ctx, 1) },
		m.callOptions("seekTrack")); err != nil {
		return err
	}
	mode := PlayModeNormal
	if repeat {
		mode = PlayModeRepeatAll
	}
	if err := retry.Do(ctx, func(ctx context.Context) error { return dev.SetPlayMode(ctx, mode) },
		m.callOptions("playMode="+mode)); err != nil {
		return err
	}

	m.withPlayer(uuid, func(p *Player) {
		p.CurrentURL = strptr(queueURI)
		p.QueueURLs = append([]string(nil), urls...)
		p.PlayMode = mode
	})
	return m.opPlay(ctx, uuid)
}

// opPlayNotification interrupts playback with a one-shot URL, waits
// for it to finish and restores what was playing before.
func (m *Model) opPlayNotification(ctx context.Context, uuid, url string) error {
	dev := m.deviceOf(uuid)
	if dev == nil {
		return fmt.Errorf("no device for %s", uuid)
	}

	media, err := dev.MediaInfo(ctx)
	if err != nil {
		return fmt.Errorf("capture media: %w", err)
	}
	pos, err := dev.PositionInfo(ctx)
	if err != nil {
		return fmt.Errorf("capture position: %w", err)
	}
	transport, err := dev.TransportInfo(ctx)
	if err != nil {
		return fmt.Errorf("capture transport: %w", err)
	}
	wasPlaying := transport.State == StatePlaying || transport.State == StateTransitioning

	if err := m.loadAndPlay(ctx, uuid, url, ""); err != nil {
		return err
	}

	// Wait for the notification to run out.
	err = retry.Verify(ctx, "notification finished", func() bool {
		info, err := dev.TransportInfo(ctx)
		return err == nil && info.State == StateStopped
	}, retry.VerifyOptions{Retries: m.opts.VerifyTries * 10, Delay: m.opts.VerifyDelay})
	if err != nil {
		m.logger.Printf("FLEET: notification on %s did not finish cleanly: %v", uuid, err)
	}

	// Restore.
	if media.URI != "" {
		if err := retry.Do(ctx, func(ctx context.Context) error {
			return dev.SetAVTransportURI(ctx, media.URI, media.Metadata)
		}, m.callOptions("restore media")); err != nil {
			return err
		}
		if pos.Track > 0 {
			if err := dev.SeekTrack(ctx, pos.Track); err == nil && pos.RelTime != "" {
				_ = dev.SeekPos(ctx, pos.RelTime)
			}
		}
		m.withPlayer(uuid, func(p *Player) {
			p.CurrentURL = strptr(media.URI)
			p.CurrentMetadata = media.Metadata
		})
	}
	if wasPlaying {
		return m.opPlay(ctx, uuid)
	}
	return nil
}

// ------------------------------------------------------------------
// Refresh tasks
// ------------------------------------------------------------------

// refreshTask re-reads a player's full playback state from the device.
func (m *Model) refreshTask(uuid string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		dev := m.deviceOf(uuid)
		if dev == nil {
			return nil // player left in the meantime
		}

		transport, err := retry.DoValue(ctx, dev.TransportInfo, m.callOptions("transportInfo"))
		if err != nil {
			return err
		}
		media, err := retry.DoValue(ctx, dev.MediaInfo, m.callOptions("mediaInfo"))
		if err != nil {
			return err
		}
		volume, err := retry.DoValue(ctx, dev.Volume, m.callOptions("volume"))
		if err != nil {
			return err
		}
		mute, err := retry.DoValue(ctx, dev.Mute, m.callOptions("mute"))
		if err != nil {
			return err
		}

		m.mu.Lock()
		p := m.players[uuid]
		if p == nil {
			m.mu.Unlock()
			return nil
		}
		m.applyUpdate(p, func(p *Player) {
			p.PlayState = transport.State
			p.Volume = volume
			p.Mute = mute
			p.CurrentURL = strptr(media.URI)
			p.CurrentMetadata = media.Metadata
		})
		if p.IsLeader && needsQueueFetch(p) {
			m.enqueueQueueFetch(p)
		}
		m.mu.Unlock()
		return nil
	}
}

// queueFetchTask reads a player's queue content into the model.
func (m *Model) queueFetchTask(uuid string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		dev := m.deviceOf(uuid)
		if dev == nil {
			return nil
		}
		urls, err := retry.DoValue(ctx, dev.Queue, m.callOptions("getQueue"))
		if err != nil {
			return err
		}
		if urls == nil {
			urls = []string{}
		}
		m.withPlayer(uuid, func(p *Player) { p.QueueURLs = urls })
		return nil
	}
}

// withPlayer applies a mutation to the named player under the model
// lock, recording changes.
func (m *Model) withPlayer(uuid string, mutate func(*Player)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p := m.players[uuid]; p != nil {
		m.applyUpdate(p, mutate)
	}
}

func (m *Model) callOptions(name string) retry.Options {
	return retry.Options{
		Retries: m.opts.CallRetries,
		Timeout: m.opts.DeviceTimeout,
		Delay:   m.opts.CallRetryDelay,
		Logger:  m.logger,
		Name:    name,
	}
}
