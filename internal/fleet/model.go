package fleet

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

// MediaLocator resolves playback URLs against the media catalogue.
type MediaLocator interface {
	Locate(url string) (library.Media, error)
	Album(id int64) (library.Album, error)
	TrackPrefix() string
}

// Options tunes the model's device interaction and lifecycle.
type Options struct {
	CallRetries    int
	CallRetryDelay time.Duration
	VerifyTries    int
	VerifyDelay    time.Duration
	DeviceTimeout  time.Duration
	IdleTimeout    time.Duration
	CommandPoll    time.Duration
	TrackPrefix    string
}

func (o *Options) withDefaults() {
	if o.CallRetries <= 0 {
		o.CallRetries = 3
	}
	if o.CallRetryDelay <= 0 {
		o.CallRetryDelay = time.Second
	}
	if o.VerifyTries <= 0 {
		o.VerifyTries = 10
	}
	if o.VerifyDelay <= 0 {
		o.VerifyDelay = 300 * time.Millisecond
	}
	if o.DeviceTimeout <= 0 {
		o.DeviceTimeout = 5 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.CommandPoll <= 0 {
		o.CommandPoll = 500 * time.Millisecond
	}
}

// Model is the synchronized view of the whole player fleet. Every
// mutation goes through it under one lock so derived fields, change
// records and notification stay consistent with each other.
type Model struct {
	mu          sync.Mutex
	players     map[string]*Player // by UUID
	devices     map[string]Device
	dispatchers map[string]*dispatcher
	inflight    map[string]bool // external command ids already enqueued

	store   Store
	media   MediaLocator
	factory DeviceFactory
	opts    Options
	logger  *log.Logger

	notifier *notifier
	locks    *playerLocks

	listen    listenState
	interest  int
	idleTimer *time.Timer

	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// NewModel builds an empty model. Call Bootstrap to populate it and
// Start to begin background processing.
func NewModel(store Store, media MediaLocator, factory DeviceFactory, opts Options, logger *log.Logger) *Model {
	opts.withDefaults()
	if opts.TrackPrefix == "" && media != nil {
		opts.TrackPrefix = media.TrackPrefix()
	}
	if logger == nil {
		logger = log.Default()
	}
	m := &Model{
		players:     make(map[string]*Player),
		devices:     make(map[string]Device),
		dispatchers: make(map[string]*dispatcher),
		inflight:    make(map[string]bool),
		store:       store,
		media:       media,
		factory:     factory,
		opts:        opts,
		logger:      logger,
		locks:       newPlayerLocks(logger),
		stopCh:      make(chan struct{}),
	}
	m.notifier = newNotifier(m)
	return m
}

// Bootstrap queries the given addresses for the fleet topology and
// applies the first answer. At least one address must respond.
func (m *Model) Bootstrap(ctx context.Context, addresses []string) error {
	for _, addr := range addresses {
		dev := m.factory(addr)
		infos, err := dev.CurrentGroup(ctx)
		if err != nil {
			m.logger.Printf("FLEET: bootstrap via %s failed: %v", addr, err)
			continue
		}
		m.ApplyTopology(infos)
		return nil
	}
	return apperrors.NewDeviceUnreachableError("no device answered the topology query")
}

// Start launches the notifier and the external command poll loop.
func (m *Model) Start() {
	m.notifier.start()
	m.wg.Add(1)
	go m.commandPollLoop()
}

// Stop halts background processing and, if listening, unsubscribes
// from every device. Pending dispatcher queues are drained first.
func (m *Model) Stop(ctx context.Context) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	listening := m.listen == listenListening
	m.mu.Unlock()

	close(m.stopCh)
	if listening {
		m.stopListening(ctx)
	}
	m.wg.Wait()
	m.notifier.stop()
}

// Players returns snapshots of every player, ordered by name.
func (m *Model) Players() []PlayerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]PlayerState, 0, len(m.players))
	for _, p := range m.players {
		states = append(states, p.Snapshot())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}

// PlayerByName returns the snapshot of the named player.
func (m *Model) PlayerByName(name string) (PlayerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.playerByNameLocked(name)
	if p == nil {
		return PlayerState{}, apperrors.NewPlayerNotFoundError(name)
	}
	return p.Snapshot(), nil
}

func (m *Model) playerByNameLocked(name string) *Player {
	for _, p := range m.players {
		if p.Name == name || p.UUID == name {
			return p
		}
	}
	return nil
}

// ChangesSince returns the change records after seq, for clients
// resuming from a known position.
func (m *Model) ChangesSince(seq int64) ([]Change, error) {
	return m.store.ChangesSince(seq)
}

// EnqueueCommand validates and persists an external command for the
// named player, then kicks the dispatcher. The returned id can be used
// to correlate logs.
func (m *Model) EnqueueCommand(name, command string, args []string) (string, error) {
	if _, ok := commandTable[command]; !ok {
		return "", apperrors.NewCommandUnknownError(command)
	}

	m.mu.Lock()
	p := m.playerByNameLocked(name)
	if p == nil {
		m.mu.Unlock()
		return "", apperrors.NewPlayerNotFoundError(name)
	}
	playerID := p.ID
	m.mu.Unlock()

	cmd := Command{ID: uuid.NewString(), PlayerID: playerID, Name: command, Args: args}
	if err := m.store.InsertCommand(cmd); err != nil {
		return "", err
	}
	m.pollCommands()
	return cmd.ID, nil
}

// applyUpdate mutates p, recomputes derived fields, records the diff
// as change records and persists the snapshot. Callers must hold m.mu.
// Returns whether anything changed.
func (m *Model) applyUpdate(p *Player, mutate func(*Player)) bool {
	before := p.Snapshot()
	mutate(p)
	m.recomputeDerived(p)
	after := p.Snapshot()

	fields := diffStates(before, after)
	if len(fields) == 0 {
		return false
	}
	for _, f := range fields {
		if _, err := m.store.AppendChange(p.ID, f.name, f.value); err != nil {
			m.logger.Printf("FLEET: append change %s for %s: %v", f.name, p.Name, err)
		}
	}
	if err := m.store.SavePlayer(p); err != nil {
		m.logger.Printf("FLEET: save player %s: %v", p.Name, err)
	}
	m.notifier.Tick()
	return true
}

type fieldChange struct {
	name  string
	value string
}

// diffStates lists the exported fields that differ, with JSON-encoded
// values. Identity fields (id, uuid) never change and are skipped.
func diffStates(before, after PlayerState) []fieldChange {
	var fields []fieldChange
	add := func(name string, v any) {
		data, err := json.Marshal(v)
		if err != nil {
			data = []byte("null")
		}
		fields = append(fields, fieldChange{name: name, value: string(data)})
	}

	if before.Name != after.Name {
		add("name", after.Name)
	}
	if before.FullName != after.FullName {
		add("fullName", after.FullName)
	}
	if before.Address != after.Address {
		add("address", after.Address)
	}
	if before.LeaderUUID != after.LeaderUUID {
		add("leaderUuid", after.LeaderUUID)
	}
	if before.IsLeader != after.IsLeader {
		add("isLeader", after.IsLeader)
	}
	if !equalStrings(before.Followers, after.Followers) {
		add("followers", after.Followers)
	}
	if before.Volume != after.Volume {
		add("volume", after.Volume)
	}
	if before.Mute != after.Mute {
		add("mute", after.Mute)
	}
	if before.Playing != after.Playing {
		add("playing", after.Playing)
	}
	if before.Repeating != after.Repeating {
		add("isRepeating", after.Repeating)
	}
	if before.PlayState != after.PlayState {
		add("playState", after.PlayState)
	}
	if before.PlayMode != after.PlayMode {
		add("playMode", after.PlayMode)
	}
	if !equalURLPtr(before.CurrentURL, after.CurrentURL) {
		add("currentUrl", after.CurrentURL)
	}
	if !equalMedia(before.CurrentMedia, after.CurrentMedia) {
		add("currentMedia", after.CurrentMedia)
	}
	if before.NowPlayingText != after.NowPlayingText {
		add("nowPlayingText", after.NowPlayingText)
	}
	if before.MediaKind != after.MediaKind {
		add("mediaKind", after.MediaKind)
	}
	if !equalStrings(before.QueueURLs, after.QueueURLs) {
		add("queueUrls", after.QueueURLs)
	}
	if !equalQueues(before.Queue, after.Queue) {
		add("queue", after.Queue)
	}
	if before.Listening != after.Listening {
		add("listening", after.Listening)
	}
	return fields
}

func equalURLPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStrings(a, b []string) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalMedia(a, b *library.Media) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// equalQueues compares expanded queues by their encoding; the nesting
// makes a field walk not worth it.
func equalQueues(a, b []QueueEntry) bool {
	if (a == nil) != (b == nil) || len(a) != len(b) {
		return false
	}
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return bytes.Equal(aj, bj)
}

// recomputeDerived refreshes p's derived fields, resolving leadership
// against the registry and media against the catalogue. Callers hold
// m.mu.
func (m *Model) recomputeDerived(p *Player) {
	p.recomputeDerived(m.opts.TrackPrefix, func(uuid string) bool {
		_, ok := m.players[uuid]
		return ok
	})

	if !p.IsLeader {
		p.CurrentMedia = nil
		p.Queue = nil
		p.queueSrc = nil
		return
	}

	// Catalogue lookups hit the database, so they only rerun when
	// their inputs changed.
	url := ""
	if p.CurrentURL != nil {
		url = *p.CurrentURL
	}
	if p.CurrentMedia == nil || p.CurrentMedia.URL != url {
		p.CurrentMedia = m.locateMedia(url)
	}
	if !equalStrings(p.queueSrc, p.QueueURLs) {
		p.Queue = m.expandQueue(p.QueueURLs)
		p.queueSrc = append([]string(nil), p.QueueURLs...)
	}
}

// locateMedia resolves one playback URL against the catalogue. With no
// catalogue attached, or for an unknown URL, the record is synthesized
// from the URL alone. An empty URL resolves to nothing.
func (m *Model) locateMedia(url string) *library.Media {
	if url == "" {
		return nil
	}
	if m.media != nil {
		if media, err := m.media.Locate(url); err == nil {
			return &media
		}
	}
	return &library.Media{URL: url, Kind: library.ClassifyURL(url, m.opts.TrackPrefix)}
}

// expandQueue resolves queue URLs into their catalogue records, with
// consecutive tracks of the same album grouped under one album entry.
func (m *Model) expandQueue(urls []string) []QueueEntry {
	if urls == nil {
		return nil
	}
	entries := make([]QueueEntry, 0, len(urls))
	var run *library.Album
	for _, url := range urls {
		media := m.locateMedia(url)
		if media == nil {
			continue
		}
		if media.Kind != library.KindTrack || media.AlbumID == 0 {
			run = nil
			entries = append(entries, QueueEntry{Media: media})
			continue
		}
		if run != nil && run.ID == media.AlbumID {
			run.Tracks = append(run.Tracks, *media)
			continue
		}
		run = m.albumHeader(media.AlbumID)
		run.Tracks = []library.Media{*media}
		entries = append(entries, QueueEntry{Album: run})
	}
	return entries
}

// albumHeader reads an album's metadata without its track listing; the
// queue expansion fills in just the tracks of its run.
func (m *Model) albumHeader(id int64) *library.Album {
	if m.media != nil {
		if album, err := m.media.Album(id); err == nil {
			album.Tracks = nil
			return &album
		}
	}
	return &library.Album{ID: id}
}

// refreshFollowers recomputes every player's follower list. Grouping
// is a fleet-wide relation, so it settles once per topology or
// leadership change instead of per player. A leader counts among its
// own followers; a leader reference nobody can resolve counts for
// no one. Callers hold m.mu.
func (m *Model) refreshFollowers() {
	members := make(map[string][]string, len(m.players))
	for _, p := range m.players {
		leader := p.LeaderUUID
		if leader == "" {
			leader = p.UUID
		}
		if _, ok := m.players[leader]; !ok {
			continue
		}
		members[leader] = append(members[leader], p.Name)
	}
	for _, names := range members {
		sort.Strings(names)
	}
	for _, p := range m.players {
		names := members[p.UUID]
		if equalStrings(p.Followers, names) {
			continue
		}
		m.applyUpdate(p, func(p *Player) { p.Followers = names })
	}
}
