package fleet

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colmturner/sonos-fleet-go/internal/db"
	"github.com/colmturner/sonos-fleet-go/internal/gateway"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/events"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

// fakeDevice simulates one player. All state is mutable under its own
// lock; call names are recorded for assertions.
type fakeDevice struct {
	mu       sync.Mutex
	addr     string
	volume   int
	mute     bool
	state    string
	playMode string
	mediaURI string
	queue    []string
	listen   bool
	handlers events.Handlers
	calls    []string

	failSetVolume      int // fail this many SetVolume calls before succeeding
	failStartListening int
	failAddToQueue     map[string]bool // URIs that always fail to enqueue
	onCall             func(name string)
}

func newFakeDevice(addr string) *fakeDevice {
	return &fakeDevice{addr: addr, state: StateStopped}
}

func (d *fakeDevice) record(name string) {
	d.calls = append(d.calls, name)
	if d.onCall != nil {
		d.onCall(name)
	}
}

func (d *fakeDevice) callCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	count := 0
	for _, c := range d.calls {
		if c == name {
			count++
		}
	}
	return count
}

func (d *fakeDevice) Address() string { return d.addr }

func (d *fakeDevice) StartListening(_ context.Context, handlers events.Handlers) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StartListening")
	if d.failStartListening > 0 {
		d.failStartListening--
		return fmt.Errorf("subscribe refused")
	}
	d.listen = true
	d.handlers = handlers
	return nil
}

func (d *fakeDevice) StopListening(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StopListening")
	d.listen = false
	return nil
}

func (d *fakeDevice) IsListening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listen
}

func (d *fakeDevice) Description(context.Context) (gateway.Description, error) {
	return gateway.Description{}, nil
}

func (d *fakeDevice) Volume(context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Volume")
	return d.volume, nil
}

func (d *fakeDevice) SetVolume(_ context.Context, level int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetVolume")
	if d.failSetVolume > 0 {
		d.failSetVolume--
		return fmt.Errorf("device busy")
	}
	d.volume = level
	return nil
}

func (d *fakeDevice) Mute(context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Mute")
	return d.mute, nil
}

func (d *fakeDevice) SetMute(_ context.Context, mute bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetMute")
	d.mute = mute
	return nil
}

func (d *fakeDevice) TransportInfo(context.Context) (gateway.TransportState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("TransportInfo")
	return gateway.TransportState{State: d.state, Status: "OK"}, nil
}

func (d *fakeDevice) Play(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Play")
	d.state = StatePlaying
	return nil
}

func (d *fakeDevice) Pause(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Pause")
	d.state = StatePaused
	return nil
}

func (d *fakeDevice) PositionInfo(context.Context) (gateway.Position, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("PositionInfo")
	return gateway.Position{Track: 1, TrackURI: d.mediaURI, RelTime: "0:00:10"}, nil
}

func (d *fakeDevice) MediaInfo(context.Context) (gateway.Media, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("MediaInfo")
	return gateway.Media{NrTracks: len(d.queue), URI: d.mediaURI}, nil
}

func (d *fakeDevice) SetAVTransportURI(_ context.Context, uri, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetAVTransportURI")
	d.mediaURI = uri
	return nil
}

func (d *fakeDevice) Queue(context.Context) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("Queue")
	return append([]string(nil), d.queue...), nil
}

func (d *fakeDevice) AddToQueue(_ context.Context, uri string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("AddToQueue")
	if d.failAddToQueue[uri] {
		return fmt.Errorf("cannot enqueue %s", uri)
	}
	d.queue = append(d.queue, uri)
	return nil
}

func (d *fakeDevice) EmptyQueue(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("EmptyQueue")
	d.queue = nil
	return nil
}

func (d *fakeDevice) SetPlayMode(_ context.Context, mode string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SetPlayMode")
	d.playMode = mode
	return nil
}

func (d *fakeDevice) SeekTrack(_ context.Context, _ int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SeekTrack")
	return nil
}

func (d *fakeDevice) SeekPos(_ context.Context, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("SeekPos")
	return nil
}

func (d *fakeDevice) JoinGroup(_ context.Context, leaderUUID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("JoinGroup")
	d.mediaURI = gateway.URIFollow + leaderUUID
	return nil
}

func (d *fakeDevice) StartOwnGroup(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("StartOwnGroup")
	return nil
}

func (d *fakeDevice) CurrentGroup(context.Context) ([]gateway.DeviceInfo, error) {
	return nil, nil
}

// fakeCatalogue is an in-memory MediaLocator that counts lookups.
type fakeCatalogue struct {
	mu      sync.Mutex
	prefix  string
	media   map[string]library.Media
	albums  map[int64]library.Album
	locates int
}

func newFakeCatalogue(prefix string) *fakeCatalogue {
	return &fakeCatalogue{
		prefix: prefix,
		media:  make(map[string]library.Media),
		albums: make(map[int64]library.Album),
	}
}

func (c *fakeCatalogue) addAlbum(id int64, title, artist string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.albums[id] = library.Album{ID: id, Title: title, Artist: artist}
}

func (c *fakeCatalogue) addTrack(url, title string, albumID int64, trackNo int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.media[url] = library.Media{
		ID:      int64(len(c.media) + 1),
		URL:     url,
		Kind:    library.KindTrack,
		Title:   title,
		AlbumID: albumID,
		TrackNo: trackNo,
	}
}

func (c *fakeCatalogue) Locate(url string) (library.Media, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locates++
	if m, ok := c.media[url]; ok {
		return m, nil
	}
	return library.Media{URL: url, Kind: library.ClassifyURL(url, c.prefix)}, nil
}

func (c *fakeCatalogue) Album(id int64) (library.Album, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.albums[id]; ok {
		return a, nil
	}
	return library.Album{}, fmt.Errorf("no album %d", id)
}

func (c *fakeCatalogue) TrackPrefix() string { return c.prefix }

func (c *fakeCatalogue) locateCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locates
}

// fixture wires a model over an in-memory store, a fake catalogue and
// fake devices.
type fixture struct {
	model     *Model
	store     *SQLStore
	catalogue *fakeCatalogue
	devices   map[string]*fakeDevice // by address
	mu        sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	pair, err := db.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	f := &fixture{
		store:   NewSQLStore(pair),
		devices: make(map[string]*fakeDevice),
	}
	opts := Options{
		CallRetries:    3,
		CallRetryDelay: time.Millisecond,
		VerifyTries:    5,
		VerifyDelay:    time.Millisecond,
		DeviceTimeout:  time.Second,
		IdleTimeout:    40 * time.Millisecond,
		CommandPoll:    10 * time.Millisecond,
		TrackPrefix:    "x-file-cifs://nas/music",
	}
	logger := log.New(io.Discard, "", 0)
	f.catalogue = newFakeCatalogue(opts.TrackPrefix)
	f.model = NewModel(f.store, f.catalogue, f.factory, opts, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		f.model.Stop(ctx)
	})
	return f
}

func (f *fixture) factory(address string) Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dev, ok := f.devices[address]; ok {
		return dev
	}
	dev := newFakeDevice(address)
	f.devices[address] = dev
	return dev
}

func (f *fixture) device(address string) *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[address]
}

func renderingEvent(volume int) events.RenderingEvent {
	return events.RenderingEvent{Volume: volume, HasVolume: true}
}

// twoPlayerTopology has kitchen leading hall.
func twoPlayerTopology() []gateway.DeviceInfo {
	return []gateway.DeviceInfo{
		{UUID: "RINCON_K", FullName: "Kitchen", Address: "10.0.0.20", LeaderUUID: "RINCON_K"},
		{UUID: "RINCON_H", FullName: "Hall", Address: "10.0.0.21", LeaderUUID: "RINCON_K"},
	}
}

// drain waits until every dispatcher queue is empty and idle.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.model.mu.Lock()
		defer f.model.mu.Unlock()
		for _, d := range f.model.dispatchers {
			if d.running || len(d.queue) > 0 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}
