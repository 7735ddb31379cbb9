// Package fleet keeps the in-memory model of every player on the
// network: who leads whom, what each group is playing, and the ordered
// change log clients resume from. All mutation funnels through the
// Model so state, change records and notification stay consistent.
package fleet

import (
	"strings"

	"github.com/colmturner/sonos-fleet-go/internal/gateway/soap"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

// Play states reported by devices.
const (
	StatePlaying       = "PLAYING"
	StateTransitioning = "TRANSITIONING"
	StatePaused        = "PAUSED_PLAYBACK"
	StateStopped       = "STOPPED"
)

// Play modes reported by devices.
const (
	PlayModeNormal    = "NORMAL"
	PlayModeRepeat    = "REPEAT"
	PlayModeRepeatAll = "REPEAT_ALL"
)

// Player is the modelled state of one device. Raw fields mirror what
// the device reports; derived fields are recomputed after every raw
// mutation. Group-level derivations (leadership, followers, media
// resolution) need the rest of the model and live on Model methods.
//
// CurrentURL distinguishes three cases: nil means the playback URL is
// not known yet, a pointer to "" means the device has explicitly
// nothing loaded, and anything else is the URL itself. QueueURLs is
// nil when the queue content is unknown and non-nil (possibly empty)
// once fetched.
type Player struct {
	ID       int64
	UUID     string
	FullName string
	Address  string

	LeaderUUID      string
	Volume          int
	Mute            bool
	PlayState       string
	PlayMode        string
	CurrentURL      *string
	CurrentMetadata string
	QueueURLs       []string
	Listening       bool

	// Derived.
	Name         string
	IsLeader     bool
	Playing      bool
	Repeating    bool
	NowPlaying   string
	MediaKind    library.MediaKind
	CurrentMedia *library.Media
	Queue        []QueueEntry
	Followers    []string

	// queueSrc remembers which QueueURLs Queue was expanded from, so
	// the catalogue is only consulted again when they change.
	queueSrc []string
}

// QueueEntry is one entry of the expanded queue view: a run of
// consecutive tracks from the same album grouped under it, or a single
// item of any other kind.
type QueueEntry struct {
	Album *library.Album `json:"album,omitempty"`
	Media *library.Media `json:"media,omitempty"`
}

// PlayerState is the exported snapshot of a player, as served to
// clients.
type PlayerState struct {
	ID             int64             `json:"id"`
	UUID           string            `json:"uuid"`
	Name           string            `json:"name"`
	FullName       string            `json:"fullName"`
	Address        string            `json:"address"`
	LeaderUUID     string            `json:"leaderUuid"`
	IsLeader       bool              `json:"isLeader"`
	Followers      []string          `json:"followers,omitempty"`
	Volume         int               `json:"volume"`
	Mute           bool              `json:"mute"`
	Playing        bool              `json:"playing"`
	Repeating      bool              `json:"isRepeating"`
	PlayState      string            `json:"playState"`
	PlayMode       string            `json:"playMode,omitempty"`
	CurrentURL     *string           `json:"currentUrl"`
	CurrentMedia   *library.Media    `json:"currentMedia,omitempty"`
	NowPlayingText string            `json:"nowPlayingText,omitempty"`
	MediaKind      library.MediaKind `json:"mediaKind,omitempty"`
	QueueURLs      []string          `json:"queueUrls,omitempty"`
	Queue          []QueueEntry      `json:"queue,omitempty"`
	Listening      bool              `json:"listening"`
}

// Snapshot copies the player into its exported form.
func (p *Player) Snapshot() PlayerState {
	var current *string
	if p.CurrentURL != nil {
		url := *p.CurrentURL
		current = &url
	}
	var media *library.Media
	if p.CurrentMedia != nil {
		copied := *p.CurrentMedia
		media = &copied
	}
	var queueURLs []string
	if p.QueueURLs != nil {
		queueURLs = append([]string(nil), p.QueueURLs...)
	}
	var queue []QueueEntry
	if p.Queue != nil {
		queue = append([]QueueEntry(nil), p.Queue...)
	}
	var followers []string
	if p.Followers != nil {
		followers = append([]string(nil), p.Followers...)
	}
	return PlayerState{
		ID:             p.ID,
		UUID:           p.UUID,
		Name:           p.Name,
		FullName:       p.FullName,
		Address:        p.Address,
		LeaderUUID:     p.LeaderUUID,
		IsLeader:       p.IsLeader,
		Followers:      followers,
		Volume:         p.Volume,
		Mute:           p.Mute,
		Playing:        p.Playing,
		Repeating:      p.Repeating,
		PlayState:      p.PlayState,
		PlayMode:       p.PlayMode,
		CurrentURL:     current,
		CurrentMedia:   media,
		NowPlayingText: p.NowPlaying,
		MediaKind:      p.MediaKind,
		QueueURLs:      queueURLs,
		Queue:          queue,
		Listening:      p.Listening,
	}
}

// recomputeDerived refreshes the derived fields computable from the
// player alone. trackPrefix is the URL prefix local library tracks
// live under; known reports whether a UUID is a registered player, nil
// meaning every leader reference resolves.
//
// A leader reference to a UUID nobody knows is an inconsistent report:
// the previous leadership stands rather than guessing.
func (p *Player) recomputeDerived(trackPrefix string, known func(uuid string) bool) {
	p.Name = shortName(p.FullName)
	switch {
	case p.LeaderUUID == "" || p.LeaderUUID == p.UUID:
		p.IsLeader = true
	case known == nil || known(p.LeaderUUID):
		p.IsLeader = false
	}
	p.Playing = p.IsLeader && (p.PlayState == StatePlaying || p.PlayState == StateTransitioning)
	p.Repeating = p.IsLeader && (p.PlayMode == PlayModeRepeat || p.PlayMode == PlayModeRepeatAll)
	if p.CurrentURL == nil || *p.CurrentURL == "" {
		p.MediaKind = ""
	} else {
		p.MediaKind = library.ClassifyURL(*p.CurrentURL, trackPrefix)
	}
	if p.MediaKind == library.KindRadio || p.MediaKind == library.KindWeb {
		p.NowPlaying = soap.ParseStreamContent(p.CurrentMetadata)
	} else {
		p.NowPlaying = ""
	}
}

// hasQueueURL reports whether url is in the known queue content.
// Always false while the queue is unknown.
func (p *Player) hasQueueURL(url string) bool {
	for _, u := range p.QueueURLs {
		if u == url {
			return true
		}
	}
	return false
}

// shortName derives the lookup name from a room name: lowercased with
// the spaces stripped out, so "Bedroom Two" answers to "bedroomtwo".
func shortName(fullName string) string {
	return strings.Join(strings.Fields(strings.ToLower(fullName)), "")
}

// strptr returns a pointer to s, for CurrentURL assignments.
func strptr(s string) *string { return &s }
