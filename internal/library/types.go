// Package library maintains the media catalogue: classification of
// playback URLs, an album index scanned from disk, artwork, and a word
// index for searching.
package library

import "strings"

// MediaKind classifies what a playback URL refers to.
type MediaKind string

const (
	KindQueue  MediaKind = "queue"  // a player's own queue resource
	KindFollow MediaKind = "follow" // following another player
	KindRadio  MediaKind = "radio"
	KindTV     MediaKind = "tv"
	KindTrack  MediaKind = "track" // a track in the local library
	KindWeb    MediaKind = "web"   // plain http(s) stream
	KindSonos  MediaKind = "sonos" // sonos service content
	KindOther  MediaKind = "other"
)

// Media is one catalogued playback URL.
type Media struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Kind      MediaKind `json:"kind"`
	Title     string    `json:"title,omitempty"`
	Artist    string    `json:"artist,omitempty"`
	AlbumID   int64     `json:"albumId,omitempty"`
	TrackNo   int       `json:"trackNo,omitempty"`
	ArtworkID int64     `json:"artworkId,omitempty"`
}

// Album is one directory of tracks in the local library.
type Album struct {
	ID     int64   `json:"id"`
	Dir    string  `json:"dir"`
	Hash   string  `json:"-"`
	Title  string  `json:"title"`
	Artist string  `json:"artist"`
	Genre  string  `json:"genre,omitempty"`
	Year   int     `json:"year,omitempty"`
	Tracks []Media `json:"tracks,omitempty"`
}

// ClassifyURL maps a playback URL onto its kind. trackPrefix is the
// URL prefix under which local library tracks are served.
func ClassifyURL(url, trackPrefix string) MediaKind {
	switch {
	case url == "":
		return KindOther
	case strings.HasPrefix(url, "x-rincon-queue:"):
		return KindQueue
	case strings.HasPrefix(url, "x-rincon:"):
		return KindFollow
	case strings.HasPrefix(url, "x-rincon-mp3radio:") || strings.HasPrefix(url, "aac:") || strings.HasPrefix(url, "hls-radio:"):
		return KindRadio
	case strings.HasPrefix(url, "x-sonos-htastream:"):
		return KindTV
	case trackPrefix != "" && strings.HasPrefix(url, trackPrefix):
		return KindTrack
	case strings.HasPrefix(url, "x-sonosapi-") || strings.HasPrefix(url, "x-sonos-"):
		return KindSonos
	case strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://"):
		return KindWeb
	default:
		return KindOther
	}
}
