// Package gateway is the wire-level face of one player device: imperative
// SOAP RPCs, GENA event subscriptions, and SSDP discovery. The engine treats
// each device as an unreliable asynchronous peer; everything here returns
// plain errors and leaves retry policy to the caller.
package gateway

// URI scheme prefixes that classify what a player is rendering.
const (
	URIQueue  = "x-rincon-queue:"
	URIFollow = "x-rincon:"
	URIRadio  = "x-rincon-mp3radio:"
	URITV     = "x-sonos-htastream:"
)

// DeviceInfo is the topology tuple reported for one device.
type DeviceInfo struct {
	UUID       string
	FullName   string
	Address    string
	LeaderUUID string
}

// Description holds the static device attributes fetched at registration.
type Description struct {
	UUID     string
	FullName string
}

// TransportState is what GetTransportInfo reports.
type TransportState struct {
	State  string
	Status string
}

// Position is the subset of GetPositionInfo the engine uses.
type Position struct {
	Track    int
	TrackURI string
	Metadata string
	RelTime  string
}

// Media is the subset of GetMediaInfo the engine uses.
type Media struct {
	NrTracks int
	URI      string
	Metadata string
}
