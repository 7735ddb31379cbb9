package soap

// TransportInfo mirrors GetTransportInfo.
type TransportInfo struct {
	CurrentTransportState  string
	CurrentTransportStatus string
	CurrentSpeed           string
}

// PositionInfo mirrors GetPositionInfo.
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackMetaData string
	TrackURI      string
	RelTime       string
}

// MediaInfo mirrors GetMediaInfo.
type MediaInfo struct {
	NrTracks           int
	MediaDuration      string
	CurrentURI         string
	CurrentURIMetaData string
}

// VolumeInfo mirrors GetVolume.
type VolumeInfo struct {
	CurrentVolume int
}

// MuteInfo mirrors GetMute.
type MuteInfo struct {
	CurrentMute bool
}

// ZoneAttributes mirrors GetZoneAttributes (subset).
type ZoneAttributes struct {
	CurrentZoneName string
}

// QueuePage is one page of a device queue browse.
type QueuePage struct {
	URIs           []string
	NumberReturned int
	TotalMatches   int
}

// ZoneGroupState mirrors GetZoneGroupState (minimal subset needed).
type ZoneGroupState struct {
	Groups []ZoneGroup
}

// ZoneGroup represents one leader/follower group.
type ZoneGroup struct {
	ID          string
	Coordinator string
	Members     []ZoneMember
}

// ZoneMember represents a member device in a group.
type ZoneMember struct {
	UUID          string
	ZoneName      string
	Location      string
	IsCoordinator bool
	IsSatellite   bool
}
