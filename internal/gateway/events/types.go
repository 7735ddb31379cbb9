package events

import "time"

// ServiceType identifies an evented UPnP service.
type ServiceType string

const (
	ServiceAVTransport       ServiceType = "AVTransport"
	ServiceRenderingControl  ServiceType = "RenderingControl"
	ServiceZoneGroupTopology ServiceType = "ZoneGroupTopology"
)

// AllServices are the services every player subscription covers.
var AllServices = []ServiceType{
	ServiceAVTransport,
	ServiceRenderingControl,
	ServiceZoneGroupTopology,
}

// servicePaths maps a service to its GENA event path on the device.
var servicePaths = map[ServiceType]string{
	ServiceAVTransport:       "/MediaRenderer/AVTransport/Event",
	ServiceRenderingControl:  "/MediaRenderer/RenderingControl/Event",
	ServiceZoneGroupTopology: "/ZoneGroupTopology/Event",
}

// TransportEvent is the parsed AVTransport LastChange payload.
type TransportEvent struct {
	TransportState       string
	PlayMode             string
	CurrentTrackURI      string
	CurrentTrackMetaData string
	AVTransportURI       string
}

// RenderingEvent is the parsed RenderingControl LastChange payload.
type RenderingEvent struct {
	Volume    int
	HasVolume bool
	Muted     bool
	HasMute   bool
}

// TopologyEvent carries the raw zone group XML from a topology change.
type TopologyEvent struct {
	ZoneGroupState string
}

// Handlers are the per-device event callbacks. Nil handlers are skipped.
type Handlers struct {
	OnTransport func(TransportEvent)
	OnRendering func(RenderingEvent)
	OnTopology  func(TopologyEvent)
	OnError     func(error)
}

// Subscription tracks one GENA subscription on one device.
type Subscription struct {
	SID          string
	DeviceIP     string
	ServiceType  ServiceType
	Timeout      int
	SEQ          int
	SubscribedAt time.Time
	RenewAt      time.Time
}

// IsExpiringSoon reports whether the subscription is due for renewal.
func (s *Subscription) IsExpiringSoon(now time.Time) bool {
	return !now.Before(s.RenewAt)
}
