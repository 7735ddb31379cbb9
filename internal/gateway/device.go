package gateway

import (
	"context"
	"strconv"
	"strings"

	"github.com/colmturner/sonos-fleet-go/internal/gateway/events"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/soap"
)

// queuePageSize is how many queue entries one Browse call fetches.
const queuePageSize = 100

// Device is the gateway for one physical player.
type Device struct {
	ip     string
	soap   *soap.Client
	events *events.Manager
}

// NewDevice creates a gateway bound to one device address.
func NewDevice(ip string, soapClient *soap.Client, eventManager *events.Manager) *Device {
	return &Device{ip: ip, soap: soapClient, events: eventManager}
}

// Address returns the device's network address.
func (d *Device) Address() string { return d.ip }

// StartListening subscribes to the device's event services, routing events
// to the supplied handlers. Idempotent.
func (d *Device) StartListening(ctx context.Context, handlers events.Handlers) error {
	return d.events.SubscribeDevice(ctx, d.ip, handlers)
}

// StopListening tears down the device's event subscriptions. Idempotent.
func (d *Device) StopListening(ctx context.Context) error {
	return d.events.UnsubscribeDevice(ctx, d.ip)
}

// IsListening reports whether event subscriptions are active.
func (d *Device) IsListening() bool {
	return d.events.IsDeviceSubscribed(d.ip)
}

// Description fetches the static device attributes.
func (d *Device) Description(ctx context.Context) (Description, error) {
	attrs, err := d.soap.GetZoneAttributes(ctx, d.ip)
	if err != nil {
		return Description{}, err
	}
	state, err := d.soap.GetZoneGroupState(ctx, d.ip)
	if err != nil {
		return Description{}, err
	}
	desc := Description{FullName: attrs.CurrentZoneName}
	for _, group := range state.Groups {
		for _, member := range group.Members {
			if member.ZoneName == attrs.CurrentZoneName && hostOf(member.Location) == d.ip {
				desc.UUID = member.UUID
			}
		}
	}
	return desc, nil
}

func (d *Device) Volume(ctx context.Context) (int, error) {
	info, err := d.soap.GetVolume(ctx, d.ip)
	return info.CurrentVolume, err
}

func (d *Device) SetVolume(ctx context.Context, level int) error {
	return d.soap.SetVolume(ctx, d.ip, level)
}

func (d *Device) Mute(ctx context.Context) (bool, error) {
	info, err := d.soap.GetMute(ctx, d.ip)
	return info.CurrentMute, err
}

func (d *Device) SetMute(ctx context.Context, mute bool) error {
	return d.soap.SetMute(ctx, d.ip, mute)
}

func (d *Device) TransportInfo(ctx context.Context) (TransportState, error) {
	info, err := d.soap.GetTransportInfo(ctx, d.ip)
	if err != nil {
		return TransportState{}, err
	}
	return TransportState{State: info.CurrentTransportState, Status: info.CurrentTransportStatus}, nil
}

func (d *Device) Play(ctx context.Context) error  { return d.soap.Play(ctx, d.ip) }
func (d *Device) Pause(ctx context.Context) error { return d.soap.Pause(ctx, d.ip) }

func (d *Device) PositionInfo(ctx context.Context) (Position, error) {
	info, err := d.soap.GetPositionInfo(ctx, d.ip)
	if err != nil {
		return Position{}, err
	}
	return Position{
		Track:    info.Track,
		TrackURI: info.TrackURI,
		Metadata: info.TrackMetaData,
		RelTime:  info.RelTime,
	}, nil
}

func (d *Device) MediaInfo(ctx context.Context) (Media, error) {
	info, err := d.soap.GetMediaInfo(ctx, d.ip)
	if err != nil {
		return Media{}, err
	}
	return Media{NrTracks: info.NrTracks, URI: info.CurrentURI, Metadata: info.CurrentURIMetaData}, nil
}

func (d *Device) SetAVTransportURI(ctx context.Context, uri, metadata string) error {
	return d.soap.SetAVTransportURI(ctx, d.ip, uri, metadata)
}

// Queue fetches the full device queue, paging through Browse calls.
func (d *Device) Queue(ctx context.Context) ([]string, error) {
	var urls []string
	offset := 0
	for {
		page, err := d.soap.BrowseQueue(ctx, d.ip, offset, queuePageSize)
		if err != nil {
			return nil, err
		}
		urls = append(urls, page.URIs...)
		offset += page.NumberReturned
		if page.NumberReturned == 0 || offset >= page.TotalMatches {
			return urls, nil
		}
	}
}

func (d *Device) AddToQueue(ctx context.Context, uri string) error {
	_, err := d.soap.AddURIToQueue(ctx, d.ip, uri, "")
	return err
}

func (d *Device) EmptyQueue(ctx context.Context) error {
	return d.soap.RemoveAllTracksFromQueue(ctx, d.ip)
}

func (d *Device) SetPlayMode(ctx context.Context, mode string) error {
	return d.soap.SetPlayMode(ctx, d.ip, mode)
}

func (d *Device) SeekTrack(ctx context.Context, trackNum int) error {
	return d.soap.Seek(ctx, d.ip, "TRACK_NR", strconv.Itoa(trackNum))
}

func (d *Device) SeekPos(ctx context.Context, relTime string) error {
	return d.soap.Seek(ctx, d.ip, "REL_TIME", relTime)
}

// JoinGroup makes this device a follower of the named leader.
func (d *Device) JoinGroup(ctx context.Context, leaderUUID string) error {
	return d.soap.SetAVTransportURI(ctx, d.ip, URIFollow+leaderUUID, "")
}

// StartOwnGroup detaches this device into its own single-member group.
func (d *Device) StartOwnGroup(ctx context.Context) error {
	return d.soap.BecomeCoordinatorOfStandaloneGroup(ctx, d.ip)
}

// CurrentGroup fetches the fleet topology as this device sees it.
func (d *Device) CurrentGroup(ctx context.Context) ([]DeviceInfo, error) {
	state, err := d.soap.GetZoneGroupState(ctx, d.ip)
	if err != nil {
		return nil, err
	}
	return TopologyFromZoneState(state), nil
}

// TopologyFromZoneState flattens zone groups into per-device topology
// tuples. Satellites are invisible to grouping and skipped.
func TopologyFromZoneState(state soap.ZoneGroupState) []DeviceInfo {
	var infos []DeviceInfo
	for _, group := range state.Groups {
		for _, member := range group.Members {
			if member.IsSatellite || member.UUID == "" {
				continue
			}
			infos = append(infos, DeviceInfo{
				UUID:       member.UUID,
				FullName:   member.ZoneName,
				Address:    hostOf(member.Location),
				LeaderUUID: group.Coordinator,
			})
		}
	}
	return infos
}

// hostOf extracts the host from a device description URL like
// http://192.168.1.20:1400/xml/device_description.xml.
func hostOf(location string) string {
	rest := location
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexByte(rest, '/'); idx >= 0 {
		rest = rest[:idx]
	}
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
