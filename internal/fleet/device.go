package fleet

import (
	"context"

	"github.com/colmturner/sonos-fleet-go/internal/gateway"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/events"
)

// Device is what the model needs from a physical player. The gateway
// package provides the production implementation; tests substitute
// fakes.
type Device interface {
	Address() string
	StartListening(ctx context.Context, handlers events.Handlers) error
	StopListening(ctx context.Context) error
	IsListening() bool

	Description(ctx context.Context) (gateway.Description, error)
	Volume(ctx context.Context) (int, error)
	SetVolume(ctx context.Context, level int) error
	Mute(ctx context.Context) (bool, error)
	SetMute(ctx context.Context, mute bool) error
	TransportInfo(ctx context.Context) (gateway.TransportState, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	PositionInfo(ctx context.Context) (gateway.Position, error)
	MediaInfo(ctx context.Context) (gateway.Media, error)
	SetAVTransportURI(ctx context.Context, uri, metadata string) error
	Queue(ctx context.Context) ([]string, error)
	AddToQueue(ctx context.Context, uri string) error
	EmptyQueue(ctx context.Context) error
	SetPlayMode(ctx context.Context, mode string) error
	SeekTrack(ctx context.Context, trackNum int) error
	SeekPos(ctx context.Context, relTime string) error
	JoinGroup(ctx context.Context, leaderUUID string) error
	StartOwnGroup(ctx context.Context) error
	CurrentGroup(ctx context.Context) ([]gateway.DeviceInfo, error)
}

// DeviceFactory builds the gateway for a device address.
type DeviceFactory func(address string) Device
