package soap

import (
	"context"
	"strconv"
)

// Transport actions

func (c *Client) GetTransportInfo(ctx context.Context, ip string) (TransportInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "GetTransportInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return TransportInfo{}, err
	}
	return parseTransportInfo(payload), nil
}

func (c *Client) GetPositionInfo(ctx context.Context, ip string) (PositionInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "GetPositionInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return PositionInfo{}, err
	}
	return parsePositionInfo(payload), nil
}

func (c *Client) GetMediaInfo(ctx context.Context, ip string) (MediaInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "GetMediaInfo", map[string]string{
		"InstanceID": "0",
	})
	if err != nil {
		return MediaInfo{}, err
	}
	return parseMediaInfo(payload), nil
}

func (c *Client) Play(ctx context.Context, ip string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "Play", map[string]string{
		"InstanceID": "0",
		"Speed":      "1",
	})
	return err
}

func (c *Client) Pause(ctx context.Context, ip string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "Pause", map[string]string{
		"InstanceID": "0",
	})
	return err
}

func (c *Client) SetAVTransportURI(ctx context.Context, ip, uri, metadata string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "SetAVTransportURI", map[string]string{
		"InstanceID":         "0",
		"CurrentURI":         uri,
		"CurrentURIMetaData": metadata,
	})
	return err
}

func (c *Client) AddURIToQueue(ctx context.Context, ip, uri, metadata string) (int, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "AddURIToQueue", map[string]string{
		"InstanceID":                      "0",
		"EnqueuedURI":                     uri,
		"EnqueuedURIMetaData":             metadata,
		"DesiredFirstTrackNumberEnqueued": "0",
		"EnqueueAsNext":                   "0",
	})
	if err != nil {
		return 0, err
	}
	trackNum, _ := strconv.Atoi(parseTextValue(payload, "FirstTrackNumberEnqueued"))
	return trackNum, nil
}

func (c *Client) RemoveAllTracksFromQueue(ctx context.Context, ip string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "RemoveAllTracksFromQueue", map[string]string{
		"InstanceID": "0",
	})
	return err
}

func (c *Client) SetPlayMode(ctx context.Context, ip, mode string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "SetPlayMode", map[string]string{
		"InstanceID":  "0",
		"NewPlayMode": mode,
	})
	return err
}

func (c *Client) Seek(ctx context.Context, ip, unit, target string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "Seek", map[string]string{
		"InstanceID": "0",
		"Unit":       unit,
		"Target":     target,
	})
	return err
}

func (c *Client) BecomeCoordinatorOfStandaloneGroup(ctx context.Context, ip string) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceAVTransport, "BecomeCoordinatorOfStandaloneGroup", map[string]string{
		"InstanceID": "0",
	})
	return err
}

// RenderingControl actions

func (c *Client) GetVolume(ctx context.Context, ip string) (VolumeInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "GetVolume", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return VolumeInfo{}, err
	}
	return parseVolume(payload), nil
}

func (c *Client) SetVolume(ctx context.Context, ip string, level int) error {
	_, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "SetVolume", map[string]string{
		"InstanceID":    "0",
		"Channel":       "Master",
		"DesiredVolume": strconv.Itoa(level),
	})
	return err
}

func (c *Client) GetMute(ctx context.Context, ip string) (MuteInfo, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "GetMute", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return MuteInfo{}, err
	}
	return parseMute(payload), nil
}

func (c *Client) SetMute(ctx context.Context, ip string, mute bool) error {
	desired := "0"
	if mute {
		desired = "1"
	}
	_, err := c.ExecuteAction(ctx, ip, ServiceRenderingControl, "SetMute", map[string]string{
		"InstanceID":  "0",
		"Channel":     "Master",
		"DesiredMute": desired,
	})
	return err
}

// ZoneGroupTopology actions

func (c *Client) GetZoneGroupState(ctx context.Context, ip string) (ZoneGroupState, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceZoneGroupTopology, "GetZoneGroupState", map[string]string{})
	if err != nil {
		return ZoneGroupState{}, err
	}
	return parseZoneGroupState(payload), nil
}

// DeviceProperties actions

func (c *Client) GetZoneAttributes(ctx context.Context, ip string) (ZoneAttributes, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceDeviceProperties, "GetZoneAttributes", map[string]string{})
	if err != nil {
		return ZoneAttributes{}, err
	}
	return ZoneAttributes{CurrentZoneName: parseTextValue(payload, "CurrentZoneName")}, nil
}

// ContentDirectory actions

// BrowseQueue pages through the device queue ("Q:0").
func (c *Client) BrowseQueue(ctx context.Context, ip string, startIndex, requestedCount int) (QueuePage, error) {
	payload, err := c.ExecuteAction(ctx, ip, ServiceContentDirectory, "Browse", map[string]string{
		"ObjectID":       "Q:0",
		"BrowseFlag":     "BrowseDirectChildren",
		"Filter":         "res",
		"StartingIndex":  strconv.Itoa(startIndex),
		"RequestedCount": strconv.Itoa(requestedCount),
		"SortCriteria":   "",
	})
	if err != nil {
		return QueuePage{}, err
	}
	return parseQueuePage(payload), nil
}
