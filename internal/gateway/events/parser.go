package events

import (
	"encoding/xml"
	"html"
	"strconv"
	"strings"
)

// UPnP propertyset envelope
type propertyset struct {
	XMLName    xml.Name   `xml:"propertyset"`
	Properties []property `xml:"property"`
}

type property struct {
	LastChange     string `xml:"LastChange"`
	ZoneGroupState string `xml:"ZoneGroupState"`
}

type attrVal struct {
	Val string `xml:"val,attr"`
}

type channelAttrVal struct {
	Channel string `xml:"channel,attr"`
	Val     string `xml:"val,attr"`
}

type avTransportEvent struct {
	XMLName    xml.Name `xml:"Event"`
	InstanceID struct {
		TransportState       attrVal `xml:"TransportState"`
		CurrentPlayMode      attrVal `xml:"CurrentPlayMode"`
		CurrentTrackURI      attrVal `xml:"CurrentTrackURI"`
		CurrentTrackMetaData attrVal `xml:"CurrentTrackMetaData"`
		AVTransportURI       attrVal `xml:"AVTransportURI"`
	} `xml:"InstanceID"`
}

type renderingControlEvent struct {
	XMLName    xml.Name `xml:"Event"`
	InstanceID struct {
		Volume []channelAttrVal `xml:"Volume"`
		Mute   []channelAttrVal `xml:"Mute"`
	} `xml:"InstanceID"`
}

// ParseTransportNotify parses an AVTransport NOTIFY body. The interesting
// content lives inside the double-encoded LastChange property.
func ParseTransportNotify(body []byte) (TransportEvent, error) {
	lastChange, err := extractLastChange(body)
	if err != nil {
		return TransportEvent{}, err
	}

	var evt avTransportEvent
	if err := xml.Unmarshal([]byte(lastChange), &evt); err != nil {
		return TransportEvent{}, err
	}

	return TransportEvent{
		TransportState:       evt.InstanceID.TransportState.Val,
		PlayMode:             evt.InstanceID.CurrentPlayMode.Val,
		CurrentTrackURI:      evt.InstanceID.CurrentTrackURI.Val,
		CurrentTrackMetaData: html.UnescapeString(evt.InstanceID.CurrentTrackMetaData.Val),
		AVTransportURI:       evt.InstanceID.AVTransportURI.Val,
	}, nil
}

// ParseRenderingNotify parses a RenderingControl NOTIFY body. Only the
// Master channel volume and mute are tracked.
func ParseRenderingNotify(body []byte) (RenderingEvent, error) {
	lastChange, err := extractLastChange(body)
	if err != nil {
		return RenderingEvent{}, err
	}

	var evt renderingControlEvent
	if err := xml.Unmarshal([]byte(lastChange), &evt); err != nil {
		return RenderingEvent{}, err
	}

	out := RenderingEvent{}
	for _, vol := range evt.InstanceID.Volume {
		if vol.Channel == "Master" {
			if v, err := strconv.Atoi(vol.Val); err == nil {
				out.Volume = v
				out.HasVolume = true
			}
		}
	}
	for _, mute := range evt.InstanceID.Mute {
		if mute.Channel == "Master" {
			out.Muted = mute.Val == "1"
			out.HasMute = true
		}
	}
	return out, nil
}

// ParseTopologyNotify parses a ZoneGroupTopology NOTIFY body.
func ParseTopologyNotify(body []byte) (TopologyEvent, error) {
	var ps propertyset
	if err := xml.Unmarshal(body, &ps); err != nil {
		return TopologyEvent{}, err
	}
	for _, prop := range ps.Properties {
		if prop.ZoneGroupState != "" {
			return TopologyEvent{ZoneGroupState: html.UnescapeString(prop.ZoneGroupState)}, nil
		}
	}
	return TopologyEvent{}, nil
}

func extractLastChange(body []byte) (string, error) {
	var ps propertyset
	if err := xml.Unmarshal(body, &ps); err != nil {
		return "", err
	}
	for _, prop := range ps.Properties {
		if prop.LastChange != "" {
			return html.UnescapeString(prop.LastChange), nil
		}
	}
	return "", nil
}

// ParseSID extracts the subscription ID from a SUBSCRIBE response header.
func ParseSID(sidHeader string) string {
	return strings.TrimSpace(sidHeader)
}

// ParseTimeout extracts the timeout seconds from a "Second-NNN" header.
func ParseTimeout(timeoutHeader string) int {
	timeoutHeader = strings.TrimSpace(timeoutHeader)
	if strings.HasPrefix(strings.ToLower(timeoutHeader), "second-") {
		if n, err := strconv.Atoi(timeoutHeader[len("second-"):]); err == nil {
			return n
		}
	}
	return 0
}

// ParseSEQ extracts the event sequence number header.
func ParseSEQ(seqHeader string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(seqHeader))
	return n
}
