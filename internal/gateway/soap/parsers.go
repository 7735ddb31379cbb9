package soap

import (
	"bytes"
	"encoding/xml"
	"html"
	"strconv"
	"strings"
)

func parseTextValue(payload []byte, element string) string {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == element {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					return strings.TrimSpace(value)
				}
			}
		}
	}
	return ""
}

func parseTransportInfo(payload []byte) TransportInfo {
	return TransportInfo{
		CurrentTransportState:  parseTextValue(payload, "CurrentTransportState"),
		CurrentTransportStatus: parseTextValue(payload, "CurrentTransportStatus"),
		CurrentSpeed:           parseTextValue(payload, "CurrentSpeed"),
	}
}

func parsePositionInfo(payload []byte) PositionInfo {
	track, _ := strconv.Atoi(parseTextValue(payload, "Track"))
	return PositionInfo{
		Track:         track,
		TrackDuration: parseTextValue(payload, "TrackDuration"),
		TrackMetaData: parseTextValue(payload, "TrackMetaData"),
		TrackURI:      parseTextValue(payload, "TrackURI"),
		RelTime:       parseTextValue(payload, "RelTime"),
	}
}

func parseMediaInfo(payload []byte) MediaInfo {
	nrTracks, _ := strconv.Atoi(parseTextValue(payload, "NrTracks"))
	return MediaInfo{
		NrTracks:           nrTracks,
		MediaDuration:      parseTextValue(payload, "MediaDuration"),
		CurrentURI:         parseTextValue(payload, "CurrentURI"),
		CurrentURIMetaData: parseTextValue(payload, "CurrentURIMetaData"),
	}
}

func parseVolume(payload []byte) VolumeInfo {
	vol, _ := strconv.Atoi(parseTextValue(payload, "CurrentVolume"))
	return VolumeInfo{CurrentVolume: vol}
}

func parseMute(payload []byte) MuteInfo {
	muteStr := parseTextValue(payload, "CurrentMute")
	return MuteInfo{CurrentMute: muteStr == "1" || strings.EqualFold(muteStr, "true")}
}

// parseQueuePage extracts track URIs from a ContentDirectory Browse of the
// device queue. The Result element holds XML-escaped DIDL-Lite; the track
// locations are the text of its res elements.
func parseQueuePage(payload []byte) QueuePage {
	page := QueuePage{}
	page.NumberReturned, _ = strconv.Atoi(parseTextValue(payload, "NumberReturned"))
	page.TotalMatches, _ = strconv.Atoi(parseTextValue(payload, "TotalMatches"))

	didl := parseTextValue(payload, "Result")
	if didl == "" {
		return page
	}
	didl = html.UnescapeString(didl)

	decoder := xml.NewDecoder(strings.NewReader(didl))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "res" {
			var uri string
			if err := decoder.DecodeElement(&uri, &se); err == nil {
				uri = strings.TrimSpace(uri)
				if uri != "" {
					page.URIs = append(page.URIs, uri)
				}
			}
		}
	}
	return page
}

// ParseStreamContent extracts the now-playing text from DIDL track metadata.
// Only stream media carries it; everything else yields "".
func ParseStreamContent(metadata string) string {
	if metadata == "" {
		return ""
	}
	decoder := xml.NewDecoder(strings.NewReader(metadata))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		if se, ok := tok.(xml.StartElement); ok && se.Name.Local == "streamContent" {
			var value string
			if err := decoder.DecodeElement(&value, &se); err == nil {
				return strings.TrimSpace(value)
			}
		}
	}
	return ""
}

// parseZoneGroupState parses a GetZoneGroupState response, or a raw
// ZoneGroupState XML document as delivered by topology events.
func parseZoneGroupState(payload []byte) ZoneGroupState {
	zoneXML := parseTextValue(payload, "ZoneGroupState")
	if zoneXML == "" {
		zoneXML = string(payload)
	}
	return ParseZoneGroupXML(zoneXML)
}

// ParseZoneGroupXML parses the inner ZoneGroups XML document.
func ParseZoneGroupXML(zoneXML string) ZoneGroupState {
	decoder := xml.NewDecoder(strings.NewReader(zoneXML))
	var state ZoneGroupState
	var currentGroup *ZoneGroup
	var coordinator string

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "ZoneGroup":
			group := ZoneGroup{}
			coordinator = ""
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "ID":
					group.ID = attr.Value
				case "Coordinator":
					group.Coordinator = attr.Value
					coordinator = attr.Value
				}
			}
			state.Groups = append(state.Groups, group)
			currentGroup = &state.Groups[len(state.Groups)-1]
		case "ZoneGroupMember":
			if currentGroup == nil {
				continue
			}
			member := ZoneMember{}
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "UUID":
					member.UUID = attr.Value
				case "ZoneName":
					member.ZoneName = attr.Value
				case "Location":
					member.Location = attr.Value
				}
			}
			member.IsCoordinator = member.UUID != "" && member.UUID == coordinator
			currentGroup.Members = append(currentGroup.Members, member)
		case "Satellite":
			if currentGroup == nil {
				continue
			}
			satellite := ZoneMember{IsSatellite: true}
			for _, attr := range se.Attr {
				switch attr.Name.Local {
				case "UUID":
					satellite.UUID = attr.Value
				case "ZoneName":
					satellite.ZoneName = attr.Value
				case "Location":
					satellite.Location = attr.Value
				}
			}
			currentGroup.Members = append(currentGroup.Members, satellite)
		}
	}

	return state
}
