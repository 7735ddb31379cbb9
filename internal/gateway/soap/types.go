package soap

// Service identifies a UPnP service on a player device.
type Service string

const (
	ServiceAVTransport       Service = "AVTransport"
	ServiceRenderingControl  Service = "RenderingControl"
	ServiceContentDirectory  Service = "ContentDirectory"
	ServiceZoneGroupTopology Service = "ZoneGroupTopology"
	ServiceDeviceProperties  Service = "DeviceProperties"
)

var serviceTypes = map[Service]string{
	ServiceAVTransport:       "urn:schemas-upnp-org:service:AVTransport:1",
	ServiceRenderingControl:  "urn:schemas-upnp-org:service:RenderingControl:1",
	ServiceContentDirectory:  "urn:schemas-upnp-org:service:ContentDirectory:1",
	ServiceZoneGroupTopology: "urn:upnp-org:serviceId:ZoneGroupTopology",
	ServiceDeviceProperties:  "urn:upnp-org:serviceId:DeviceProperties",
}

var controlPaths = map[Service]string{
	ServiceAVTransport:       "/MediaRenderer/AVTransport/Control",
	ServiceRenderingControl:  "/MediaRenderer/RenderingControl/Control",
	ServiceContentDirectory:  "/MediaServer/ContentDirectory/Control",
	ServiceZoneGroupTopology: "/ZoneGroupTopology/Control",
	ServiceDeviceProperties:  "/DeviceProperties/Control",
}

// EventPaths maps a service to its GENA event subscription path.
var EventPaths = map[Service]string{
	ServiceAVTransport:       "/MediaRenderer/AVTransport/Event",
	ServiceRenderingControl:  "/MediaRenderer/RenderingControl/Event",
	ServiceZoneGroupTopology: "/ZoneGroupTopology/Event",
}
