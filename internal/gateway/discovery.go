package gateway

import (
	"context"
	"log"
	"net/url"
	"sort"
	"time"

	"github.com/colmturner/sonos-fleet-go/internal/gateway/soap"
)

const (
	discoveryPasses       = 3
	discoveryPassInterval = 500 * time.Millisecond
	discoveryReadTimeout  = 4 * time.Second
)

// Discoverer locates player devices on the local network via SSDP,
// falling back to a configured list of static addresses.
type Discoverer struct {
	probe     prober
	staticIPs []string
	logger    *log.Logger
}

// prober is the narrow view of the SOAP client used to check candidates.
type prober interface {
	GetZoneAttributes(ctx context.Context, ip string) (soap.ZoneAttributes, error)
}

// NewDiscoverer builds a Discoverer. staticIPs may be empty.
func NewDiscoverer(probe prober, staticIPs []string, logger *log.Logger) *Discoverer {
	return &Discoverer{probe: probe, staticIPs: staticIPs, logger: logger}
}

// Discover returns the addresses of reachable devices. SSDP responders
// come first, then static addresses that SSDP missed but that answer a
// probe. Unreachable static addresses are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context) ([]string, error) {
	responses, err := ssdpSearch(ctx, discoveryPasses, discoveryPassInterval, discoveryReadTimeout)
	if err != nil && len(responses) == 0 {
		d.logger.Printf("DISCOVERY: SSDP search failed: %v", err)
		responses = nil
	}

	seen := make(map[string]struct{})
	var ips []string
	for _, resp := range responses {
		ip := locationHost(resp.Location)
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}
	d.logger.Printf("DISCOVERY: SSDP found %d devices", len(ips))

	for _, ip := range d.staticIPs {
		if _, ok := seen[ip]; ok {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		attrs, err := d.probe.GetZoneAttributes(probeCtx, ip)
		cancel()
		if err != nil {
			d.logger.Printf("DISCOVERY: static address %s unreachable: %v", ip, err)
			continue
		}
		d.logger.Printf("DISCOVERY: static address %s answered as %q", ip, attrs.CurrentZoneName)
		seen[ip] = struct{}{}
		ips = append(ips, ip)
	}

	sort.Strings(ips)
	return ips, nil
}

func locationHost(location string) string {
	if location == "" {
		return ""
	}
	parsed, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
