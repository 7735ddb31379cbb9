package gateway

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"
)

const (
	ssdpAddr   = "239.255.255.250:1900"
	ssdpTarget = "urn:schemas-upnp-org:device:ZonePlayer:1"
)

type ssdpResponse struct {
	Location string
	USN      string
}

// ssdpSearch performs multi-pass SSDP M-SEARCH for player devices,
// deduplicated by USN.
func ssdpSearch(ctx context.Context, passes int, passInterval, timeout time.Duration) ([]ssdpResponse, error) {
	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		return nil, err
	}

	responses := make(map[string]ssdpResponse)

	for pass := 0; pass < passes; pass++ {
		if err := sendSearch(conn, addr); err != nil {
			return nil, err
		}
		if pass < passes-1 {
			select {
			case <-ctx.Done():
				return ssdpSlice(responses), ctx.Err()
			case <-time.After(passInterval):
			}
		}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				break
			}
			return ssdpSlice(responses), err
		}

		resp := parseSSDPResponse(string(buf[:n]))
		if resp.Location == "" || resp.USN == "" {
			continue
		}
		if _, exists := responses[resp.USN]; !exists {
			responses[resp.USN] = resp
		}
	}

	return ssdpSlice(responses), nil
}

func sendSearch(conn net.PacketConn, addr *net.UDPAddr) error {
	msg := strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 2",
		"ST: " + ssdpTarget,
		"",
		"",
	}, "\r\n")

	_, err := conn.WriteTo([]byte(msg), addr)
	return err
}

func parseSSDPResponse(raw string) ssdpResponse {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	headers := make(map[string]string)

	// Skip status line
	scanner.Scan()

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		headers[strings.ToUpper(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}

	return ssdpResponse{
		Location: headers["LOCATION"],
		USN:      headers["USN"],
	}
}

func ssdpSlice(responses map[string]ssdpResponse) []ssdpResponse {
	result := make([]ssdpResponse, 0, len(responses))
	for _, r := range responses {
		result = append(result, r)
	}
	return result
}
