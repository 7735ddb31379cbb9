package events

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrSubscriptionNotFound indicates the subscription no longer exists on
// the device (HTTP 412).
var ErrSubscriptionNotFound = fmt.Errorf("subscription not found")

// SubscriptionClient handles UPnP GENA subscription requests.
type SubscriptionClient struct {
	httpClient *http.Client
}

// NewSubscriptionClient creates a new subscription client.
func NewSubscriptionClient(timeout time.Duration) *SubscriptionClient {
	return &SubscriptionClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Subscribe sends a SUBSCRIBE request to a device.
// Returns the subscription ID and granted timeout on success.
func (c *SubscriptionClient) Subscribe(ctx context.Context, deviceIP, servicePath, callbackURL string, timeout int) (sid string, actualTimeout int, err error) {
	url := fmt.Sprintf("http://%s:1400%s", deviceIP, servicePath)

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("CALLBACK", fmt.Sprintf("<%s>", callbackURL))
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeout))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("subscribe request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("subscribe failed: %s", resp.Status)
	}

	sid = ParseSID(resp.Header.Get("SID"))
	if sid == "" {
		return "", 0, fmt.Errorf("no SID in response")
	}
	return sid, ParseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Renew sends a subscription renewal request.
func (c *SubscriptionClient) Renew(ctx context.Context, deviceIP, servicePath, sid string, timeout int) (actualTimeout int, err error) {
	url := fmt.Sprintf("http://%s:1400%s", deviceIP, servicePath)

	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}

	// Renewals carry SID only, no CALLBACK or NT
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeout))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("renew request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusPreconditionFailed {
		return 0, ErrSubscriptionNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("renew failed: %s", resp.Status)
	}
	return ParseTimeout(resp.Header.Get("TIMEOUT")), nil
}

// Unsubscribe sends an UNSUBSCRIBE request to a device.
func (c *SubscriptionClient) Unsubscribe(ctx context.Context, deviceIP, servicePath, sid string) error {
	url := fmt.Sprintf("http://%s:1400%s", deviceIP, servicePath)

	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("SID", sid)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Device may simply be offline; the subscription will lapse
		return nil
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	// 412 means the subscription is already gone
	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unsubscribe failed: %s", resp.Status)
	}
	return nil
}
