package events

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"
)

// Manager orchestrates UPnP event subscriptions for the fleet. It runs the
// NOTIFY callback listener, keeps per-device subscriptions alive, and routes
// parsed events to the handlers registered for each device.
type Manager struct {
	logger    *log.Logger
	subClient *SubscriptionClient

	subscriptionTimeout int
	renewalBuffer       int
	callbackPort        int

	mu            sync.RWMutex
	subscriptions map[string]*Subscription // keyed by SID
	deviceSubs    map[string][]string      // device IP -> SIDs
	handlers      map[string]Handlers      // device IP -> handlers
	callbackURL   string
	stopped       bool

	httpServer *http.Server
	stopCh     chan struct{}

	now func() time.Time
}

// NewManager creates an event manager. callbackPort 0 picks an ephemeral
// port when Start runs.
func NewManager(logger *log.Logger, callbackPort int) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		logger:              logger,
		subClient:           NewSubscriptionClient(10 * time.Second),
		subscriptionTimeout: 3600,
		renewalBuffer:       60,
		callbackPort:        callbackPort,
		subscriptions:       make(map[string]*Subscription),
		deviceSubs:          make(map[string][]string),
		handlers:            make(map[string]Handlers),
		stopCh:              make(chan struct{}),
		now:                 time.Now,
	}
}

// Start binds the NOTIFY listener and starts the renewal loop.
func (m *Manager) Start() error {
	localIP, err := discoverLocalIP()
	if err != nil {
		return fmt.Errorf("discover local IP: %w", err)
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", m.callbackPort))
	if err != nil {
		return fmt.Errorf("bind callback listener: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	m.mu.Lock()
	m.callbackURL = fmt.Sprintf("http://%s:%d/notify", localIP, port)
	m.mu.Unlock()

	mux := http.NewServeMux()
	mux.Handle("/notify", m)
	m.httpServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := m.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.logger.Printf("UPNP: callback server error: %v", err)
		}
	}()
	go m.renewalLoop()

	m.logger.Printf("UPNP: event manager started, callback URL: %s", m.callbackURL)
	return nil
}

// Stop unsubscribes everything and shuts the callback listener down.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	close(m.stopCh)
	m.mu.Unlock()

	m.unsubscribeAll(ctx)
	if m.httpServer != nil {
		m.httpServer.Shutdown(ctx)
	}
	m.logger.Printf("UPNP: event manager stopped")
	return nil
}

// SubscribeDevice subscribes to all evented services on a device and
// registers the handlers its events should reach. Idempotent: services
// already subscribed are skipped.
func (m *Manager) SubscribeDevice(ctx context.Context, deviceIP string, handlers Handlers) error {
	m.mu.Lock()
	m.handlers[deviceIP] = handlers
	callbackURL := m.callbackURL
	existing := make(map[ServiceType]bool)
	for _, sid := range m.deviceSubs[deviceIP] {
		if sub := m.subscriptions[sid]; sub != nil {
			existing[sub.ServiceType] = true
		}
	}
	m.mu.Unlock()

	if callbackURL == "" {
		return fmt.Errorf("event manager not started")
	}

	var firstErr error
	for _, serviceType := range AllServices {
		if existing[serviceType] {
			continue
		}
		path := servicePaths[serviceType]

		sid, timeout, err := m.subClient.Subscribe(ctx, deviceIP, path, callbackURL, m.subscriptionTimeout)
		if err != nil {
			m.logger.Printf("UPNP: failed to subscribe %s on %s: %v", serviceType, deviceIP, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		renewIn := timeout - m.renewalBuffer
		if renewIn < 60 {
			renewIn = 60
		}
		m.addSubscription(&Subscription{
			SID:          sid,
			DeviceIP:     deviceIP,
			ServiceType:  serviceType,
			Timeout:      timeout,
			SubscribedAt: m.now(),
			RenewAt:      m.now().Add(time.Duration(renewIn) * time.Second),
		})
		m.logger.Printf("UPNP: subscribed to %s on %s (SID: %s)", serviceType, deviceIP, sid)
	}
	return firstErr
}

// UnsubscribeDevice removes all subscriptions and handlers for a device.
func (m *Manager) UnsubscribeDevice(ctx context.Context, deviceIP string) error {
	m.mu.Lock()
	sids := append([]string(nil), m.deviceSubs[deviceIP]...)
	delete(m.handlers, deviceIP)
	m.mu.Unlock()

	for _, sid := range sids {
		sub := m.findSubscriptionBySID(sid)
		if sub == nil {
			continue
		}
		if err := m.subClient.Unsubscribe(ctx, deviceIP, servicePaths[sub.ServiceType], sid); err != nil {
			m.logger.Printf("UPNP: failed to unsubscribe %s: %v", sid, err)
		}
		m.removeSubscription(sid)
	}
	return nil
}

// IsDeviceSubscribed reports whether a device has all services subscribed.
func (m *Manager) IsDeviceSubscribed(deviceIP string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[ServiceType]bool)
	for _, sid := range m.deviceSubs[deviceIP] {
		if sub := m.subscriptions[sid]; sub != nil {
			seen[sub.ServiceType] = true
		}
	}
	return len(seen) == len(AllServices)
}

// ServeHTTP handles incoming NOTIFY requests.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "NOTIFY" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sid := r.Header.Get("SID")
	seq := ParseSEQ(r.Header.Get("SEQ"))
	if sid == "" || r.Header.Get("NT") != "upnp:event" {
		http.Error(w, "Bad notify", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read body", http.StatusInternalServerError)
		return
	}

	m.handleNotify(sid, seq, body)

	// Always acknowledge; devices drop subscriptions on errors
	w.WriteHeader(http.StatusOK)
}

func (m *Manager) handleNotify(sid string, seq int, body []byte) {
	sub := m.findSubscriptionBySID(sid)
	if sub == nil {
		m.logger.Printf("UPNP: event for unknown SID: %s", sid)
		return
	}

	m.mu.Lock()
	if seq > 0 && sub.SEQ > 0 && seq != sub.SEQ+1 {
		m.logger.Printf("UPNP: sequence gap on %s: expected %d, got %d", sid, sub.SEQ+1, seq)
	}
	sub.SEQ = seq
	handlers := m.handlers[sub.DeviceIP]
	m.mu.Unlock()

	switch sub.ServiceType {
	case ServiceAVTransport:
		evt, err := ParseTransportNotify(body)
		if err != nil {
			m.reportError(handlers, fmt.Errorf("parse transport event: %w", err))
			return
		}
		if handlers.OnTransport != nil {
			handlers.OnTransport(evt)
		}
	case ServiceRenderingControl:
		evt, err := ParseRenderingNotify(body)
		if err != nil {
			m.reportError(handlers, fmt.Errorf("parse rendering event: %w", err))
			return
		}
		if handlers.OnRendering != nil {
			handlers.OnRendering(evt)
		}
	case ServiceZoneGroupTopology:
		evt, err := ParseTopologyNotify(body)
		if err != nil {
			m.reportError(handlers, fmt.Errorf("parse topology event: %w", err))
			return
		}
		if handlers.OnTopology != nil {
			handlers.OnTopology(evt)
		}
	}
}

func (m *Manager) reportError(handlers Handlers, err error) {
	if handlers.OnError != nil {
		handlers.OnError(err)
		return
	}
	m.logger.Printf("UPNP: %v", err)
}

func (m *Manager) addSubscription(sub *Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[sub.SID] = sub
	m.deviceSubs[sub.DeviceIP] = append(m.deviceSubs[sub.DeviceIP], sub.SID)
}

func (m *Manager) removeSubscription(sid string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscriptions[sid]
	if !ok {
		return
	}
	delete(m.subscriptions, sid)

	sids := m.deviceSubs[sub.DeviceIP]
	for i, s := range sids {
		if s == sid {
			m.deviceSubs[sub.DeviceIP] = append(sids[:i], sids[i+1:]...)
			break
		}
	}
	if len(m.deviceSubs[sub.DeviceIP]) == 0 {
		delete(m.deviceSubs, sub.DeviceIP)
	}
}

func (m *Manager) findSubscriptionBySID(sid string) *Subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.subscriptions[sid]
}

func (m *Manager) renewalLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.renewExpiring()
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) renewExpiring() {
	m.mu.RLock()
	var toRenew []*Subscription
	for _, sub := range m.subscriptions {
		if sub.IsExpiringSoon(m.now()) {
			toRenew = append(toRenew, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range toRenew {
		path := servicePaths[sub.ServiceType]

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		timeout, err := m.subClient.Renew(ctx, sub.DeviceIP, path, sub.SID, m.subscriptionTimeout)
		cancel()

		if err == ErrSubscriptionNotFound {
			m.logger.Printf("UPNP: subscription expired, resubscribing: %s", sub.SID)
			m.mu.RLock()
			handlers := m.handlers[sub.DeviceIP]
			m.mu.RUnlock()
			m.removeSubscription(sub.SID)
			m.SubscribeDevice(context.Background(), sub.DeviceIP, handlers)
			continue
		}
		if err != nil {
			m.logger.Printf("UPNP: failed to renew %s: %v", sub.SID, err)
			continue
		}

		renewIn := timeout - m.renewalBuffer
		if renewIn < 60 {
			renewIn = 60
		}
		m.mu.Lock()
		sub.Timeout = timeout
		sub.RenewAt = m.now().Add(time.Duration(renewIn) * time.Second)
		m.mu.Unlock()
	}
}

func (m *Manager) unsubscribeAll(ctx context.Context) {
	m.mu.RLock()
	sids := make([]string, 0, len(m.subscriptions))
	for sid := range m.subscriptions {
		sids = append(sids, sid)
	}
	m.mu.RUnlock()

	for _, sid := range sids {
		sub := m.findSubscriptionBySID(sid)
		if sub == nil {
			continue
		}
		m.subClient.Unsubscribe(ctx, sub.DeviceIP, servicePaths[sub.ServiceType], sid)
		m.removeSubscription(sid)
	}
}

// discoverLocalIP finds the local address devices should deliver events to.
// Dialing a well-known address selects the right interface without sending
// any traffic.
func discoverLocalIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
