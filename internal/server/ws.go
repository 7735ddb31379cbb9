package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colmturner/sonos-fleet-go/internal/fleet"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is LAN-facing and auth happens in the middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsSnapshot struct {
	Type    string              `json:"type"`
	Players []fleet.PlayerState `json:"players"`
}

type wsChanges struct {
	Type    string         `json:"type"`
	Changes []fleet.Change `json:"changes"`
}

// handleWebSocket streams the player snapshot followed by coalesced
// change batches until the client disconnects. Each connection holds
// one engine subscription, which keeps the fleet in listening state.
// A debounce_ms query parameter paces deliveries for slow clients.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.deps.Logger.Printf("HTTP: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	var opts fleet.SubscribeOptions
	if ms, err := strconv.Atoi(r.URL.Query().Get("debounce_ms")); err == nil && ms > 0 {
		opts.Debounce = time.Duration(ms) * time.Millisecond
	}
	players, sub, err := s.deps.Engine.Subscribe(opts)
	if err != nil {
		s.deps.Logger.Printf("HTTP: websocket subscribe: %v", err)
		return
	}
	defer sub.Close()

	if err := writeWS(conn, wsSnapshot{Type: "snapshot", Players: players}); err != nil {
		return
	}

	// Reader goroutine only detects disconnects; clients send nothing.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case batch, ok := <-sub.Changes():
			if !ok {
				return
			}
			if err := writeWS(conn, wsChanges{Type: "changes", Changes: batch}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeWS(conn *websocket.Conn, payload any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(payload)
}
