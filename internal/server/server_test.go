package server

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/auth"
	"github.com/colmturner/sonos-fleet-go/internal/config"
	"github.com/colmturner/sonos-fleet-go/internal/db"
	"github.com/colmturner/sonos-fleet-go/internal/fleet"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type enqueuedCommand struct {
	player  string
	command string
	args    []string
}

type fakeSub struct {
	ch     chan []fleet.Change
	closed bool
	mu     sync.Mutex
}

func (s *fakeSub) Changes() <-chan []fleet.Change { return s.ch }

func (s *fakeSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type fakeEngine struct {
	mu       sync.Mutex
	players  []fleet.PlayerState
	changes  []fleet.Change
	enqueued []enqueuedCommand
	sub      *fakeSub
}

func (e *fakeEngine) Players() []fleet.PlayerState { return e.players }

func (e *fakeEngine) PlayerByName(name string) (fleet.PlayerState, error) {
	for _, p := range e.players {
		if p.Name == name {
			return p, nil
		}
	}
	return fleet.PlayerState{}, apperrors.NewPlayerNotFoundError(name)
}

func (e *fakeEngine) ChangesSince(seq int64) ([]fleet.Change, error) {
	var out []fleet.Change
	for _, c := range e.changes {
		if c.Seq > seq {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *fakeEngine) EnqueueCommand(name, command string, args []string) (string, error) {
	if name == "nobody" {
		return "", apperrors.NewPlayerNotFoundError(name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enqueued = append(e.enqueued, enqueuedCommand{player: name, command: command, args: args})
	return "cmd-1", nil
}

func (e *fakeEngine) Subscribe(fleet.SubscribeOptions) ([]fleet.PlayerState, Subscription, error) {
	return e.players, e.sub, nil
}

func (e *fakeEngine) ListenState() string { return "LISTENING" }

type fakeLibrary struct {
	albums  []library.Album
	artwork map[int64][]byte
}

func (l *fakeLibrary) Search(query string) ([]library.Album, error) {
	return l.albums, nil
}

func (l *fakeLibrary) Album(id int64) (library.Album, error) {
	for _, a := range l.albums {
		if a.ID == id {
			return a, nil
		}
	}
	return library.Album{}, sql.ErrNoRows
}

func (l *fakeLibrary) Artwork(id int64) ([]byte, error) {
	image, ok := l.artwork[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return image, nil
}

type serverFixture struct {
	srv    *httptest.Server
	engine *fakeEngine
	lib    *fakeLibrary
	cfg    config.Config
	token  string
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	cfg := config.Config{
		JWTSecret:                testSecret,
		JWTAccessTokenExpirySec:  3600,
		JWTRefreshTokenExpirySec: 7200,
	}

	pair, err := db.InitMemory()
	require.NoError(t, err)
	t.Cleanup(func() { pair.Close() })

	engine := &fakeEngine{
		players: []fleet.PlayerState{
			{ID: 1, UUID: "RINCON_K", Name: "kitchen", FullName: "Kitchen", IsLeader: true, PlayState: "STOPPED"},
		},
		changes: []fleet.Change{
			{Seq: 1, PlayerID: 1, Field: "volume", Value: "20"},
			{Seq: 2, PlayerID: 1, Field: "mute", Value: "false"},
		},
		sub: &fakeSub{ch: make(chan []fleet.Change, 4)},
	}
	lib := &fakeLibrary{
		albums: []library.Album{
			{ID: 7, Dir: "beatles/abbey-road", Title: "Abbey Road", Artist: "The Beatles"},
		},
		artwork: map[int64][]byte{
			3: []byte("\x89PNG\r\n\x1a\nfakeimagebytes"),
		},
	}

	handler := NewHandler(cfg, Deps{
		Engine:  engine,
		Library: lib,
		DB:      pair,
		Rescan:  func() error { return nil },
		Logger:  log.New(io.Discard, "", 0),
	})
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	tokens, err := auth.GenerateTokenPair(cfg, auth.TokenPayload{Sub: "test", ClientName: "tests"})
	require.NoError(t, err)

	return &serverFixture{srv: srv, engine: engine, lib: lib, cfg: cfg, token: tokens.AccessToken}
}

func (f *serverFixture) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+f.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestAuthRequired(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.srv.URL + "/api/players")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody := body["error"].(map[string]any)
	require.Equal(t, "UNAUTHORIZED", errBody["code"])
}

func TestLoginIssuesUsableTokens(t *testing.T) {
	f := newServerFixture(t)

	payload, _ := json.Marshal(map[string]string{"client_name": "tests", "secret": testSecret})
	resp, err := http.Post(f.srv.URL+"/api/auth/login", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	access := body["access_token"].(string)
	require.NotEmpty(t, access)
	require.NotEmpty(t, body["refresh_token"])

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+access)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	status := decodeBody(t, resp)
	require.Equal(t, "LISTENING", status["listen"])
	require.Len(t, status["players"], 1)
	system := status["system"].(map[string]any)
	require.Contains(t, system, "started_at")
}

func TestLoginRejectsWrongSecret(t *testing.T) {
	f := newServerFixture(t)

	payload, _ := json.Marshal(map[string]string{"client_name": "tests", "secret": "wrong"})
	resp, err := http.Post(f.srv.URL+"/api/auth/login", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func TestPlayerLookup(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/players/kitchen", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "RINCON_K", body["uuid"])

	resp = f.request(t, http.MethodGet, "/api/players/attic", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body = decodeBody(t, resp)
	require.Equal(t, "PLAYER_NOT_FOUND", body["error"].(map[string]any)["code"])
}

func TestChangesEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/changes?since=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	changes := body["changes"].([]any)
	require.Len(t, changes, 1)
	require.Equal(t, "mute", changes[0].(map[string]any)["field"])

	resp = f.request(t, http.MethodGet, "/api/changes?since=banana", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestCommandEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/api/command/kitchen/volume", map[string]any{"args": []string{"30"}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, "cmd-1", body["id"])

	f.engine.mu.Lock()
	defer f.engine.mu.Unlock()
	require.Len(t, f.engine.enqueued, 1)
	require.Equal(t, enqueuedCommand{player: "kitchen", command: "volume", args: []string{"30"}}, f.engine.enqueued[0])
}

func TestCommandUnknownPlayer(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodPost, "/api/command/nobody/play", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/media/search?q=abbey", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	albums := body["albums"].([]any)
	require.Len(t, albums, 1)
	require.Equal(t, "Abbey Road", albums[0].(map[string]any)["title"])

	resp = f.request(t, http.MethodGet, "/api/media/search", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestArtworkEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp := f.request(t, http.MethodGet, "/api/media/artwork/3", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	image, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, f.lib.artwork[3], image)

	resp = f.request(t, http.MethodGet, "/api/media/artwork/99", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestWebSocketStreamsSnapshotThenChanges(t *testing.T) {
	f := newServerFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws?access_token=" + f.token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	var snapshot map[string]any
	require.NoError(t, conn.ReadJSON(&snapshot))
	require.Equal(t, "snapshot", snapshot["type"])
	require.Len(t, snapshot["players"], 1)

	f.engine.sub.ch <- []fleet.Change{{Seq: 3, PlayerID: 1, Field: "volume", Value: "55"}}

	var batch map[string]any
	require.NoError(t, conn.ReadJSON(&batch))
	require.Equal(t, "changes", batch["type"])
	changes := batch["changes"].([]any)
	require.Len(t, changes, 1)
	require.Equal(t, "volume", changes[0].(map[string]any)["field"])
}
