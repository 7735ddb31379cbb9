// Command fleet-refresh pokes a running sonos-fleet daemon over its API.
//
// With no arguments it enqueues an "update" command for every player so
// the model re-reads transport, media and rendering state from the
// devices. With -rescan it also triggers a library rescan.
//
// Usage:
//
//	FLEET_ADDR=http://192.168.1.5:9100 JWT_SECRET=... go run ./cmd/fleet-refresh
//	go run ./cmd/fleet-refresh -player kitchen
//	go run ./cmd/fleet-refresh -rescan
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	player := flag.String("player", "", "refresh only this player")
	rescan := flag.Bool("rescan", false, "also trigger a library rescan")
	flag.Parse()

	addr := os.Getenv("FLEET_ADDR")
	if addr == "" {
		addr = "http://127.0.0.1:9100"
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatalf("JWT_SECRET is required")
	}

	client := &apiClient{base: addr, http: &http.Client{Timeout: 15 * time.Second}}
	if err := client.login(secret); err != nil {
		log.Fatalf("login failed: %v", err)
	}

	players, err := client.players()
	if err != nil {
		log.Fatalf("list players: %v", err)
	}

	for _, name := range players {
		if *player != "" && name != *player {
			continue
		}
		id, err := client.command(name, "update")
		if err != nil {
			log.Printf("refresh %s: %v", name, err)
			continue
		}
		log.Printf("refresh %s queued (%s)", name, id)
	}

	if *rescan {
		if err := client.post("/api/media/rescan", nil, nil); err != nil {
			log.Fatalf("rescan: %v", err)
		}
		log.Printf("library rescan started")
	}
}

type apiClient struct {
	base  string
	token string
	http  *http.Client
}

func (c *apiClient) login(secret string) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	body := map[string]string{"client_name": "fleet-refresh", "secret": secret}
	if err := c.post("/api/auth/login", body, &out); err != nil {
		return err
	}
	c.token = out.AccessToken
	return nil
}

func (c *apiClient) players() ([]string, error) {
	var out struct {
		Players []struct {
			Name string `json:"name"`
		} `json:"players"`
	}
	if err := c.get("/api/players", &out); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(out.Players))
	for _, p := range out.Players {
		names = append(names, p.Name)
	}
	return names, nil
}

func (c *apiClient) command(player, command string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.post("/api/command/"+player+"/"+command, nil, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

func (c *apiClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) post(path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var failure struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		if failure.Error.Message != "" {
			return fmt.Errorf("%s: %s", resp.Status, failure.Error.Message)
		}
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
