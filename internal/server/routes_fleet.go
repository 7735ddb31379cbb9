package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/colmturner/sonos-fleet-go/internal/api"
	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/fleet"
)

func (s *Service) registerFleetRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/api/status", api.Handler(s.handleStatus))
	router.Method(http.MethodGet, "/api/players", api.Handler(s.handlePlayers))
	router.Method(http.MethodGet, "/api/players/{name}", api.Handler(s.handlePlayer))
	router.Method(http.MethodGet, "/api/changes", api.Handler(s.handleChanges))
	router.Method(http.MethodGet, "/api/commands", api.Handler(s.handleCommandNames))
	router.Method(http.MethodPost, "/api/command/{player}/{cmd}", api.Handler(s.handleCommand))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) error {
	system, err := s.systemStatus()
	if err != nil {
		return err
	}
	players := s.deps.Engine.Players()
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"listen":  s.deps.Engine.ListenState(),
		"system":  system,
		"players": players,
	})
}

func (s *Service) handlePlayers(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"players": s.deps.Engine.Players(),
	})
}

func (s *Service) handlePlayer(w http.ResponseWriter, r *http.Request) error {
	player, err := s.deps.Engine.PlayerByName(chi.URLParam(r, "name"))
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, player)
}

func (s *Service) handleChanges(w http.ResponseWriter, r *http.Request) error {
	since := int64(0)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return apperrors.NewValidationError("since must be a non-negative integer", nil)
		}
		since = parsed
	}

	changes, err := s.deps.Engine.ChangesSince(since)
	if err != nil {
		return err
	}
	if changes == nil {
		changes = []fleet.Change{}
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"since":   since,
		"changes": changes,
	})
}

func (s *Service) handleCommandNames(w http.ResponseWriter, r *http.Request) error {
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"commands": fleet.CommandNames(),
	})
}

func (s *Service) handleCommand(w http.ResponseWriter, r *http.Request) error {
	player := chi.URLParam(r, "player")
	command := chi.URLParam(r, "cmd")

	var body struct {
		Args []string `json:"args"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		return apperrors.NewValidationError("request body must be JSON with an optional args array", nil)
	}

	id, err := s.deps.Engine.EnqueueCommand(player, command, body.Args)
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusAccepted, map[string]any{
		"id":     id,
		"status": "queued",
	})
}
