package server

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/colmturner/sonos-fleet-go/internal/api"
	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/library"
)

func (s *Service) registerMediaRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/api/media/search", api.Handler(s.handleSearch))
	router.Method(http.MethodGet, "/api/media/album/{id}", api.Handler(s.handleAlbum))
	router.Method(http.MethodGet, "/api/media/artwork/{id}", api.Handler(s.handleArtwork))
	router.Method(http.MethodPost, "/api/media/rescan", api.Handler(s.handleRescan))
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) error {
	query := r.URL.Query().Get("q")
	if query == "" {
		return apperrors.NewValidationError("q is required", nil)
	}

	albums, err := s.deps.Library.Search(query)
	if err != nil {
		return err
	}
	if albums == nil {
		albums = []library.Album{}
	}
	return api.WriteJSON(w, http.StatusOK, map[string]any{
		"query":  query,
		"albums": albums,
	})
}

func (s *Service) handleAlbum(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	album, err := s.deps.Library.Album(id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("album not found", map[string]any{"id": id})
	}
	if err != nil {
		return err
	}
	return api.WriteJSON(w, http.StatusOK, album)
}

func (s *Service) handleArtwork(w http.ResponseWriter, r *http.Request) error {
	id, err := pathID(r)
	if err != nil {
		return err
	}
	image, err := s.deps.Library.Artwork(id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFoundError("artwork not found", map[string]any{"id": id})
	}
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", http.DetectContentType(image))
	w.Header().Set("Cache-Control", "max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(image)
	return err
}

func (s *Service) handleRescan(w http.ResponseWriter, r *http.Request) error {
	if s.deps.Rescan == nil {
		return apperrors.NewValidationError("library scanning is disabled", nil)
	}

	go func() {
		if err := s.deps.Rescan(); err != nil {
			s.deps.Logger.Printf("HTTP: library rescan: %v", err)
			return
		}
		s.setSystemStatus("last_rescan", time.Now().UTC().Format(time.RFC3339))
	}()

	return api.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "rescan started"})
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("id must be a positive integer", nil)
	}
	return id, nil
}
