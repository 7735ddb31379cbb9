package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/colmturner/sonos-fleet-go/internal/api"
	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/config"
)

// RegisterRoutes wires auth routes to the router.
func RegisterRoutes(router chi.Router, cfg config.Config) {
	router.Method(http.MethodPost, "/api/auth/login", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			ClientName string `json:"client_name"`
			Secret     string `json:"secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return apperrors.NewValidationError("client_name and secret are required", nil)
		}
		if body.ClientName == "" {
			return apperrors.NewValidationError("client_name is required", nil)
		}
		if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(cfg.JWTSecret)) != 1 {
			return apperrors.NewUnauthorizedError("Invalid secret")
		}

		tokens, err := GenerateTokenPair(cfg, TokenPayload{
			Sub:        uuid.NewString(),
			ClientName: body.ClientName,
		})
		if err != nil {
			return apperrors.NewInternalError("Failed to generate token pair")
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"access_token":   tokens.AccessToken,
			"refresh_token":  tokens.RefreshToken,
			"expires_in_sec": tokens.ExpiresInSec,
		})
	}))

	router.Method(http.MethodPost, "/api/auth/refresh", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var body struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RefreshToken == "" {
			return apperrors.NewValidationError("refresh_token is required", nil)
		}

		accessToken, expiresIn, err := RefreshAccessToken(cfg, body.RefreshToken)
		if err != nil {
			return apperrors.NewUnauthorizedError("Invalid refresh token")
		}

		return api.WriteJSON(w, http.StatusOK, map[string]any{
			"access_token":   accessToken,
			"expires_in_sec": expiresIn,
		})
	}))
}
