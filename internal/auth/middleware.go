package auth

import (
	"net/http"
	"strings"

	"github.com/colmturner/sonos-fleet-go/internal/api"
	"github.com/colmturner/sonos-fleet-go/internal/apperrors"
	"github.com/colmturner/sonos-fleet-go/internal/config"
)

var publicRoutes = map[string]struct{}{
	"/api/auth/login":   {},
	"/api/auth/refresh": {},
	"/api/health":       {},
}

// Middleware validates JWT bearer tokens for protected routes. Browser
// WebSocket clients cannot set an Authorization header, so the token may
// also arrive as an access_token query parameter.
func Middleware(cfg config.Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicRoutes[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, err := extractToken(r)
			if err != nil {
				api.WriteError(w, r, err)
				return
			}

			payload, verifyErr := VerifyToken(cfg, token)
			if verifyErr != nil {
				if verifyErr == ErrTokenExpired {
					api.WriteError(w, r, apperrors.NewUnauthorizedError("Token has expired"))
					return
				}
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token"))
				return
			}
			if payload.Type != TokenTypeAccess {
				api.WriteError(w, r, apperrors.NewUnauthorizedError("Invalid token type"))
				return
			}

			user := User{
				Sub:        payload.Sub,
				ClientName: payload.ClientName,
				Type:       payload.Type,
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func extractToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			return "", apperrors.NewUnauthorizedError("Invalid Authorization header format")
		}
		return token, nil
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, nil
	}
	return "", apperrors.NewUnauthorizedError("Missing Authorization header")
}
