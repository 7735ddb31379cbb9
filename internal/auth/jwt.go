package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/colmturner/sonos-fleet-go/internal/config"
)

// TokenType describes access vs refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Tokens are minted and consumed by this service alone, so issuer and
// audience are fixed.
const (
	tokenIssuer   = "sonos-fleet"
	tokenAudience = "sonos-fleet-client"
)

// TokenPayload represents the validated payload data.
type TokenPayload struct {
	Sub        string
	ClientName string
	Type       TokenType
}

// TokenPair is returned from login and refresh flows.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int
}

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenType    = errors.New("token has invalid type")
)

// wireClaims is the claim layout on the wire. "use" distinguishes
// access from refresh tokens so one can never stand in for the other.
type wireClaims struct {
	Client string    `json:"client"`
	Use    TokenType `json:"use"`
	jwt.RegisteredClaims
}

// GenerateTokenPair creates a new access and refresh token.
func GenerateTokenPair(cfg config.Config, payload TokenPayload) (TokenPair, error) {
	access, err := mint(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := mint(cfg, payload, TokenTypeRefresh, cfg.JWTRefreshTokenExpirySec)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInSec: cfg.JWTAccessTokenExpirySec,
	}, nil
}

// RefreshAccessToken validates a refresh token and returns a new access token.
func RefreshAccessToken(cfg config.Config, refreshToken string) (string, int, error) {
	payload, err := VerifyToken(cfg, refreshToken)
	if err != nil {
		return "", 0, err
	}
	if payload.Type != TokenTypeRefresh {
		return "", 0, ErrTokenType
	}
	access, err := mint(cfg, payload, TokenTypeAccess, cfg.JWTAccessTokenExpirySec)
	if err != nil {
		return "", 0, err
	}
	return access, cfg.JWTAccessTokenExpirySec, nil
}

// VerifyToken parses and validates a JWT of either type.
func VerifyToken(cfg config.Config, token string) (TokenPayload, error) {
	var claims wireClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.JWTSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return TokenPayload{}, ErrTokenExpired
	case err != nil, parsed == nil, !parsed.Valid:
		return TokenPayload{}, ErrTokenInvalid
	}
	if claims.Subject == "" || claims.Client == "" {
		return TokenPayload{}, ErrTokenInvalid
	}
	if claims.Use != TokenTypeAccess && claims.Use != TokenTypeRefresh {
		return TokenPayload{}, ErrTokenInvalid
	}
	return TokenPayload{
		Sub:        claims.Subject,
		ClientName: claims.Client,
		Type:       claims.Use,
	}, nil
}

func mint(cfg config.Config, payload TokenPayload, use TokenType, ttlSec int) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wireClaims{
		Client: payload.ClientName,
		Use:    use,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   payload.Sub,
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlSec) * time.Second)),
		},
	})
	return token.SignedString([]byte(cfg.JWTSecret))
}
