package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/delivery-tracking/internal/models"
)

var ErrInvalidToken = errors.New("auth: invalid token")

// Claims bind a bearer token to one delivery session and one role.
type Claims struct {
	SessionID string      `json:"session_id"`
	Role      models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with a shared HS256 secret.
type Manager struct {
	secret []byte
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret)}
}

func (m *Manager) MakeToken(sessionID string, role models.Role, ttl time.Duration) (string, error) {
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) ParseToken(tok string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid || !claims.Role.Valid() || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest accepts the token either from the Authorization header or,
// for browser WebSocket clients that cannot set headers, from ?token=.
func (m *Manager) FromRequest(r *http.Request) (*Claims, error) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			return nil, ErrInvalidToken
		}
		return m.ParseToken(strings.TrimSpace(auth[len("bearer "):]))
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return m.ParseToken(tok)
	}
	return nil, ErrInvalidToken
}
