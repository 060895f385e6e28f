// Package session holds the credentials the dashboard presents to the
// prediction backend. A Session is created once at startup and passed to
// the API client explicitly.
package session

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Session struct {
	token  string
	claims *jwt.RegisteredClaims
}

// New wraps a bearer token. When the token is a JWT its registered claims
// are decoded without verification; verifying is the backend's job.
func New(token string) *Session {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	s := &Session{token: token}
	if token == "" {
		return s
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		s.claims = claims
	}
	return s
}

func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// AuthorizationHeader returns the header value, or "" without a token.
func (s *Session) AuthorizationHeader() string {
	if s.Token() == "" {
		return ""
	}
	return "Bearer " + s.token
}

func (s *Session) Subject() string {
	if s == nil || s.claims == nil {
		return ""
	}
	return s.claims.Subject
}

// ExpiresAt reports the token expiry when the token carries one.
func (s *Session) ExpiresAt() (time.Time, bool) {
	if s == nil || s.claims == nil || s.claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return s.claims.ExpiresAt.Time, true
}

func (s *Session) Expired(now time.Time) bool {
	exp, ok := s.ExpiresAt()
	return ok && !now.Before(exp)
}
