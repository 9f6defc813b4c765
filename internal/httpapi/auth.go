package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexus-core/nexus/internal/nexuserr"
)

// TokenVerifier signs and verifies the bearer token the approval-resolution
// and session APIs require, adapted from the teacher's internal/auth.JWTService.
// A nil *TokenVerifier (the Server.Auth zero value) disables auth entirely —
// requireAuth becomes a no-op — matching §1's "HTTP routing itself is out of
// scope"; deployments that need enforcement configure one explicitly.
type TokenVerifier struct {
	secret []byte
	expiry time.Duration
}

// NewTokenVerifier builds a verifier signing/checking HS256 tokens with the
// given secret and expiry (0 disables expiry).
func NewTokenVerifier(secret string, expiry time.Duration) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret), expiry: expiry}
}

type tokenClaims struct {
	ProjectID string `json:"project_id,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a bearer token scoped to subject (a user or service account
// ID) and projectID.
func (v *TokenVerifier) Issue(subject, projectID string) (string, error) {
	if v == nil || len(v.secret) == 0 {
		return "", nexuserr.New(nexuserr.KindInternal, "token verifier not configured")
	}
	claims := tokenClaims{
		ProjectID: projectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if v.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(v.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify parses and validates a bearer token, returning its subject.
func (v *TokenVerifier) Verify(token string) (subject string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", nexuserr.New(nexuserr.KindValidation, "invalid or expired bearer token")
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return "", nexuserr.New(nexuserr.KindValidation, "invalid or expired bearer token")
	}
	return claims.Subject, nil
}

// requireAuth wraps h so it only runs once a valid "Authorization: Bearer
// <token>" header has been verified. When s.Auth is nil, auth is disabled
// and h runs unconditionally — matching the optional-dependency-via-nil
// pattern used throughout agent.LoopConfig.
func (s *Server) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Auth == nil {
			h(w, r)
			return
		}
		raw := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(raw, prefix) {
			writeErr(w, s.Logger, nexuserr.New(nexuserr.KindValidation, "missing bearer token"))
			return
		}
		if _, err := s.Auth.Verify(strings.TrimPrefix(raw, prefix)); err != nil {
			writeErr(w, s.Logger, err)
			return
		}
		h(w, r)
	}
}
