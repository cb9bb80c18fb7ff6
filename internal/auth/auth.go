// Package auth verifies bearer credentials presented at the websocket
// handshake and on the HTTP API.
//
// Verification is two-step: the JWT signature and expiry are checked
// first, then the subject is resolved against the user directory. A token
// whose subject no longer exists or has been deactivated is rejected even
// when the signature is valid, so a connection can never join rooms on
// behalf of a removed user.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/haasonsaas/pulse/internal/store"
	"github.com/haasonsaas/pulse/pkg/models"
)

var (
	// ErrInvalidToken indicates a missing, malformed, or expired credential.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrUnknownSubject indicates a verified token whose subject no longer
	// exists or is deactivated.
	ErrUnknownSubject = errors.New("unknown or deactivated user")
)

// Service authenticates bearer tokens against the user directory.
type Service struct {
	secret    []byte
	directory store.Directory
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an auth service. An empty secret disables token
// verification entirely; Authenticate then fails for every credential.
func NewService(secret string, directory store.Directory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		secret:    []byte(secret),
		directory: directory,
		logger:    logger.With("component", "auth"),
		now:       time.Now,
	}
}

// Enabled reports whether a verification secret is configured.
func (s *Service) Enabled() bool {
	return len(s.secret) > 0
}

// Authenticate verifies a bearer token and resolves the subject to a live
// identity. Role and location come from the directory record, not from
// token claims, so revoking a role takes effect on the next handshake.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Identity, error) {
	user, err := s.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return &models.Identity{
		UserID:     user.ID,
		Role:       user.Role,
		LocationID: user.LocationID,
	}, nil
}

// Verify validates the token and returns the full directory record of its
// subject.
func (s *Service) Verify(ctx context.Context, token string) (*models.User, error) {
	if !s.Enabled() {
		return nil, ErrInvalidToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}

	user, err := s.directory.GetUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownSubject
	}
	if err != nil {
		return nil, fmt.Errorf("resolve subject: %w", err)
	}
	if !user.Active {
		return nil, ErrUnknownSubject
	}
	return user, nil
}

// IssueToken signs a token for the given user id. Used by operational
// tooling and tests; Pulse itself only verifies.
func (s *Service) IssueToken(userID string, ttl time.Duration) (string, error) {
	if !s.Enabled() {
		return "", fmt.Errorf("auth secret not configured")
	}
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// BearerFromHeader extracts a bearer token from an Authorization header
// value. Returns an empty string when the header is not a bearer scheme.
func BearerFromHeader(header string) string {
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
