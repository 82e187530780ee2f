// Package auth authenticates API principals against the catalog.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/mskhalsa/EZPostgres-service/internal/domain"
	"github.com/mskhalsa/EZPostgres-service/internal/repository"
	"github.com/mskhalsa/EZPostgres-service/pkg/crypto"
	jwtpkg "github.com/mskhalsa/EZPostgres-service/pkg/jwt"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords so
// login responses cannot be used to probe the catalog.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Service issues and validates principal tokens.
type Service struct {
	users  repository.UserRepository
	secret string
	ttl    time.Duration
	logger *slog.Logger
}

// New constructs a Service.
func New(users repository.UserRepository, secret string, ttl time.Duration, logger *slog.Logger) Service {
	return Service{users: users, secret: secret, ttl: ttl, logger: logger}
}

// Token is an issued access token.
type Token struct {
	AccessToken string
	ExpiresIn   time.Duration
}

// Login verifies a username and password against the catalog and issues a
// token.
func (s Service) Login(ctx context.Context, username, password string) (*domain.User, Token, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, Token{}, ErrInvalidCredentials
		}
		return nil, Token{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, Token{}, ErrInvalidCredentials
	}
	access, err := jwtpkg.GenerateToken(user.Username, user.IsAdmin, s.secret, s.ttl)
	if err != nil {
		return nil, Token{}, err
	}
	s.logger.Info("principal logged in", "username", user.Username)
	return user, Token{AccessToken: access, ExpiresIn: s.ttl}, nil
}

// Authorize validates a bearer token and returns the catalog user it names.
// The user is re-read from the catalog so revoked identities fail even with
// a live token.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.secret)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByUsername(ctx, claims.Username)
	if err != nil {
		return nil, err
	}
	return user, nil
}
