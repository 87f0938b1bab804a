package server

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/mcp-pkce-authserver/storage"
)

// AddUser seeds a resource owner. passwordHash must be a bcrypt hash.
func (s *Server) AddUser(ctx context.Context, id, username, passwordHash string) error {
	if id == "" || username == "" {
		return fmt.Errorf("user id and username are required")
	}
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return fmt.Errorf("user %s: password hash is not a bcrypt hash: %w", username, err)
	}
	return s.userStore.SaveUser(ctx, &storage.User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    s.now(),
	})
}

// AuthenticateUser checks a username and password against the seeded users.
// Unknown users and wrong passwords produce the same access_denied error.
func (s *Server) AuthenticateUser(ctx context.Context, username, password, clientIP string) (*storage.User, error) {
	user, err := s.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			s.Logger.Error("Failed to load user", "error", err)
			return nil, ErrServerError()
		}
		_ = bcrypt.CompareHashAndPassword(dummySecretHash(), []byte(password))
		s.Auditor.LogAuthFailure(username, "", clientIP, "unknown_user")
		return nil, ErrAccessDenied("invalid username or password")
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.Auditor.LogAuthFailure(user.ID, "", clientIP, "invalid_password")
		return nil, ErrAccessDenied("invalid username or password")
	}
	return user, nil
}

// LookupUser resolves a username asserted by a trusted upstream authenticator.
func (s *Server) LookupUser(ctx context.Context, username string) (*storage.User, error) {
	user, err := s.userStore.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrAccessDenied("unknown user")
		}
		s.Logger.Error("Failed to load user", "error", err)
		return nil, ErrServerError()
	}
	return user, nil
}
