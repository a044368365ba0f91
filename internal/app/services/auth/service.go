package auth

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	domainauth "chatsync/internal/domain/auth"
	"chatsync/internal/domain/chat"
)

type TokenGenerator interface {
	NewToken() (string, error)
}

// Users resolves the participant behind a session.
type Users interface {
	Participant(ctx context.Context, id string) (chat.Participant, error)
}

// Service issues and resolves opaque bearer tokens.
type Service struct {
	Users      Users
	Sessions   domainauth.SessionStore
	Tokens     TokenGenerator
	SessionTTL time.Duration
	Logger     *slog.Logger
	Now        func() time.Time
}

var errNotConfigured = errors.New("auth: service missing dependencies")

// Issue creates a fresh session for userID and returns its token.
func (s *Service) Issue(ctx context.Context, userID string) (string, error) {
	if s.Tokens == nil {
		return "", errNotConfigured
	}
	token, err := s.Tokens.NewToken()
	if err != nil {
		return "", err
	}
	if err := s.Register(ctx, token, userID); err != nil {
		return "", err
	}
	return token, nil
}

// Register binds a caller-chosen token to userID, as fixtures do.
func (s *Service) Register(ctx context.Context, token, userID string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	if _, err := s.Users.Participant(ctx, strings.TrimSpace(userID)); err != nil {
		return err
	}
	session, err := domainauth.NewSession(domainauth.CreateSessionParams{
		Token:  domainauth.Token(token),
		UserID: userID,
		TTL:    s.SessionTTL,
		Now:    s.now(),
	})
	if err != nil {
		return err
	}
	if err := s.Sessions.Save(ctx, session); err != nil {
		return err
	}
	if s.Logger != nil {
		s.Logger.Info("session issued", "user_id", session.UserID)
	}
	return nil
}

// ResolveToken returns the participant owning token.
func (s *Service) ResolveToken(ctx context.Context, token string) (chat.Participant, error) {
	if err := s.ensureDependencies(); err != nil {
		return chat.Participant{}, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Participant{}, domainauth.ErrTokenRequired
	}
	session, err := s.Sessions.Get(ctx, domainauth.Token(token))
	if err != nil {
		return chat.Participant{}, err
	}
	if session.Expired(s.now()) {
		_ = s.Sessions.Delete(ctx, session.Token)
		return chat.Participant{}, domainauth.ErrSessionExpired
	}
	return s.Users.Participant(ctx, session.UserID)
}

func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.ensureDependencies(); err != nil {
		return err
	}
	return s.Sessions.Delete(ctx, domainauth.Token(strings.TrimSpace(token)))
}

func (s *Service) ensureDependencies() error {
	if s.Users == nil || s.Sessions == nil {
		return errNotConfigured
	}
	return nil
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
