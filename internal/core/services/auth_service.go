package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/rest"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// AuthService owns the session: login, token refresh and expiry tracking.
// Token expiry is read from the JWT claims without verifying the signature;
// verification is the server's job, the client only needs the deadline.
type AuthService struct {
	client *rest.Client
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	session domain.Session
}

func NewAuthService(client *rest.Client, logger *zap.SugaredLogger) *AuthService {
	s := &AuthService{client: client, logger: logger}
	client.SetUnauthorizedHandler(func(ctx context.Context) (string, error) {
		sess, err := s.Refresh(ctx)
		if err != nil {
			return "", err
		}
		return sess.Token, nil
	})
	return s
}

func (s *AuthService) Login(ctx context.Context, username, password string) (domain.Session, error) {
	pair, err := s.client.Login(ctx, username, password)
	if err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	session := domain.Session{
		Username:     domain.Username(username),
		Token:        pair.Token,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    tokenExpiry(pair.Token),
	}

	s.mu.Lock()
	s.session = session
	s.mu.Unlock()
	s.client.SetToken(pair.Token)

	s.logger.Infow("logged in", "username", username, "token_expires", session.ExpiresAt)
	return session, nil
}

func (s *AuthService) Refresh(ctx context.Context) (domain.Session, error) {
	s.mu.RLock()
	current := s.session
	s.mu.RUnlock()
	if current.RefreshToken == "" {
		return domain.Session{}, domain.ErrUnauthorized
	}

	pair, err := s.client.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return domain.Session{}, fmt.Errorf("refresh: %w", err)
	}
	current.Token = pair.Token
	if pair.RefreshToken != "" {
		current.RefreshToken = pair.RefreshToken
	}
	current.ExpiresAt = tokenExpiry(pair.Token)

	s.mu.Lock()
	s.session = current
	s.mu.Unlock()
	s.client.SetToken(current.Token)

	s.logger.Infow("session refreshed", "username", current.Username, "token_expires", current.ExpiresAt)
	return current, nil
}

// EnsureFresh refreshes proactively when the token is within skew of expiry.
func (s *AuthService) EnsureFresh(ctx context.Context, skew time.Duration) error {
	s.mu.RLock()
	expired := s.session.Expired(skew)
	s.mu.RUnlock()
	if !expired {
		return nil
	}
	_, err := s.Refresh(ctx)
	return err
}

func (s *AuthService) Current() domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
