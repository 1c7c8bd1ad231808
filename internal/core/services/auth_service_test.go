package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/rest"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func signedToken(t *testing.T, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "alice", "exp": time.Now().Add(expiresIn).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestAuthService_LoginTracksExpiry(t *testing.T) {
	token := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/auth/login", r.URL.Path)
		json.NewEncoder(w).Encode(rest.TokenPair{Token: token, RefreshToken: "refresh-1"})
	}))
	defer srv.Close()

	client := rest.NewClient(rest.Config{BaseURL: srv.URL}, nil, zap.NewNop().Sugar())
	auth := NewAuthService(client, zap.NewNop().Sugar())

	sess, err := auth.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, domain.Username("alice"), sess.Username)
	assert.Equal(t, token, sess.Token)
	assert.Equal(t, "refresh-1", sess.RefreshToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), sess.ExpiresAt, 5*time.Second)
	assert.Equal(t, sess, auth.Current())
}

func TestAuthService_RefreshWithoutSession(t *testing.T) {
	client := rest.NewClient(rest.Config{BaseURL: "http://127.0.0.1:0"}, nil, zap.NewNop().Sugar())
	auth := NewAuthService(client, zap.NewNop().Sugar())

	_, err := auth.Refresh(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestAuthService_RefreshRotatesTokens(t *testing.T) {
	oldToken := signedToken(t, time.Minute)
	newToken := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(rest.TokenPair{Token: oldToken, RefreshToken: "refresh-1"})
		case "/api/auth/refresh":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "refresh-1", body["refreshToken"])
			json.NewEncoder(w).Encode(rest.TokenPair{Token: newToken, RefreshToken: "refresh-2"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := rest.NewClient(rest.Config{BaseURL: srv.URL}, nil, zap.NewNop().Sugar())
	auth := NewAuthService(client, zap.NewNop().Sugar())
	_, err := auth.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	sess, err := auth.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, newToken, sess.Token)
	assert.Equal(t, "refresh-2", sess.RefreshToken)
	assert.Equal(t, domain.Username("alice"), sess.Username)
}

func TestAuthService_EnsureFresh(t *testing.T) {
	shortToken := signedToken(t, 10*time.Second)
	longToken := signedToken(t, time.Hour)
	var refreshes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(rest.TokenPair{Token: shortToken, RefreshToken: "refresh-1"})
		case "/api/auth/refresh":
			atomic.AddInt32(&refreshes, 1)
			json.NewEncoder(w).Encode(rest.TokenPair{Token: longToken})
		}
	}))
	defer srv.Close()

	client := rest.NewClient(rest.Config{BaseURL: srv.URL}, nil, zap.NewNop().Sugar())
	auth := NewAuthService(client, zap.NewNop().Sugar())
	_, err := auth.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	// Token expires in 10s; a 30s skew forces a refresh.
	require.NoError(t, auth.EnsureFresh(context.Background(), 30*time.Second))
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshes))
	assert.Equal(t, longToken, auth.Current().Token)
	// Refresh response kept the old refresh token.
	assert.Equal(t, "refresh-1", auth.Current().RefreshToken)

	// Now fresh for an hour; no further refresh.
	require.NoError(t, auth.EnsureFresh(context.Background(), 30*time.Second))
	assert.EqualValues(t, 1, atomic.LoadInt32(&refreshes))
}

func TestAuthService_RefreshHookRetriesRejectedRequest(t *testing.T) {
	staleToken := signedToken(t, time.Hour)
	freshToken := signedToken(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/login":
			json.NewEncoder(w).Encode(rest.TokenPair{Token: staleToken, RefreshToken: "refresh-1"})
		case "/api/auth/refresh":
			json.NewEncoder(w).Encode(rest.TokenPair{Token: freshToken})
		case "/api/users":
			if r.Header.Get("Authorization") != "Bearer "+freshToken {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode([]domain.User{{Username: "bob"}})
		}
	}))
	defer srv.Close()

	client := rest.NewClient(rest.Config{BaseURL: srv.URL}, nil, zap.NewNop().Sugar())
	auth := NewAuthService(client, zap.NewNop().Sugar())
	_, err := auth.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)

	users, err := client.Users(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, freshToken, auth.Current().Token)
}
