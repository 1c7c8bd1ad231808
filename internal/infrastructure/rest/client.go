package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/pkg/circuitbreaker"
	apperrors "github.com/dench47/messenger-client-sub000/pkg/errors"
	"github.com/dench47/messenger-client-sub000/pkg/tracing"

	"go.uber.org/zap"
)

// Config holds REST endpoint settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// TokenPair is the login/refresh response.
type TokenPair struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// Client is the REST fallback and account API. The bearer token is attached
// to every authenticated call; a 401 triggers the registered refresh handler
// once, then the request is retried.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger

	mu             sync.RWMutex
	token          string
	onUnauthorized func(ctx context.Context) (string, error)
}

func NewClient(cfg Config, breaker *circuitbreaker.CircuitBreaker, logger *zap.SugaredLogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetUnauthorizedHandler registers the refresh-and-retry hook. The handler
// returns a fresh token or an error that aborts the retry.
func (c *Client) SetUnauthorizedHandler(fn func(ctx context.Context) (string, error)) {
	c.mu.Lock()
	c.onUnauthorized = fn
	c.mu.Unlock()
}

func (c *Client) Login(ctx context.Context, username, password string) (TokenPair, error) {
	ctx, span := tracing.TraceRESTCall(ctx, "login")
	defer span.End()

	var pair TokenPair
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &pair, false); err != nil {
		tracing.RecordError(ctx, err)
		return TokenPair{}, err
	}
	return pair, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	ctx, span := tracing.TraceRESTCall(ctx, "refresh")
	defer span.End()

	var pair TokenPair
	body := map[string]string{"refreshToken": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", body, &pair, false); err != nil {
		tracing.RecordError(ctx, err)
		return TokenPair{}, err
	}
	return pair, nil
}

// SendMessage posts an identifier-less message and returns the same message
// annotated with its server-assigned identifier.
func (c *Client) SendMessage(ctx context.Context, msg domain.WireMessage) (domain.WireMessage, error) {
	ctx, span := tracing.TraceRESTCall(ctx, "send_message")
	defer span.End()

	var out domain.WireMessage
	if err := c.do(ctx, http.MethodPost, "/api/messages", msg, &out, true); err != nil {
		tracing.RecordError(ctx, err)
		return domain.WireMessage{}, err
	}
	return out, nil
}

// Conversation fetches the ordered message list between two usernames.
func (c *Client) Conversation(ctx context.Context, a, b domain.Username) ([]domain.WireMessage, error) {
	ctx, span := tracing.TraceRESTCall(ctx, "conversation")
	defer span.End()

	path := fmt.Sprintf("/api/messages/%s/%s", url.PathEscape(string(a)), url.PathEscape(string(b)))
	var out []domain.WireMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return out, nil
}

func (c *Client) Users(ctx context.Context) ([]domain.User, error) {
	ctx, span := tracing.TraceRESTCall(ctx, "users")
	defer span.End()

	var out []domain.User
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out, true); err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	err := c.roundTrip(ctx, method, path, body, out, authed)
	if authed && apperrors.GetAppError(err) != nil && apperrors.GetAppError(err).Code == apperrors.ErrCodeUnauthorized {
		c.mu.RLock()
		refresh := c.onUnauthorized
		c.mu.RUnlock()
		if refresh == nil {
			return err
		}
		token, rerr := refresh(ctx)
		if rerr != nil {
			return fmt.Errorf("token refresh failed: %w", rerr)
		}
		c.SetToken(token)
		c.logger.Infow("retrying request after token refresh", "path", path)
		return c.roundTrip(ctx, method, path, body, out, authed)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out interface{}, authed bool) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return c.execute(ctx, req, out)
}

func (c *Client) execute(ctx context.Context, req *http.Request, out interface{}) error {
	call := func() error {
		resp, err := c.http.Do(req)
		if err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable, "request failed", http.StatusServiceUnavailable)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			c.logger.Warnw("request rejected",
				"method", req.Method,
				"path", req.URL.Path,
				"status", resp.StatusCode,
			)
			return statusError(resp.StatusCode, string(data))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.WrapError(err, apperrors.ErrCodeInternal, "decode response", http.StatusInternalServerError)
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(ctx, call)
	}
	return call()
}

func statusError(status int, body string) error {
	switch status {
	case http.StatusUnauthorized:
		return apperrors.NewUnauthorizedError("token rejected")
	case http.StatusForbidden:
		return apperrors.NewForbiddenError("forbidden")
	case http.StatusNotFound:
		return apperrors.NewNotFoundError("resource")
	case http.StatusTooManyRequests:
		return apperrors.NewRateLimitError()
	default:
		return apperrors.NewAppError(apperrors.ErrCodeInternal, fmt.Sprintf("status %d: %s", status, body), status)
	}
}
