// Package client talks to the prediction backend's REST API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"prediction-dashboard/internal/models"
	"prediction-dashboard/internal/observability"
	"prediction-dashboard/internal/session"
)

const (
	pathLatest        = "/predictions/latest"
	pathRefreshAsync  = "/predictions/refresh-async"
	pathRefreshStatus = "/predictions/refresh-status"
	pathHealth        = "/predictions/health"

	maxErrorBody = 512
)

// Options configures a Client. Zero values get defaults.
type Options struct {
	BaseURL              string
	Timeout              time.Duration
	RequestsPerSec       int
	MaxRetries           int
	RetryInitialInterval time.Duration
	HTTPClient           *http.Client
	Logger               *slog.Logger
}

type Client struct {
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	session      *session.Session
	maxRetries   int
	retryInitial time.Duration
	logger       *slog.Logger
}

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// BackendStatus exposes the backend's HTTP status to error envelopes.
func (e *StatusError) BackendStatus() int { return e.StatusCode }

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: backend returned %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func New(opts Options, sess *session.Session) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080/api"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec == 0 {
		opts.RequestsPerSec = 5
	}
	if opts.RetryInitialInterval == 0 {
		opts.RetryInitialInterval = 250 * time.Millisecond
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		httpClient:   opts.HTTPClient,
		limiter:      rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.RequestsPerSec),
		session:      sess,
		maxRetries:   opts.MaxRetries,
		retryInitial: opts.RetryInitialInterval,
		logger:       opts.Logger.With("component", "prediction_client"),
	}
}

// LatestPredictions reads the cached prediction snapshot. The read is
// idempotent and is retried on transient failures.
func (c *Client) LatestPredictions(ctx context.Context) (*models.LatestPredictions, error) {
	var out models.LatestPredictions
	if err := c.call(ctx, http.MethodGet, pathLatest, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartRefresh asks the backend to regenerate predictions in the
// background. It is never retried.
func (c *Client) StartRefresh(ctx context.Context) (*models.RefreshAck, error) {
	var out models.RefreshAck
	if err := c.call(ctx, http.MethodPost, pathRefreshAsync, struct{}{}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshStatus polls the background job once; callers decide what a
// failure means.
func (c *Client) RefreshStatus(ctx context.Context) (*models.RefreshStatus, error) {
	var out models.RefreshStatus
	if err := c.call(ctx, http.MethodGet, pathRefreshStatus, nil, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Health(ctx context.Context) (*models.BackendHealth, error) {
	var out models.BackendHealth
	if err := c.call(ctx, http.MethodGet, pathHealth, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, method, path string, body, out any, retry bool) error {
	ctx, span := observability.StartSpan(ctx, method+" "+path)
	defer span.Finish()
	span.SetTag("backend.path", path)

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := c.do(ctx, method, path, payload, out)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if retry && c.maxRetries > 0 {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = c.retryInitial
		b := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(c.maxRetries))
		err = backoff.RetryNotify(operation, b, func(err error, wait time.Duration) {
			c.logger.Warn("backend call failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"wait", wait,
				"error", err,
			)
		})
	} else {
		err = operation()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}

	if err != nil {
		span.SetError(err)
		c.logger.Debug("backend call failed", "method", method, "path", path, "attempts", attempt, "error", err)
		return err
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth := c.session.AuthorizationHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(excerpt)),
		}
	}

	if out == nil {
		return nil
	}
	// A malformed body will not improve on retry.
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode %s response: %w", path, err))
	}
	return nil
}
