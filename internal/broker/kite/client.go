// Package kite implements the live brokerage gateway against the Kite
// Connect HTTP API and its streaming feed.
package kite

import (
	"context"
	"fmt"
	nethttp "net/http"
	"time"

	"options_engine/internal/core"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/http"

	"golang.org/x/time/rate"
)

const kiteAPIVersion = "3"

// tokenSigner attaches the Kite authorization header. The access token is
// pulled per request so a re-authentication mid-session is picked up
// transparently.
type tokenSigner struct {
	apiKey  string
	session core.ISessionCoordinator
}

func (s *tokenSigner) SignRequest(req *nethttp.Request) error {
	token, err := s.session.EnsureSession(req.Context())
	if err != nil {
		return err
	}
	req.Header.Set("X-Kite-Version", kiteAPIVersion)
	req.Header.Set("Authorization", fmt.Sprintf("token %s:%s", s.apiKey, token))
	return nil
}

// Client is the rate-limited Kite HTTP transport. Read-heavy endpoints share
// one bucket, order placement has its own, and emergency operations bypass
// admission entirely.
type Client struct {
	http    *http.Client
	session core.ISessionCoordinator
	logger  core.ILogger

	readLimiter  *rate.Limiter
	orderLimiter *rate.Limiter
}

// NewClient builds the transport. Kite allows 3 read calls and 10 order
// calls per second per app.
func NewClient(baseURL, apiKey string, session core.ISessionCoordinator, logger core.ILogger) *Client {
	signer := &tokenSigner{apiKey: apiKey, session: session}
	return &Client{
		http:         http.NewClient(baseURL, 10*time.Second, signer),
		session:      session,
		logger:       logger.WithField("component", "kite_client"),
		readLimiter:  rate.NewLimiter(rate.Limit(3), 3),
		orderLimiter: rate.NewLimiter(rate.Limit(10), 10),
	}
}

type bucket int

const (
	bucketRead bucket = iota
	bucketOrder
	bucketBypass
)

func (c *Client) admit(ctx context.Context, b bucket) error {
	var limiter *rate.Limiter
	switch b {
	case bucketRead:
		limiter = c.readLimiter
	case bucketOrder:
		limiter = c.orderLimiter
	default:
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return apperrors.ErrRateLimited
	}
	return nil
}

func (c *Client) get(ctx context.Context, b bucket, path string, params map[string]string) ([]byte, error) {
	if err := c.admit(ctx, b); err != nil {
		return nil, err
	}
	body, err := c.http.Get(ctx, path, params)
	return body, c.translate(err)
}

func (c *Client) postForm(ctx context.Context, b bucket, path string, form map[string]string) ([]byte, error) {
	if err := c.admit(ctx, b); err != nil {
		return nil, err
	}
	body, err := c.http.PostForm(ctx, path, form)
	return body, c.translate(err)
}

func (c *Client) postJSON(ctx context.Context, b bucket, path string, payload interface{}) ([]byte, error) {
	if err := c.admit(ctx, b); err != nil {
		return nil, err
	}
	body, err := c.http.PostJSON(ctx, path, payload)
	return body, c.translate(err)
}

func (c *Client) putForm(ctx context.Context, b bucket, path string, form map[string]string) ([]byte, error) {
	if err := c.admit(ctx, b); err != nil {
		return nil, err
	}
	body, err := c.http.PutForm(ctx, path, form)
	return body, c.translate(err)
}

func (c *Client) delete(ctx context.Context, b bucket, path string, params map[string]string) ([]byte, error) {
	if err := c.admit(ctx, b); err != nil {
		return nil, err
	}
	body, err := c.http.Delete(ctx, path, params)
	return body, c.translate(err)
}

// translate folds transport failures into the gateway error taxonomy. Typed
// API rejections carry the Kite error envelope and are refined further by
// the caller via decodeEnvelope.
func (c *Client) translate(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*http.APIError); ok {
		switch {
		case apiErr.StatusCode == nethttp.StatusTooManyRequests:
			return apperrors.ErrRateLimited
		case apiErr.StatusCode == nethttp.StatusForbidden || apiErr.StatusCode == nethttp.StatusUnauthorized:
			c.session.Invalidate()
			return apperrors.ErrSessionExpired
		case apiErr.StatusCode >= 500:
			return apperrors.Unavailable(apiErr)
		default:
			return envelopeToError(apiErr.Body)
		}
	}
	return apperrors.Unavailable(err)
}
