package kite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"options_engine/internal/core"
	"options_engine/internal/session"
	apperrors "options_engine/pkg/errors"
	"options_engine/pkg/http"
)

// RequestTokenProvider obtains a fresh request token, typically by driving
// the interactive login flow through a sidecar.
type RequestTokenProvider interface {
	RequestToken(ctx context.Context) (string, error)
}

// EnvTokenProvider reads the request token from an environment variable,
// refreshed out of band by the login sidecar.
type EnvTokenProvider struct {
	Var string
}

func (p EnvTokenProvider) RequestToken(ctx context.Context) (string, error) {
	token := os.Getenv(p.Var)
	if token == "" {
		return "", apperrors.Unavailable(fmt.Errorf("request token not present in %s", p.Var))
	}
	return token, nil
}

// Authenticator exchanges a request token for an access token. Implements
// session.Authenticator.
type Authenticator struct {
	http      *http.Client
	apiKey    string
	apiSecret string
	provider  RequestTokenProvider
	calendar  core.ICalendar
	logger    core.ILogger
}

// NewAuthenticator creates the login flow. The token exchange is unsigned;
// it uses its own bare client.
func NewAuthenticator(baseURL, apiKey, apiSecret string, provider RequestTokenProvider, calendar core.ICalendar, logger core.ILogger) *Authenticator {
	return &Authenticator{
		http:      http.NewClient(baseURL, 30*time.Second, nil),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		provider:  provider,
		calendar:  calendar,
		logger:    logger.WithField("component", "kite_auth"),
	}
}

// Login implements session.Authenticator: fetch a request token, exchange it
// with the signed checksum, return the durable session.
func (a *Authenticator) Login(ctx context.Context) (*session.Session, error) {
	requestToken, err := a.provider.RequestToken(ctx)
	if err != nil {
		return nil, apperrors.Unavailable(err)
	}

	sum := sha256.Sum256([]byte(a.apiKey + requestToken + a.apiSecret))
	body, err := a.http.PostForm(ctx, "/session/token", map[string]string{
		"api_key":       a.apiKey,
		"request_token": requestToken,
		"checksum":      hex.EncodeToString(sum[:]),
	})
	if err != nil {
		if apiErr, ok := err.(*http.APIError); ok {
			return nil, envelopeToError(apiErr.Body)
		}
		return nil, apperrors.Unavailable(err)
	}

	var resp struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	if err := decodeEnvelope(body, &resp); err != nil {
		return nil, err
	}

	now := a.calendar.Now()
	a.logger.Info("Token exchange complete", "user_id", resp.UserID)
	return &session.Session{
		AccessToken: resp.AccessToken,
		UserID:      resp.UserID,
		LoginAt:     now,
		ExpiresAt:   a.calendar.TokenExpiry(now),
	}, nil
}
