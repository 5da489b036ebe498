// Package sessionserver implements the profile-by-id lookup against the
// Mojang session server (or any service speaking the same protocol).
package sessionserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"six2five/internal/names/providers"
	"six2five/internal/platform/clock"
	"six2five/pkg/domain"
)

const (
	// ProviderID names this provider in errors and logs.
	ProviderID = "sessionserver"

	// DefaultBaseURL is the public profile-by-id endpoint.
	DefaultBaseURL = "https://sessionserver.mojang.com/session/minecraft/profile"

	maxBodyBytes = 64 << 10
)

// Provider issues one GET per Lookup to <baseURL>/<32-hex-id>.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	clock      clock.Clock
}

type Option func(*Provider)

// WithHTTPClient replaces the default client. The client's Timeout still
// bounds each request.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

func WithClock(c clock.Clock) Option {
	return func(p *Provider) {
		p.clock = c
	}
}

// New creates a provider. A zero timeout leaves requests bounded only by the
// caller's context.
func New(baseURL string, timeout time.Duration, opts ...Option) *Provider {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	p := &Provider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock.System{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ID() string { return ProviderID }

// Lookup fetches the current name for id.
func (p *Provider) Lookup(ctx context.Context, id domain.ProfileID) (*providers.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+id.Hex(), nil)
	if err != nil {
		return nil, providers.NewProviderError(providers.ErrorInternal, ProviderID, "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	profile, err := parseProfileResponse(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}
	profile.ID = id
	profile.CheckedAt = p.clock.Now()
	return profile, nil
}

type profileResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// parseProfileResponse maps a status and body onto a profile or a
// categorized error. 204 means the service knows no such profile.
func parseProfileResponse(status int, body []byte) (*providers.Profile, error) {
	switch status {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, providers.NewProviderError(providers.ErrorNotFound, ProviderID, "no profile for id", nil)
	case http.StatusTooManyRequests:
		return nil, providers.NewProviderError(providers.ErrorRateLimited, ProviderID, "rate limit hit", nil)
	default:
		return nil, providers.NewProviderError(providers.ErrorProviderOutage, ProviderID,
			fmt.Sprintf("got %d as a response code", status), nil)
	}

	var parsed profileResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, providers.NewProviderError(providers.ErrorBadData, ProviderID, "decode profile", err)
	}
	if parsed.Name == "" {
		return nil, providers.NewProviderError(providers.ErrorBadData, ProviderID, "profile has no name", nil)
	}
	return &providers.Profile{Name: parsed.Name}, nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return providers.NewProviderError(providers.ErrorCancelled, ProviderID, "request cancelled", ctx.Err())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return providers.NewProviderError(providers.ErrorTimeout, ProviderID, "request timed out", err)
	}
	return providers.NewProviderError(providers.ErrorProviderOutage, ProviderID, "HTTP request failed", err)
}
