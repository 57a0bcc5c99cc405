package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"perpflow/internal/feed"
	"perpflow/logger"
)

// Client is the pull-side HTTP client shared by the venue readers. It rate
// limits requests, maps HTTP failures onto the feed error taxonomy and
// decodes JSON bodies. Authentication headers are injected by the caller;
// the client itself is venue- and auth-agnostic.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	headers map[string]string
	log     *logger.Log
}

// Config mirrors the connection pool settings the service config carries per
// venue.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond int
	Burst             int
	MaxIdleConns      int
	MaxConnsPerHost   int
	IdleConnTimeout   time.Duration
	// Headers are attached to every request, e.g. an already issued JWT.
	Headers map[string]string
}

func NewClient(cfg Config) *Client {
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableCompression:  false,
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = rps
	}
	return &Client{
		base:    cfg.BaseURL,
		http:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		headers: cfg.Headers,
		log:     logger.GetLogger(),
	}
}

// GetJSON issues a rate-limited GET against path (joined to the base URL,
// query is optional) and decodes the body into out. Status mapping: 401/403
// become AuthError, 404 becomes feed.ErrNotFound, anything else non-2xx
// becomes TransportError. Undecodable bodies become SchemaError.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &feed.TransportError{Op: path, Err: err}
	}

	reqURL := c.base + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &feed.TransportError{Op: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &feed.TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	logger.LogPerformanceEntry(c.log.WithComponent("rest_client"), "rest_client", "api_request", time.Since(start), logger.Fields{
		"path":   path,
		"status": resp.StatusCode,
	})

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &feed.AuthError{Op: path, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, feed.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &feed.TransportError{Op: path, Err: fmt.Errorf("status %d: %s", resp.StatusCode, body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &feed.SchemaError{Venue: c.base, Err: err}
	}
	return nil
}
