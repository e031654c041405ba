// Package cts provides a client for the Fiehn lab Chemical Translation
// Service (cts.fiehnlab.ucdavis.edu).
package cts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ncku-metabolomics/classyfire-cli/internal/resilience"
)

// DefaultBaseURL is the public CTS site.
const DefaultBaseURL = "https://cts.fiehnlab.ucdavis.edu"

// Client defines the CTS operations.
type Client interface {
	// Convert returns every candidate for id in the target namespace, best
	// match first. An identifier CTS cannot translate yields an empty slice.
	Convert(ctx context.Context, from, to, id string) ([]string, error)
	// ConvertBatch translates ids and keeps the top candidate per id.
	// Identifiers without a result are absent from the map. Only context
	// cancellation is returned as an error.
	ConvertBatch(ctx context.Context, from, to string, ids []string) (map[string]string, error)
}

// StatusError is a non-200 answer from CTS. Only 429 and 5xx statuses are
// retried, and those arrive wrapped in a resilience.TransientError.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("cts: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus marks the error as a server answer for resilience.IsTransient.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Conversion is one element of the CTS convert response.
type Conversion struct {
	FromIdentifier string   `json:"fromIdentifier"`
	SearchTerm     string   `json:"searchTerm"`
	ToIdentifier   string   `json:"toIdentifier"`
	Results        []string `json:"results"`
}

// Option configures the CTS client.
type Option func(*httpClient)

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRetry overrides the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

type httpClient struct {
	baseURL string
	http    *http.Client
	retry   resilience.RetryConfig
}

// NewClient creates a new CTS client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = resilience.RetryLogger("cts", "convert")
	}
	return c
}

func (c *httpClient) Convert(ctx context.Context, from, to, id string) ([]string, error) {
	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]string, error) {
		return c.convert(ctx, from, to, id)
	})
}

func (c *httpClient) convert(ctx context.Context, from, to, id string) ([]string, error) {
	reqURL := fmt.Sprintf("%s/rest/convert/%s/%s/%s",
		c.baseURL, url.PathEscape(from), url.PathEscape(to), url.PathEscape(id))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "cts: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "cts: request cancelled")
		}
		return nil, resilience.NewTransientError(eris.Wrap(err, "cts: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "cts: read response body"), resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode).
				WithRetryAfter(resilience.RetryAfter(resp.Header.Get("Retry-After"), time.Now()))
		}
		return nil, statusErr
	}

	var conversions []Conversion
	if err := json.Unmarshal(body, &conversions); err != nil {
		return nil, eris.Wrap(err, "cts: unmarshal response")
	}

	var out []string
	for _, conv := range conversions {
		for _, r := range conv.Results {
			if r = strings.TrimSpace(r); r != "" {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

func (c *httpClient) ConvertBatch(ctx context.Context, from, to string, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(ids) == 0 {
		return out, nil
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "cts: batch cancelled")
		}

		results, err := c.Convert(ctx, from, to, id)
		if err != nil {
			if ctx.Err() != nil {
				return out, eris.Wrap(ctx.Err(), "cts: batch cancelled")
			}
			zap.L().Warn("cts: conversion failed",
				zap.String("from", from),
				zap.String("to", to),
				zap.String("id", id),
				zap.Error(err),
			)
			continue
		}
		if len(results) > 0 {
			out[id] = results[0]
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
