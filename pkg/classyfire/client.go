// Package classyfire provides a client for the ClassyFire chemical
// taxonomy service (classyfire.wishartlab.com).
package classyfire

import (
	"context"
	"encoding/json"
	"errors"
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

// DefaultBaseURL is the public ClassyFire site.
const DefaultBaseURL = "http://classyfire.wishartlab.com"

// ErrEmptyKey is returned by Lookup when no InChIKey is given.
var ErrEmptyKey = eris.New("classyfire: empty inchikey")

// Client defines the ClassyFire operations.
type Client interface {
	// Lookup fetches the entity document for an InChIKey. The error tells
	// apart a definitive answer (StatusError) from a transport failure.
	Lookup(ctx context.Context, inchikey string) (*Entity, error)
	// Classify returns the flattened taxonomy for an InChIKey. It never
	// fails: any error is logged and an empty taxonomy returned.
	Classify(ctx context.Context, inchikey string) Taxonomy
}

// StatusError is a non-2xx answer from ClassyFire. It is never retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classyfire: unexpected status %d: %s", e.StatusCode, e.Body)
}

// HTTPStatus marks the error as a server answer for resilience.IsTransient.
func (e *StatusError) HTTPStatus() int { return e.StatusCode }

// Outcome summarises a Lookup error for callers that cache or count results.
type Outcome int

const (
	// OutcomeFound means the entity was returned.
	OutcomeFound Outcome = iota
	// OutcomeMissing means ClassyFire answered definitively without data.
	OutcomeMissing
	// OutcomeFailed means the lookup did not get an answer (transport,
	// decode, circuit open or cancellation).
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeMissing:
		return "missing"
	default:
		return "failed"
	}
}

// OutcomeOf classifies the error returned by Lookup.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeFound
	}
	var se *StatusError
	if errors.As(err, &se) || errors.Is(err, ErrEmptyKey) {
		return OutcomeMissing
	}
	return OutcomeFailed
}

// Option configures the ClassyFire client.
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

// WithFormat sets the entity document format (default "json").
func WithFormat(format string) Option {
	return func(c *httpClient) {
		if format != "" {
			c.format = format
		}
	}
}

// WithRetry overrides the retry policy for transport failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = cfg
	}
}

// WithCircuitBreaker short-circuits lookups after repeated transport
// failures.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *httpClient) {
		c.breaker = cb
	}
}

type httpClient struct {
	baseURL string
	format  string
	http    *http.Client
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
}

// NewClient creates a new ClassyFire client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL: DefaultBaseURL,
		format:  "json",
		http: &http.Client{
			Timeout: 10 * time.Second,
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
		c.retry.OnRetry = resilience.RetryLogger("classyfire", "lookup")
	}
	return c
}

func (c *httpClient) Lookup(ctx context.Context, inchikey string) (*Entity, error) {
	inchikey = strings.TrimSpace(inchikey)
	if inchikey == "" {
		return nil, ErrEmptyKey
	}

	fetch := func(ctx context.Context) (*Entity, error) {
		return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*Entity, error) {
			return c.fetch(ctx, inchikey)
		})
	}
	if c.breaker != nil {
		return resilience.ExecuteVal(ctx, c.breaker, fetch)
	}
	return fetch(ctx)
}

func (c *httpClient) fetch(ctx context.Context, inchikey string) (*Entity, error) {
	reqURL := fmt.Sprintf("%s/entities/%s.%s", c.baseURL, url.PathEscape(inchikey), c.format)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "classyfire: create request")
	}
	req.Header.Set("Accept", "application/"+c.format)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "classyfire: request cancelled")
		}
		// Every transport-level failure is worth another attempt.
		return nil, resilience.NewTransientError(eris.Wrap(err, "classyfire: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "classyfire: read response body"), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}

	var ent Entity
	if err := json.Unmarshal(body, &ent); err != nil {
		return nil, eris.Wrap(err, "classyfire: unmarshal entity")
	}
	return &ent, nil
}

func (c *httpClient) Classify(ctx context.Context, inchikey string) Taxonomy {
	ent, err := c.Lookup(ctx, inchikey)
	if err != nil {
		if !errors.Is(err, ErrEmptyKey) {
			zap.L().Warn("classyfire: classification unavailable",
				zap.String("inchikey", inchikey),
				zap.String("outcome", OutcomeOf(err).String()),
				zap.Error(err),
			)
		}
		return Taxonomy{}
	}
	return TaxonomyOf(ent)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
