// Package external holds clients for remote vocabulary services.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/phenotype-similarity-server/internal/domain"
)

// DefaultPageSize is the number of terms requested per enumeration page
const DefaultPageSize = 500

// OntologyClient serves a remote vocabulary over HTTP as a domain.OntologySource.
//
// The service is expected to expose:
//
//	GET {base}/terms?offset=N&limit=M  -> {"total": T, "terms": [Term...]}
//	GET {base}/terms/{id}              -> Term, 404 when unknown
//
// Alternate IDs are resolved by the service.
type OntologyClient struct {
	name       string
	baseURL    string
	pageSize   int
	retryCount int
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logrus.Logger
}

var _ domain.OntologySource = (*OntologyClient)(nil)

type termPage struct {
	Total int            `json:"total"`
	Terms []*domain.Term `json:"terms"`
}

// statusError is a non-2xx response
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.body)
}

// ClientOption configures an OntologyClient
type ClientOption func(*OntologyClient)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *OntologyClient) { o.httpClient = c }
}

// WithPageSize sets the enumeration page size
func WithPageSize(n int) ClientOption {
	return func(o *OntologyClient) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// NewOntologyClient creates a client for the vocabulary described by cfg
func NewOntologyClient(cfg domain.SourceConfig, logger *logrus.Logger, opts ...ClientOption) (*OntologyClient, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("ontology client %s: invalid base URL: %w", cfg.Name, err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &OntologyClient{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		pageSize:   DefaultPageSize,
		retryCount: cfg.RetryCount,
		httpClient: &http.Client{Timeout: timeout},
		rateLimit:  rate.NewLimiter(limit, 1),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		// Unknown terms are an answer, not a failure of the service
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"source": name,
				"from":   from.String(),
				"to":     to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	return c, nil
}

// Name implements domain.OntologySource
func (c *OntologyClient) Name() string {
	return c.name
}

// Size implements domain.OntologySource
func (c *OntologyClient) Size(ctx context.Context) (int, error) {
	var page termPage
	if err := c.get(ctx, "/terms", url.Values{"offset": {"0"}, "limit": {"0"}}, &page); err != nil {
		return 0, err
	}
	return page.Total, nil
}

// EnumerateAllTerms implements domain.OntologySource by walking every page
func (c *OntologyClient) EnumerateAllTerms(ctx context.Context) ([]*domain.Term, error) {
	var terms []*domain.Term
	for offset := 0; ; {
		var page termPage
		params := url.Values{
			"offset": {strconv.Itoa(offset)},
			"limit":  {strconv.Itoa(c.pageSize)},
		}
		if err := c.get(ctx, "/terms", params, &page); err != nil {
			return nil, err
		}
		if terms == nil {
			terms = make([]*domain.Term, 0, page.Total)
		}
		terms = append(terms, page.Terms...)
		offset += len(page.Terms)
		if len(page.Terms) == 0 || offset >= page.Total {
			break
		}
	}

	c.logger.WithFields(logrus.Fields{
		"source": c.name,
		"terms":  len(terms),
	}).Debug("Enumerated remote vocabulary")
	return terms, nil
}

// GetTerm implements domain.OntologySource
func (c *OntologyClient) GetTerm(ctx context.Context, id string) (*domain.Term, error) {
	var term domain.Term
	if err := c.get(ctx, "/terms/"+url.PathEscape(id), nil, &term); err != nil {
		return nil, err
	}
	return &term, nil
}

// GetParents implements domain.OntologySource. Parent IDs the service does
// not know are skipped.
func (c *OntologyClient) GetParents(ctx context.Context, term *domain.Term) ([]*domain.Term, error) {
	parents := make([]*domain.Term, 0, len(term.ParentIDs))
	for _, id := range term.ParentIDs {
		p, err := c.GetTerm(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		parents = append(parents, p)
	}
	return parents, nil
}

// get fetches path into out through the circuit breaker, retrying transport
// errors and 5xx responses up to retryCount times
func (c *OntologyClient) get(ctx context.Context, path string, params url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		body, err := c.breaker.Execute(func() (interface{}, error) {
			return c.fetch(ctx, endpoint)
		})
		if err == nil {
			if err := json.Unmarshal(body.([]byte), out); err != nil {
				return fmt.Errorf("%s %s: %w: %v", c.name, path, domain.ErrMalformedRecord, err)
			}
			return nil
		}

		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			break
		}
		c.logger.WithFields(logrus.Fields{
			"source":  c.name,
			"path":    path,
			"attempt": attempt + 1,
			"error":   err,
		}).Warn("Vocabulary request failed")
	}
	return c.classify(path, lastErr)
}

func (c *OntologyClient) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return body, nil
}

func retryable(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= http.StatusInternalServerError || se.status == http.StatusTooManyRequests
	}
	return true
}

func (c *OntologyClient) classify(path string, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("%s %s: %w", c.name, path, domain.ErrNotFound)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, gobreaker.ErrOpenState):
		return fmt.Errorf("%s service unavailable (circuit breaker open): %w", c.name, domain.ErrSourceUnavailable)
	default:
		return fmt.Errorf("%s %s: %w: %v", c.name, path, domain.ErrSourceUnavailable, err)
	}
}
