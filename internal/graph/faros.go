// ABOUTME: HTTP implementation of the graph Client against the Faros GraphQL API.
// ABOUTME: Paces requests with a token bucket and retries transient failures with exponential backoff.

package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Config holds connection settings for the Faros API
type Config struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	RateLimit  float64 // requests per second
	RateBurst  int
	MaxRetries int
	RetryWait  time.Duration     // initial backoff interval
	Transport  http.RoundTripper // optional, for tests
}

// HTTPError is a non-2xx answer from the API
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("faros api returned status %d: %s", e.StatusCode, e.Body)
}

// QueryError carries the errors array of a GraphQL response
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	return "graphql errors: " + strings.Join(e.Messages, "; ")
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   Response `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FarosClient implements Client over HTTP
type FarosClient struct {
	config     *Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
}

// NewFarosClient creates a graph client for the Faros API
func NewFarosClient(config *Config, logger *logrus.Logger) (*FarosClient, error) {
	if config == nil || config.URL == "" {
		return nil, errors.New("faros api url is required")
	}
	if _, err := url.Parse(config.URL); err != nil {
		return nil, fmt.Errorf("invalid faros api url: %w", err)
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.RateBurst == 0 {
		config.RateBurst = 1
	}
	if config.RetryWait == 0 {
		config.RetryWait = 500 * time.Millisecond
	}

	return &FarosClient{
		config: config,
		httpClient: &http.Client{
			Timeout:   config.Timeout,
			Transport: config.Transport,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		logger:  logger,
	}, nil
}

// Query runs a GraphQL query and returns the data object keyed by root field
func (c *FarosClient) Query(ctx context.Context, graph, query string, variables map[string]any) (Response, error) {
	return c.execute(ctx, graph, gqlRequest{Query: query, Variables: variables})
}

// Mutate runs a GraphQL mutation, discarding the affected row counts
func (c *FarosClient) Mutate(ctx context.Context, graph, mutation string) error {
	_, err := c.execute(ctx, graph, gqlRequest{Query: mutation})
	return err
}

func (c *FarosClient) execute(ctx context.Context, graph string, req gqlRequest) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graphql request: %w", err)
	}
	endpoint := strings.TrimSuffix(c.config.URL, "/") + "/graphs/" + url.PathEscape(graph) + "/graphql"
	logger := c.logger.WithField("graph", graph)

	var data Response
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		resp, err := c.doOnce(ctx, endpoint, body)
		if err != nil {
			if isRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		data = resp
		return nil
	}

	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = c.config.RetryWait
	var policy backoff.BackOff = backoff.WithMaxRetries(exponential, uint64(c.config.MaxRetries))
	policy = backoff.WithContext(policy, ctx)

	notify := func(err error, wait time.Duration) {
		logger.WithError(err).WithField("retry_in", wait).Warn("Graph request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *FarosClient) doOnce(ctx context.Context, endpoint string, body []byte) (Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("graph request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read graph response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	var decoded gqlResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode graph response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		qe := &QueryError{}
		for _, e := range decoded.Errors {
			qe.Messages = append(qe.Messages, e.Message)
		}
		return nil, qe
	}
	if decoded.Data == nil {
		decoded.Data = Response{}
	}
	return decoded.Data, nil
}

// isRetryable reports whether another attempt may succeed
func isRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}
	// transport level failures only; decode and GraphQL errors will not improve on retry
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return false
}
