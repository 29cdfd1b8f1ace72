package resilience

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the origin this client talks to.
	Name string

	// Timeout is the timeout of a single attempt.
	// Default: 10 seconds
	Timeout time.Duration

	// Streaming applies Timeout to the wait for response headers only, so
	// request and response bodies may take as long as the context allows.
	Streaming bool

	// MaxRetries is the number of retries after the first attempt.
	// Default: 2
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 2 seconds
	MaxInterval time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Health receives the outcome of every request. Optional.
	Health *Health
}

// DefaultClientConfig returns the default configuration for an origin.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         10 * time.Second,
		MaxRetries:      2,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		CircuitBreaker:  &cbConfig,
	}
}

// Client is an HTTP client that retries transient failures and stops
// calling an origin whose circuit breaker is open.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	config         ClientConfig
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	defaults := DefaultClientConfig(cfg.Name)
	if cfg.Timeout == 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaults.InitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaults.MaxInterval
	}
	if cfg.CircuitBreaker == nil {
		cfg.CircuitBreaker = defaults.CircuitBreaker
	}

	c := &Client{
		httpClient:     newHTTPClient(cfg),
		circuitBreaker: NewCircuitBreaker[*http.Response](*cfg.CircuitBreaker), //nolint:bodyclose // type param, not response
		config:         cfg,
	}
	if cfg.Health != nil {
		cfg.Health.Track(cfg.Name, c)
	}
	return c
}

func newHTTPClient(cfg ClientConfig) *http.Client {
	if !cfg.Streaming {
		return &http.Client{Timeout: cfg.Timeout}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return &http.Client{Transport: transport}
}

// Do executes req with retries, bound to the request context.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes req. Network errors and 5xx responses are retried
// with exponential backoff; once retries are exhausted the last 5xx response
// is returned to the caller. Other responses are returned as they are. When
// the circuit breaker is open, ErrCircuitOpen is returned without calling
// the origin.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	// A body that cannot be replayed gets a single attempt.
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	var lastResp *http.Response
	attempts := 0
	operation := func() error {
		if lastResp != nil {
			lastResp.Body.Close()
			lastResp = nil
		}

		attempts++
		resp, err := c.attempt(ctx, req, attempts > 1)
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(ErrCircuitOpen)
		case err != nil:
			lastResp = resp
			if !replayable {
				return backoff.Permanent(err)
			}
			return err
		}
		lastResp = resp
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(c.newBackOff(), ctx))
	c.report(err)
	if err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}
	return lastResp, nil
}

func (c *Client) attempt(ctx context.Context, req *http.Request, retry bool) (*http.Response, error) {
	return c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller is responsible for closing
		clone := req.Clone(ctx)
		if retry && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			clone.Body = body
		}
		r, err := c.httpClient.Do(clone)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= http.StatusInternalServerError {
			return r, &ServerError{StatusCode: r.StatusCode}
		}
		return r, nil
	})
}

func (c *Client) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, c.config.MaxRetries)
}

func (c *Client) report(err error) {
	if c.config.Health == nil {
		return
	}
	if err != nil {
		c.config.Health.recordFailure(c.config.Name, err)
		return
	}
	c.config.Health.recordSuccess(c.config.Name)
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
