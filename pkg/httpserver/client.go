package httpserver

import (
	"fmt"
	"net/http"
	"time"

	"github.com/maic-labs/mcs/internal/config"
	"github.com/maic-labs/mcs/pkg/circuitbreaker"
)

// Client wraps http.Client with circuit-breaker protection for calls to
// an external HTTP dependency, so a caller stops hammering it once it's
// down.
type Client struct {
	httpClient *http.Client
	breaker    circuitbreaker.CircuitBreaker
}

// NewClient builds a Client; with cfg.Enabled false it degrades to the
// default http.Client with no breaker.
func NewClient(cfg config.CircuitBreakerConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{httpClient: http.DefaultClient, breaker: nil}, nil
	}

	breaker, err := createCircuitBreaker(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		breaker:    breaker,
	}, nil
}

// Do executes req, treating a 5xx response as a circuit-breaker failure.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.breaker == nil {
		return c.httpClient.Do(req)
	}

	var resp *http.Response
	var err error

	_, breakerErr := c.breaker.Execute(func() (interface{}, error) {
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("server error: received status code %d", resp.StatusCode)
		}
		return resp, nil
	})

	if breakerErr != nil {
		return nil, breakerErr
	}
	return resp, nil
}
