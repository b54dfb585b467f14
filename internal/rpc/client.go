package rpc

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// DefaultURL is used when no RPC URL is configured.
const DefaultURL = "https://api.devnet.solana.com"

// Client provides access to the node's JSON-RPC HTTP API.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
	commitment   string

	seq atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new JSON-RPC client. An empty url selects DefaultURL.
func NewClient(url, apiKey string, opts ...ClientOption) *Client {
	if url == "" {
		url = DefaultURL
	}
	c := &Client{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
		commitment:   "confirmed",
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithCommitment sets the commitment used for reads.
func WithCommitment(commitment string) ClientOption {
	return func(c *Client) {
		if commitment != "" {
			c.commitment = commitment
		}
	}
}

// URL returns the HTTP endpoint.
func (c *Client) URL() string {
	return c.url
}
