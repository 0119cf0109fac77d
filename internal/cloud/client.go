package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sethvargo/go-retry"
)

// TokenSource supplies the bearer credential for authenticated requests and
// performs the transparent refresh flow on rejection.
type TokenSource interface {
	// Token returns the current access token.
	Token(ctx context.Context) (string, error)
	// Refresh rotates the credential after a 401-equivalent response.
	Refresh(ctx context.Context) error
}

// Config holds client configuration.
type Config struct {
	// BaseURL is the API root, e.g. https://api.tulis.app
	BaseURL string

	// RequestTimeout bounds each round trip (default: 30s)
	RequestTimeout time.Duration

	// MaxTransportRetries bounds transparent retries of transient network
	// failures within one logical request (default: 2)
	MaxTransportRetries uint64

	// RetryDelay is the initial backoff between transport retries (default: 1s)
	RetryDelay time.Duration

	// Logger for request activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) *Config {
	return &Config{
		BaseURL:             baseURL,
		RequestTimeout:      30 * time.Second,
		MaxTransportRetries: 2,
		RetryDelay:          time.Second,
		Logger:              log.New(os.Stderr, "[cloud] ", log.LstdFlags),
	}
}

// Client talks to the remote sync endpoint.
type Client struct {
	config *Config
	http   *http.Client
	tokens TokenSource
}

// NewClient creates a client bound to a token source.
func NewClient(config *Config, tokens TokenSource) *Client {
	if config == nil {
		config = DefaultConfig("")
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[cloud] ", log.LstdFlags)
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.RetryDelay == 0 {
		config.RetryDelay = time.Second
	}

	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.RequestTimeout},
		tokens: tokens,
	}
}

// Sync performs the single request/response sync exchange.
func (c *Client) Sync(ctx context.Context, req *SyncRequest) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.do(ctx, http.MethodPost, "/api/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteDocument removes a document from the remote store by its cloud
// identity. A 404 is treated as success: the document is already gone.
func (c *Client) DeleteDocument(ctx context.Context, cloudID string) error {
	path := "/api/documents/" + url.PathEscape(cloudID)
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if rej, ok := asRejection(err); ok && rej.Status == http.StatusNotFound {
		return nil
	}
	return err
}

// Ping checks endpoint reachability without authentication.
// Used by the connectivity monitor as its online probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.BaseURL+"/api/health", nil)
	if err != nil {
		return fmt.Errorf("failed to build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	_ = resp.Body.Close()
	return nil
}

// do performs one authenticated exchange: marshal, send with bearer token,
// refresh-and-retry once on 401, decode the enveloped response. Transient
// network failures are retried with fibonacci backoff within the bounded
// retry budget.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	backoff := retry.WithMaxRetries(c.config.MaxTransportRetries,
		retry.NewFibonacci(c.config.RetryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := c.doOnce(ctx, method, path, payload, out, true)
		var te *TransportError
		if asTransport(err, &te) {
			c.config.Logger.Printf("transient failure on %s %s: %v", method, path, te.Err)
			return retry.RetryableError(err)
		}
		return err
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any, allowRefresh bool) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if !allowRefresh {
			return ErrUnauthorized
		}
		if err := c.tokens.Refresh(ctx); err != nil {
			return fmt.Errorf("credential refresh failed: %w", ErrUnauthorized)
		}
		return c.doOnce(ctx, method, path, payload, out, false)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: method + " " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteRejectionError{
			Status:  resp.StatusCode,
			Message: decodeErrorMessage(raw),
		}
	}

	if out == nil {
		return nil
	}

	// Responses arrive enveloped: { "data": { ... } }.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}
	inner := envelope.Data
	if len(inner) == 0 {
		inner = raw
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

func decodeErrorMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ""
	}
	return envelope.Error.Message
}

func asTransport(err error, target **TransportError) bool {
	return errors.As(err, target)
}

func asRejection(err error) (*RemoteRejectionError, bool) {
	var rej *RemoteRejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
