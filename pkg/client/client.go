package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loykin/keepalive/internal/errdefs"
)

// IdentityHeader carries the caller identity; it must match the server's.
const IdentityHeader = "X-Keepalive-Identity"

// Client talks to the keepalive daemon's HTTP API.
type Client struct {
	baseURL  string
	identity string
	client   *http.Client
	logger   *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Identity string // sent with every request
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
}

// DefaultTimeout covers a synchronous sweep of a handful of resources.
const DefaultTimeout = 10 * time.Minute

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: DefaultTimeout,
	}
}

// APIError is a non-2xx answer from the daemon. It matches the errdefs
// sentinel named by its kind under errors.Is.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error { return errdefs.FromKind(e.Kind) }

// New creates a new keepalive API client. TLS material is loaded eagerly.
func New(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.TLS != nil || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		identity: strings.TrimSpace(config.Identity),
		logger:   config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	u.Path = "/healthz"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	c.logger.Debug("Daemon reachability check", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// Join registers the client identity as an admin. The bool reports whether it was new.
func (c *Client) Join(ctx context.Context) (bool, error) {
	var out joinResponse
	if err := c.do(ctx, http.MethodPost, "/join", nil, &out); err != nil {
		return false, err
	}
	return out.Added, nil
}

// Add registers the resource best matching search.
func (c *Client) Add(ctx context.Context, search string) (Resource, error) {
	var out Resource
	err := c.do(ctx, http.MethodPost, "/resources", map[string]string{"search": search}, &out)
	return out, err
}

// Remove unregisters id; removing an unknown id is not an error.
func (c *Client) Remove(ctx context.Context, id string) (bool, error) {
	var out removeResponse
	if err := c.do(ctx, http.MethodDelete, "/resources/"+url.PathEscape(id), nil, &out); err != nil {
		return false, err
	}
	return out.Removed, nil
}

// List returns every resource the provider knows about.
func (c *Client) List(ctx context.Context) ([]RemoteResource, error) {
	var out []RemoteResource
	err := c.do(ctx, http.MethodGet, "/resources/remote", nil, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context) ([]ResourceStatus, error) {
	var out []ResourceStatus
	err := c.do(ctx, http.MethodGet, "/status", nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out, err
}

// SetInterval changes the sweep interval; minutes must be within 5..120.
func (c *Client) SetInterval(ctx context.Context, minutes int) error {
	return c.do(ctx, http.MethodPut, "/interval", map[string]int{"minutes": minutes}, nil)
}

func (c *Client) StartEngine(ctx context.Context) (EngineState, error) {
	var out EngineState
	err := c.do(ctx, http.MethodPost, "/engine/start", nil, &out)
	return out, err
}

func (c *Client) StopEngine(ctx context.Context) (EngineState, error) {
	var out EngineState
	err := c.do(ctx, http.MethodPost, "/engine/stop", nil, &out)
	return out, err
}

// SweepNow blocks until the triggered sweep finishes, or reports Skipped.
func (c *Client) SweepNow(ctx context.Context) (SweepResult, error) {
	var out SweepResult
	err := c.do(ctx, http.MethodPost, "/sweep", nil, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}

	if config.TLS.ServerName != "" {
		tlsConfig.ServerName = config.TLS.ServerName
	}
	if config.TLS.CACert != "" {
		if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
			return nil, fmt.Errorf("failed to load CA certificate: %w", err)
		}
	}
	if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request against path and decodes a 2xx body into out (if non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.identity != "" {
		req.Header.Set(IdentityHeader, c.identity)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return apiErr
	}
	apiErr.Kind = errorResp.Kind
	apiErr.Message = errorResp.Error
	c.logger.Debug("API request failed", "error", errorResp.Error, "kind", errorResp.Kind, "status", resp.StatusCode)
	return apiErr
}
