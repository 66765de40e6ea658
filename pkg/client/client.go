// Package client is a Go client for the sharedws HTTP API, used by build
// controllers to report node, project and build lifecycle events.
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the sharedws daemon
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

// APIError is returned for non-2xx responses.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a new sharedws API client with TLS support
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080/api"
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client: &http.Client{
			Timeout:   config.Timeout,
			Transport: transport,
		},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
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

	ok := resp.StatusCode == http.StatusOK
	c.logger.Debug("Daemon reachability check", "reachable", ok, "status", resp.StatusCode)
	return ok
}

// NodeCreated allocates a root path for node and returns it.
func (c *Client) NodeCreated(ctx context.Context, node NodeRef) (string, error) {
	var out RootPathResponse
	if err := c.do(ctx, http.MethodPost, "/nodes", nil, node, &out); err != nil {
		return "", err
	}
	c.logger.Debug("Node root allocated", "node", node.Name, "path", out.RootPath)
	return out.RootPath, nil
}

// NodeUpdated hands the root path of oldNode to newNode.
func (c *Client) NodeUpdated(ctx context.Context, oldNode, newNode NodeRef) (string, error) {
	var out RootPathResponse
	req := NodeUpdateRequest{Old: oldNode, New: newNode}
	if err := c.do(ctx, http.MethodPut, "/nodes", nil, req, &out); err != nil {
		return "", err
	}
	return out.RootPath, nil
}

// NodeDeleted releases the root path held by the named node.
func (c *Client) NodeDeleted(ctx context.Context, name string) (ReleaseResponse, error) {
	var out ReleaseResponse
	err := c.do(ctx, http.MethodDelete, "/nodes", url.Values{"name": {name}}, nil, &out)
	return out, err
}

// RootPath resolves the root path of node, falling back to node.Root.
func (c *Client) RootPath(ctx context.Context, node NodeRef) (RootPathResponse, error) {
	var out RootPathResponse
	q := url.Values{"name": {node.Name}}
	if node.Root != "" {
		q.Set("root", node.Root)
	}
	err := c.do(ctx, http.MethodGet, "/nodes/root", q, nil, &out)
	return out, err
}

// Locate returns the workspace directory of project on node.
func (c *Client) Locate(ctx context.Context, project string, node NodeRef) (string, error) {
	var out WorkspaceResponse
	q := url.Values{"project": {project}, "node": {node.Name}}
	if node.Root != "" {
		q.Set("root", node.Root)
	}
	if err := c.do(ctx, http.MethodGet, "/locate", q, nil, &out); err != nil {
		return "", err
	}
	return out.Workspace, nil
}

// BuildCompleted records the workspace a build of project ran in.
func (c *Client) BuildCompleted(ctx context.Context, project, workspace string) error {
	return c.do(ctx, http.MethodPost, "/builds", nil, BuildRequest{Project: project, Workspace: workspace}, nil)
}

// ProjectWorkspace returns where project was last built; ok is false when
// nothing is recorded.
func (c *Client) ProjectWorkspace(ctx context.Context, project string) (string, bool, error) {
	var out WorkspaceResponse
	err := c.do(ctx, http.MethodGet, "/projects/workspace", url.Values{"name": {project}}, nil, &out)
	if IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return out.Workspace, true, nil
}

// ProjectDeleted forgets the recorded workspace of project.
func (c *Client) ProjectDeleted(ctx context.Context, project string) (ForgetResponse, error) {
	var out ForgetResponse
	err := c.do(ctx, http.MethodDelete, "/projects", url.Values{"name": {project}}, nil, &out)
	return out, err
}

// ProjectRenamed moves the recorded workspace to the new name. It returns
// false when nothing was recorded for oldName.
func (c *Client) ProjectRenamed(ctx context.Context, oldName, newName string) (bool, error) {
	err := c.do(ctx, http.MethodPost, "/projects/rename", nil, RenameRequest{Old: oldName, New: newName}, nil)
	if IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// Reclaim runs a sweep on the daemon and returns its report.
func (c *Client) Reclaim(ctx context.Context) (ReclaimReport, error) {
	var out ReclaimReport
	err := c.do(ctx, http.MethodPost, "/reclaim", nil, nil, &out)
	return out, err
}

// Status returns all workspace tables.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var out StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, nil, &out)
	return out, err
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
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

// do sends body as JSON (when non-nil) and decodes a 2xx response into out
// (when non-nil). Other responses become *APIError.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "error", err, "url", u)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.errorFrom(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Error("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusNotFound {
		c.logger.Error("API request failed", "error", er.Error, "status", resp.StatusCode)
	}
	return &APIError{Status: resp.StatusCode, Message: er.Error}
}
