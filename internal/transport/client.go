package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/config"
)

const (
	DefaultUserAgent = "speculare-client"

	// HeaderToken carries the API token for servers that do not read Authorization.
	HeaderToken     = "SPTK"
	HeaderHostUUID  = "X-Host-UUID"
	HeaderRequestID = "X-Request-ID"

	maxResponseBodyBytes = 64 * 1024
	maxErrorBodyBytes    = 512
)

// Option configures a Client.
type Option func(*Client)

// WithSSOURL sets the endpoint used by Register.
func WithSSOURL(ssoURL string) Option {
	return func(c *Client) {
		c.ssoURL = ssoURL
	}
}

// WithHTTPClient replaces the tuned default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// Client sends snapshot batches to the API and re-registers the host with the SSO.
type Client struct {
	apiURL     string
	ssoURL     string
	token      string
	hostUUID   string
	userAgent  string
	httpClient *http.Client
}

// New creates a Client posting to apiURL on behalf of the host hostUUID.
func New(apiURL, token, hostUUID string, opts ...Option) *Client {
	c := &Client{
		apiURL:    apiURL,
		token:     token,
		hostUUID:  hostUUID,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = NewHTTPClient()
	}
	return c
}

// NewHTTPClient returns an HTTP client with bounded connect, TLS handshake and
// response header phases. The overall deadline comes from the request context.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   config.HTTPConnectTimeout,
				KeepAlive: config.HTTPKeepAlive,
			}).DialContext,
			TLSHandshakeTimeout:   config.HTTPTLSHandshakeTimeout,
			ResponseHeaderTimeout: config.HTTPResponseHeaderTimeout,
			IdleConnTimeout:       config.HTTPIdleConnTimeout,
			MaxIdleConns:          4,
			MaxIdleConnsPerHost:   2,
			ForceAttemptHTTP2:     true,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
	}
}

// CanRegister reports whether an SSO endpoint is configured.
func (c *Client) CanRegister() bool {
	return c.ssoURL != ""
}

// Send POSTs batch as a JSON array, oldest snapshot first.
//
// A received response is classified and returned with a nil error when it is
// Accepted, or a *StatusError otherwise. Network failures and timeouts return
// Unknown with the underlying error. A *BuildError means the request could
// not be built at all.
func (c *Client) Send(ctx context.Context, batch []agent.Snapshot) (StatusClass, error) {
	if batch == nil {
		batch = []agent.Snapshot{}
	}
	body, err := json.Marshal(batch)
	if err != nil {
		return Unknown, &BuildError{Op: "sync", Err: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, c.apiURL, body)
	if err != nil {
		return Unknown, &BuildError{Op: "sync", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Unknown, err
	}

	class := Classify(resp.StatusCode)
	respBody, readErr := ReadResponseBody(resp)
	if class == Accepted {
		return class, nil
	}
	if readErr != nil {
		slog.Debug("reading error response body failed", "error", readErr)
	}
	return class, &StatusError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Body:       truncate(strings.TrimSpace(string(respBody)), maxErrorBodyBytes),
	}
}

// Register PATCHes the SSO endpoint so the server knows this host again.
// Any 2xx response is a success.
func (c *Client) Register(ctx context.Context) error {
	if c.ssoURL == "" {
		return &BuildError{Op: "register", Err: fmt.Errorf("no sso url configured")}
	}

	req, err := c.newRequest(ctx, http.MethodPatch, c.ssoURL, nil)
	if err != nil {
		return &BuildError{Op: "register", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	respBody, _ := ReadResponseBody(resp)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Class:      Classify(resp.StatusCode),
			Body:       truncate(strings.TrimSpace(string(respBody)), maxErrorBodyBytes),
		}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set(HeaderToken, c.token)
	req.Header.Set(HeaderHostUUID, c.hostUUID)
	req.Header.Set(HeaderRequestID, uuid.NewString())
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// ReadResponseBody reads and closes the response body, keeping at most 64KB.
func ReadResponseBody(resp *http.Response) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	limited := io.LimitReader(resp.Body, maxResponseBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseBodyBytes {
		slog.Debug("response body truncated", "limit_bytes", maxResponseBodyBytes)
		body = body[:maxResponseBodyBytes]
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
