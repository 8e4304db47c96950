// Package appengine is a thin client for the cloud platform's device data
// REST API: querying interface data, pushing server-owned values and
// unsetting server-owned properties.
package appengine

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"context"
)

const defaultTimeout = 5 * time.Second

// Config identifies the realm, device and credentials used for every
// request.
type Config struct {
	BaseURL  string
	Realm    string
	DeviceID string
	Token    string
	// CACertPath configures TLS verification against the deployment's CA.
	// Empty means the system pool.
	CACertPath string
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.Realm == "" {
		return fmt.Errorf("realm is required")
	}
	if c.DeviceID == "" {
		return fmt.Errorf("device ID is required")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// Client issues authenticated requests against one device's interfaces.
type Client struct {
	log        *slog.Logger
	cfg        Config
	httpClient *http.Client
}

func New(log *slog.Logger, cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid appengine config: %w", err)
	}

	c := &Client{
		log:        log,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	if cfg.CACertPath != "" {
		pem, err := os.ReadFile(cfg.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CACertPath)
		}
		c.httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// StatusError is returned when the API answers with an unexpected status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s failed: status=%d body=%s", e.Method, e.URL, e.StatusCode, e.Body)
}

// GetOptions narrow an interface data query.
type GetOptions struct {
	// Path selects a single endpoint below the interface.
	Path string
	// Limit caps the number of returned datastream samples (0 means no cap).
	Limit int
	// SinceAfter and To bound the sample window.
	SinceAfter time.Time
	To         time.Time
}

// GetInterfaceData returns the "data" field of the interface query response.
// Numbers are decoded as json.Number so 64-bit integers survive untouched.
func (c *Client) GetInterfaceData(ctx context.Context, iface string, opts GetOptions) (any, error) {
	u := c.interfaceURL(iface, opts.Path)

	params := url.Values{}
	if !opts.SinceAfter.IsZero() {
		params.Set("since_after", opts.SinceAfter.UTC().Format(time.RFC3339Nano))
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}
	if !opts.To.IsZero() {
		params.Set("to", opts.To.UTC().Format(time.RFC3339Nano))
	}
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	c.log.Debug("Sending HTTP GET request", "url", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(req, resp)
	}

	var body struct {
		Data any `json:"data"`
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding interface data: %w", err)
	}
	if body.Data == nil {
		return map[string]any{}, nil
	}
	return body.Data, nil
}

// DeviceConnected reports whether the device currently holds an open
// connection to the platform.
func (c *Client) DeviceConnected(ctx context.Context) (bool, error) {
	u := c.cfg.BaseURL + "/v1/" + c.cfg.Realm + "/devices/" + c.cfg.DeviceID

	c.log.Debug("Sending HTTP GET request", "url", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, c.statusError(req, resp)
	}

	var body struct {
		Data struct {
			Connected bool `json:"connected"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding device status: %w", err)
	}
	return body.Data.Connected, nil
}

// SendInterfaceData posts a value to an endpoint of a server-owned
// interface.
func (c *Client) SendInterfaceData(ctx context.Context, iface, path string, data any) error {
	u := c.interfaceURL(iface, path)

	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return fmt.Errorf("marshaling interface data: %w", err)
	}

	c.log.Debug("Sending HTTP POST request", "url", u, "body", string(payload))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(req, resp)
	}
	return nil
}

// UnsetProperty deletes a server-owned property endpoint.
func (c *Client) UnsetProperty(ctx context.Context, iface, path string) error {
	u := c.interfaceURL(iface, path)

	c.log.Debug("Sending HTTP DELETE request", "url", u)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.statusError(req, resp)
	}
	return nil
}

func (c *Client) interfaceURL(iface, path string) string {
	return c.cfg.BaseURL + "/v1/" + c.cfg.Realm + "/devices/" + c.cfg.DeviceID + "/interfaces/" + iface + path
}

func (c *Client) statusError(req *http.Request, resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	err := &StatusError{
		Method:     req.Method,
		URL:        req.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       string(b),
	}
	c.log.Error("Request failed", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode)
	return err
}
