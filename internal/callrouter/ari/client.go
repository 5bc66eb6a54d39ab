// Package ari adapts the Asterisk REST Interface to gateway.Gateway: REST
// calls for channel, bridge and endpoint control, and the events websocket
// for asynchronous notifications.
package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

// Config configures the ARI connection.
type Config struct {
	// URL is the Asterisk HTTP server, e.g. http://127.0.0.1:8088.
	URL      string
	Username string
	Password string
	// App is the Stasis application name.
	App string
	// Technology is the endpoint technology whose state events are
	// subscribed. Default: SIP.
	Technology string
	// Timeout bounds each REST request. Default: 10s.
	Timeout time.Duration
	// ReconnectMin and ReconnectMax bound the websocket reconnect backoff.
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client is a gateway.Gateway backed by ARI.
type Client struct {
	cfg        Config
	base       *url.URL
	httpClient *http.Client
	bus        *gateway.Bus
	logger     *slog.Logger
	connected  atomic.Bool
}

var _ gateway.Gateway = (*Client)(nil)

// New creates a client. Events flow only once Run is called.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ari: URL is required")
	}
	if cfg.App == "" {
		return nil, fmt.Errorf("ari: application name is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ari: invalid URL %q: %w", cfg.URL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("ari: unsupported URL scheme %q", base.Scheme)
	}
	if cfg.Technology == "" {
		cfg.Technology = "SIP"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		bus:        gateway.NewBus(logger),
		logger:     logger,
	}, nil
}

// Connected reports whether the events websocket is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Subscribe implements gateway.Gateway.
func (c *Client) Subscribe(filter gateway.Filter) *gateway.Subscription {
	return c.bus.Subscribe(filter)
}

// Close releases every event subscription.
func (c *Client) Close() {
	c.bus.Close()
}

// do performs a REST call against /ari/<path>. A non-nil out receives the
// decoded JSON response.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, out any) error {
	u := *c.base
	u.Path = c.base.Path + "/ari/" + strings.TrimLeft(path, "/")
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", method, path, newAPIError(resp, body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func escape(segment string) string {
	return url.PathEscape(segment)
}
