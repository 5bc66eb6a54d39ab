package ari

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Run keeps the events websocket connected until ctx is cancelled,
// reconnecting with exponential backoff, and publishes every decoded event
// to subscribers.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.ReconnectMin
	for {
		start := time.Now()
		err := c.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if time.Since(start) > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMin
		}
		c.logger.Warn("[ARI] Event stream lost, reconnecting",
			"error", err,
			"retry_in", backoff,
		)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > c.cfg.ReconnectMax {
			backoff = c.cfg.ReconnectMax
		}
	}
}

// eventsURL builds the websocket URL for the application.
func (c *Client) eventsURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/ari/events"
	u.RawQuery = url.Values{
		"app":     {c.cfg.App},
		"api_key": {c.cfg.Username + ":" + c.cfg.Password},
	}.Encode()
	return u.String()
}

// listen runs one websocket session and returns when it breaks.
func (c *Client) listen(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.Timeout}
	conn, _, err := dialer.DialContext(ctx, c.eventsURL(), nil)
	if err != nil {
		return fmt.Errorf("connect events: %w", err)
	}
	defer conn.Close()

	c.connected.Store(true)
	defer c.connected.Store(false)
	c.logger.Info("[ARI] Connected to event stream", "app", c.cfg.App, "url", c.base.String())

	if err := c.SubscribeEndpoints(ctx); err != nil {
		c.logger.Error("[ARI] Can't subscribe to endpoint events",
			"technology", c.cfg.Technology,
			"error", err,
		)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		e, ok, err := decodeEvent(data)
		if err != nil {
			c.logger.Warn("[ARI] Dropping undecodable event", "error", err)
			continue
		}
		if !ok {
			continue
		}
		c.logger.Debug("[ARI] Event", "type", e.Type, "channel_id", e.ChannelID())
		c.bus.Publish(e)
	}
}
