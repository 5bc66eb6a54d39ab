package ari

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sebas/callrouter/internal/callrouter/gateway"
)

func (c *Client) Endpoints(ctx context.Context, tech string) ([]gateway.Endpoint, error) {
	var raw []endpoint
	if err := c.do(ctx, http.MethodGet, "endpoints/"+escape(tech), nil, &raw); err != nil {
		return nil, err
	}
	out := make([]gateway.Endpoint, len(raw))
	for i, ep := range raw {
		out[i] = ep.toGateway()
	}
	return out, nil
}

func (c *Client) Endpoint(ctx context.Context, tech, resource string) (*gateway.Endpoint, error) {
	var raw endpoint
	if err := c.do(ctx, http.MethodGet, "endpoints/"+escape(tech)+"/"+escape(resource), nil, &raw); err != nil {
		return nil, err
	}
	ep := raw.toGateway()
	return &ep, nil
}

func (c *Client) Originate(ctx context.Context, req gateway.OriginateRequest) (*gateway.Channel, error) {
	params := url.Values{}
	params.Set("endpoint", req.Endpoint)
	params.Set("app", req.App)
	if req.AppArgs != "" {
		params.Set("appArgs", req.AppArgs)
	}
	if req.CallerID != "" {
		params.Set("callerId", req.CallerID)
	}
	if req.Timeout > 0 {
		params.Set("timeout", strconv.Itoa(int(req.Timeout.Seconds())))
	}

	path := "channels"
	if req.ChannelID != "" {
		path += "/" + escape(req.ChannelID)
	}
	var raw channel
	if err := c.do(ctx, http.MethodPost, path, params, &raw); err != nil {
		return nil, err
	}
	return raw.toGateway(), nil
}

func (c *Client) Ring(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "channels/"+escape(channelID)+"/ring", nil, nil)
}

func (c *Client) StopRing(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "channels/"+escape(channelID)+"/ring", nil, nil)
}

func (c *Client) StartHold(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "channels/"+escape(channelID)+"/moh", nil, nil)
}

func (c *Client) Play(ctx context.Context, channelID, playbackID, media string) error {
	params := url.Values{"media": {media}}
	return c.do(ctx, http.MethodPost, "channels/"+escape(channelID)+"/play/"+escape(playbackID), params, nil)
}

func (c *Client) StopPlayback(ctx context.Context, playbackID string) error {
	return c.do(ctx, http.MethodDelete, "playbacks/"+escape(playbackID), nil, nil)
}

func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "channels/"+escape(channelID), nil, nil)
}

func (c *Client) CreateBridge(ctx context.Context) (*gateway.Bridge, error) {
	var raw bridge
	if err := c.do(ctx, http.MethodPost, "bridges", url.Values{"type": {"mixing"}}, &raw); err != nil {
		return nil, err
	}
	return raw.toGateway(), nil
}

func (c *Client) AddChannel(ctx context.Context, bridgeID, channelID string) error {
	params := url.Values{"channel": {channelID}}
	return c.do(ctx, http.MethodPost, "bridges/"+escape(bridgeID)+"/addChannel", params, nil)
}

func (c *Client) DestroyBridge(ctx context.Context, bridgeID string) error {
	return c.do(ctx, http.MethodDelete, "bridges/"+escape(bridgeID), nil, nil)
}

func (c *Client) Record(ctx context.Context, bridgeID string, opts gateway.RecordOptions) error {
	params := url.Values{}
	params.Set("name", opts.Name)
	params.Set("format", opts.Format)
	if opts.MaxDuration > 0 {
		params.Set("maxDurationSeconds", strconv.Itoa(int(opts.MaxDuration.Seconds())))
	}
	return c.do(ctx, http.MethodPost, "bridges/"+escape(bridgeID)+"/record", params, nil)
}

// SubscribeEndpoints asks Asterisk to deliver endpoint events of the
// configured technology to the application.
func (c *Client) SubscribeEndpoints(ctx context.Context) error {
	params := url.Values{"eventSource": {"endpoint:" + c.cfg.Technology}}
	return c.do(ctx, http.MethodPost, "applications/"+escape(c.cfg.App)+"/subscription", params, nil)
}
