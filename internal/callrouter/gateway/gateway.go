// Package gateway defines the signaling gateway capabilities the call router
// consumes: endpoint directory, channel and bridge operations, and the
// event stream of the routing application.
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when the addressed channel, bridge, playback or
// endpoint no longer exists on the gateway.
var ErrNotFound = errors.New("gateway: resource not found")

// EndpointState is the registration state of an endpoint.
type EndpointState string

const (
	EndpointOnline  EndpointState = "online"
	EndpointOffline EndpointState = "offline"
	EndpointUnknown EndpointState = "unknown"
)

// Endpoint is an operator's registered device on a technology.
type Endpoint struct {
	Technology string        `json:"technology"`
	Resource   string        `json:"resource"`
	State      EndpointState `json:"state"`
	ChannelIDs []string      `json:"channel_ids"`
}

// Online reports whether the endpoint is registered.
func (e Endpoint) Online() bool {
	return e.State == EndpointOnline
}

// Available reports whether the endpoint is registered and idle.
func (e Endpoint) Available() bool {
	return e.Online() && len(e.ChannelIDs) == 0
}

// Address returns the dial string, e.g. "SIP/201".
func (e Endpoint) Address() string {
	return e.Technology + "/" + e.Resource
}

// CallerID identifies the calling party of a channel.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Channel is a gateway-owned call leg.
type Channel struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Caller CallerID `json:"caller"`
}

// Bridge mixes the media of its member channels.
type Bridge struct {
	ID         string   `json:"id"`
	BridgeType string   `json:"bridge_type,omitempty"`
	ChannelIDs []string `json:"channels,omitempty"`
}

// OriginateRequest describes an outbound leg. ChannelID is chosen by the
// caller so that events can be subscribed to before the leg exists.
type OriginateRequest struct {
	ChannelID string
	Endpoint  string
	App       string
	AppArgs   string
	CallerID  string
	Timeout   time.Duration
}

// RecordOptions configures a bridge recording.
type RecordOptions struct {
	Name        string
	Format      string
	MaxDuration time.Duration
}

// Gateway is the set of signaling operations the router needs.
type Gateway interface {
	// Endpoints lists every endpoint of a technology.
	Endpoints(ctx context.Context, tech string) ([]Endpoint, error)
	// Endpoint returns one endpoint.
	Endpoint(ctx context.Context, tech, resource string) (*Endpoint, error)

	// Originate creates an outbound channel into the routing application.
	Originate(ctx context.Context, req OriginateRequest) (*Channel, error)
	Ring(ctx context.Context, channelID string) error
	StopRing(ctx context.Context, channelID string) error
	// StartHold plays hold music to the channel.
	StartHold(ctx context.Context, channelID string) error
	// Play starts media on the channel under the given playback id.
	// Completion is reported as a PlaybackFinished event.
	Play(ctx context.Context, channelID, playbackID, media string) error
	StopPlayback(ctx context.Context, playbackID string) error
	Hangup(ctx context.Context, channelID string) error

	CreateBridge(ctx context.Context) (*Bridge, error)
	AddChannel(ctx context.Context, bridgeID, channelID string) error
	DestroyBridge(ctx context.Context, bridgeID string) error
	Record(ctx context.Context, bridgeID string, opts RecordOptions) error

	// Subscribe delivers the events accepted by filter until the
	// subscription is cancelled.
	Subscribe(filter Filter) *Subscription
}

// IsNotFound reports whether err means the resource is already gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SplitAddress splits "SIP/201" into technology and resource.
func SplitAddress(address string) (tech, resource string, ok bool) {
	tech, resource, ok = strings.Cut(address, "/")
	if !ok || tech == "" || resource == "" {
		return "", "", false
	}
	return tech, resource, true
}
