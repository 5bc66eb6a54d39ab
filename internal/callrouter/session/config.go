package session

import (
	"slices"
	"time"
)

// Defaults for Config fields left zero.
const (
	DefaultTechnology      = "SIP"
	DefaultOperatorLegTag  = "operatorCall"
	DefaultOperatorPrefix  = "2"
	DefaultOneTimeout      = 15 * time.Second
	DefaultAllTimeout      = 200 * time.Second
	DefaultRetryDelay      = 5 * time.Second
	DefaultRecordingFormat = "wav"
	DefaultRecordingMax    = 600 * time.Second
	DefaultRecordingRoot   = "callrouter"
	DefaultWelcomePrompt   = "welcome"
	DefaultRoutingPrompt   = "routing"
	defaultTeardownTimeout = 5 * time.Second
)

// Config is the office routing policy shared by every session.
type Config struct {
	// App is the routing application originated legs are sent to.
	App string
	// Technology of operator endpoints, e.g. "SIP".
	Technology string
	// Operators lists the operator endpoint resources. Empty means every
	// endpoint of Technology is an operator.
	Operators []string
	// LocalPhones are internal numbers that skip the IVR.
	LocalPhones []string
	// OperatorPrefix is the first digit of operator codes entered by DTMF.
	OperatorPrefix string
	// OperatorLegTag marks originated legs so they are not taken for
	// inbound calls.
	OperatorLegTag string

	WelcomePrompt string
	RoutingPrompt string

	OneTimeout time.Duration
	AllTimeout time.Duration
	RetryDelay time.Duration

	RecordingRoot        string
	RecordingFormat      string
	RecordingMaxDuration time.Duration
	// DisableRecording skips bridge recording.
	DisableRecording bool
}

// WithDefaults returns a copy with zero fields set to their defaults.
func (c Config) WithDefaults() Config {
	if c.Technology == "" {
		c.Technology = DefaultTechnology
	}
	if c.OperatorPrefix == "" {
		c.OperatorPrefix = DefaultOperatorPrefix
	}
	if c.OperatorLegTag == "" {
		c.OperatorLegTag = DefaultOperatorLegTag
	}
	if c.OneTimeout == 0 {
		c.OneTimeout = DefaultOneTimeout
	}
	if c.AllTimeout == 0 {
		c.AllTimeout = DefaultAllTimeout
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RecordingRoot == "" {
		c.RecordingRoot = DefaultRecordingRoot
	}
	if c.RecordingFormat == "" {
		c.RecordingFormat = DefaultRecordingFormat
	}
	if c.RecordingMaxDuration == 0 {
		c.RecordingMaxDuration = DefaultRecordingMax
	}
	return c
}

// IsOperator reports whether resource is a configured operator endpoint.
func (c Config) IsOperator(resource string) bool {
	return len(c.Operators) == 0 || slices.Contains(c.Operators, resource)
}

// IsLocal reports whether number belongs to an internal phone.
func (c Config) IsLocal(number string) bool {
	return number != "" && slices.Contains(c.LocalPhones, number)
}
