package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebas/callrouter/internal/callrouter/session"
)

// Office describes the operators and call handling of one office line.
//
// Example:
//
//	operators: ["201", "202"]
//	local_phones: ["201", "202", "203"]
//	operator_prefix: "2"
//	prompts:
//	  welcome: welcome
//	  routing: routing
//	timeouts:
//	  one: 15s
//	  all: 200s
//	  retry: 5s
//	recording:
//	  root: callrouter
//	  format: wav
//	  max_duration: 600s
type Office struct {
	Operators      []string  `yaml:"operators"`
	LocalPhones    []string  `yaml:"local_phones"`
	OperatorPrefix string    `yaml:"operator_prefix"`
	Prompts        Prompts   `yaml:"prompts"`
	Timeouts       Timeouts  `yaml:"timeouts"`
	Recording      Recording `yaml:"recording"`
}

// Prompts are the IVR sound names. An empty name skips the prompt.
type Prompts struct {
	Welcome string `yaml:"welcome"`
	Routing string `yaml:"routing"`
}

type Timeouts struct {
	One   time.Duration `yaml:"one"`
	All   time.Duration `yaml:"all"`
	Retry time.Duration `yaml:"retry"`
}

type Recording struct {
	Disabled    bool          `yaml:"disabled"`
	Root        string        `yaml:"root"`
	Format      string        `yaml:"format"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

// DefaultOffice returns an office where every endpoint is an operator.
func DefaultOffice() *Office {
	return &Office{
		OperatorPrefix: session.DefaultOperatorPrefix,
		Prompts: Prompts{
			Welcome: session.DefaultWelcomePrompt,
			Routing: session.DefaultRoutingPrompt,
		},
		Timeouts: Timeouts{
			One:   session.DefaultOneTimeout,
			All:   session.DefaultAllTimeout,
			Retry: session.DefaultRetryDelay,
		},
		Recording: Recording{
			Root:        session.DefaultRecordingRoot,
			Format:      session.DefaultRecordingFormat,
			MaxDuration: session.DefaultRecordingMax,
		},
	}
}

// LoadOffice reads an office file. Keys absent from the file keep their
// defaults.
func LoadOffice(path string) (*Office, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read office file: %w", err)
	}
	return ParseOffice(data)
}

// ParseOffice decodes and validates office YAML.
func ParseOffice(data []byte) (*Office, error) {
	office := DefaultOffice()
	if err := yaml.Unmarshal(data, office); err != nil {
		return nil, fmt.Errorf("failed to parse office file: %w", err)
	}
	if err := office.Validate(); err != nil {
		return nil, err
	}
	return office, nil
}

// Validate checks the office settings.
func (o *Office) Validate() error {
	var errs []error
	if o.OperatorPrefix != "" && (len(o.OperatorPrefix) != 1 || !isDigits(o.OperatorPrefix)) {
		errs = append(errs, fmt.Errorf("operator_prefix %q must be a single digit", o.OperatorPrefix))
	}
	for _, op := range o.Operators {
		if strings.TrimSpace(op) == "" {
			errs = append(errs, errors.New("operators must not contain empty entries"))
			break
		}
	}
	if o.Timeouts.One < 0 || o.Timeouts.All < 0 || o.Timeouts.Retry < 0 {
		errs = append(errs, errors.New("timeouts must not be negative"))
	}
	if o.Recording.MaxDuration < 0 {
		errs = append(errs, errors.New("recording.max_duration must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid office file: %w", errors.Join(errs...))
	}
	return nil
}

// SessionConfig builds the session settings for app on technology.
func (o *Office) SessionConfig(app, technology string) session.Config {
	return session.Config{
		App:                  app,
		Technology:           technology,
		Operators:            o.Operators,
		LocalPhones:          o.LocalPhones,
		OperatorPrefix:       o.OperatorPrefix,
		WelcomePrompt:        o.Prompts.Welcome,
		RoutingPrompt:        o.Prompts.Routing,
		OneTimeout:           o.Timeouts.One,
		AllTimeout:           o.Timeouts.All,
		RetryDelay:           o.Timeouts.Retry,
		RecordingRoot:        o.Recording.Root,
		RecordingFormat:      o.Recording.Format,
		RecordingMaxDuration: o.Recording.MaxDuration,
		DisableRecording:     o.Recording.Disabled,
	}.WithDefaults()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
