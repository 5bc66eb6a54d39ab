package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the call router configuration
type Config struct {
	// ARI settings
	ARIURL      string
	ARIUser     string
	ARIPassword string
	ARIApp      string
	Technology  string

	// Directory lookup settings
	DirectoryURL      string // empty disables the lookup
	DirectoryTimeout  time.Duration
	DirectoryCacheTTL time.Duration // zero disables caching

	// Listeners
	APIAddr  string
	GRPCAddr string // empty disables the watch stream

	LogLevel string
	LogFile  string // optional second log sink, at debug level
	NodeID   string

	// OfficePath points at the YAML office file; empty uses defaults
	OfficePath string
	Office     *Office
}

// Load loads configuration from command line flags and environment variables
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:], os.Getenv)
}

// LoadArgs parses args, applies overrides from getenv and loads the
// office file.
func LoadArgs(args []string, getenv func(string) string) (*Config, error) {
	cfg := &Config{}
	hostname, _ := os.Hostname()

	// Define flags
	fs := flag.NewFlagSet("callrouter", flag.ContinueOnError)
	fs.StringVar(&cfg.ARIURL, "ari-url", "http://127.0.0.1:8088", "Asterisk HTTP server URL")
	fs.StringVar(&cfg.ARIUser, "ari-user", "asterisk", "ARI user")
	fs.StringVar(&cfg.ARIPassword, "ari-password", "asterisk", "ARI password")
	fs.StringVar(&cfg.ARIApp, "ari-app", "callrouter", "Stasis application name")
	fs.StringVar(&cfg.Technology, "tech", "SIP", "Operator endpoint technology")
	fs.StringVar(&cfg.DirectoryURL, "directory-url", "", "Directory lookup URL (disabled if empty)")
	fs.DurationVar(&cfg.DirectoryTimeout, "directory-timeout", 5*time.Second, "Directory lookup timeout")
	fs.DurationVar(&cfg.DirectoryCacheTTL, "directory-cache-ttl", time.Minute, "Directory lookup cache TTL (0 disables)")
	fs.StringVar(&cfg.APIAddr, "api", ":8080", "HTTP API listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc", ":9090", "gRPC watch stream listen address (disabled if empty)")
	fs.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "logfile", "", "Also write debug logs to this file")
	fs.StringVar(&cfg.NodeID, "node", hostname, "Node id stamped on events")
	fs.StringVar(&cfg.OfficePath, "office", "", "Path to office YAML file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override with environment variables if set
	overrides := map[string]*string{
		"ARI_URL":       &cfg.ARIURL,
		"ARI_USER":      &cfg.ARIUser,
		"ARI_PASSWORD":  &cfg.ARIPassword,
		"ARI_APP":       &cfg.ARIApp,
		"ARI_TECH":      &cfg.Technology,
		"DIRECTORY_URL": &cfg.DirectoryURL,
		"API_ADDR":      &cfg.APIAddr,
		"GRPC_ADDR":     &cfg.GRPCAddr,
		"LOGLEVEL":      &cfg.LogLevel,
		"LOG_FILE":      &cfg.LogFile,
		"NODE_ID":       &cfg.NodeID,
		"OFFICE_CONFIG": &cfg.OfficePath,
	}
	for env, dst := range overrides {
		if v := getenv(env); v != "" {
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"DIRECTORY_TIMEOUT":   &cfg.DirectoryTimeout,
		"DIRECTORY_CACHE_TTL": &cfg.DirectoryCacheTTL,
	}
	for env, dst := range durations {
		if v := getenv(env); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", env, err)
			}
			*dst = d
		}
	}

	if cfg.OfficePath != "" {
		office, err := LoadOffice(cfg.OfficePath)
		if err != nil {
			return nil, err
		}
		cfg.Office = office
	} else {
		cfg.Office = DefaultOffice()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.ARIURL) == "" {
		problems = append(problems, "ARI URL is required")
	}
	if strings.TrimSpace(c.ARIApp) == "" {
		problems = append(problems, "ARI application is required")
	}
	if c.APIAddr == "" {
		problems = append(problems, "API address is required")
	}
	if c.DirectoryTimeout < 0 || c.DirectoryCacheTTL < 0 {
		problems = append(problems, "directory durations must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// parseDuration accepts Go durations and plain seconds.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}
