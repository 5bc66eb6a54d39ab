package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// Config holds the call monitor configuration
type Config struct {
	// APIAddr is the call router HTTP API, e.g. http://localhost:8080
	APIAddr string
	// GRPCAddr is the call router watch stream, e.g. localhost:9090
	GRPCAddr string
	// Refresh is the stats polling interval
	Refresh time.Duration
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	return LoadArgs(os.Args[1:], os.Getenv)
}

// LoadArgs parses args and applies overrides from getenv.
func LoadArgs(args []string, getenv func(string) string) *Config {
	cfg := &Config{}

	// Define flags
	fs := flag.NewFlagSet("callmonitor", flag.ExitOnError)
	fs.StringVar(&cfg.APIAddr, "api", "http://localhost:8080", "Call router HTTP API address")
	fs.StringVar(&cfg.GRPCAddr, "grpc", "localhost:9090", "Call router watch stream address")
	fs.DurationVar(&cfg.Refresh, "refresh", 3*time.Second, "Stats refresh interval")
	fs.Parse(args)

	// Override with environment variables if set
	if api := getenv("MONITOR_API"); api != "" {
		cfg.APIAddr = api
	}
	if grpcAddr := getenv("MONITOR_GRPC"); grpcAddr != "" {
		cfg.GRPCAddr = grpcAddr
	}
	if refresh := getenv("MONITOR_REFRESH"); refresh != "" {
		if d, err := time.ParseDuration(refresh); err == nil && d > 0 {
			cfg.Refresh = d
		}
	}

	cfg.APIAddr = normalizeAddress(cfg.APIAddr)
	if cfg.Refresh <= 0 {
		cfg.Refresh = 3 * time.Second
	}
	return cfg
}

// normalizeAddress ensures the API address has a scheme and no trailing slash
func normalizeAddress(addr string) string {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return addr
}
