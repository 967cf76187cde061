// Package config parses server configuration. Precedence follows the
// usual layering: built-in defaults, then an optional .env file, then
// real environment variables (NENOFLIX_* prefix), then flags.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// envPrefix namespaces the server's environment variables, e.g.
// NENOFLIX_ADDR, NENOFLIX_MEDIA_ROOT.
const envPrefix = "nenoflix"

// ServerConfig holds configuration for the nenoflixd binary.
type ServerConfig struct {
	Addr        string `envconfig:"ADDR" default:":8080"`
	MediaRoot   string `envconfig:"MEDIA_ROOT" default:"./media"`
	StagingRoot string `envconfig:"STAGING_ROOT" default:"./staging"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"text"`
	CORSOrigins string `envconfig:"CORS_ORIGINS" default:"*"`

	SessionTTL          time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	SessionRecentWindow time.Duration `envconfig:"SESSION_RECENT_WINDOW" default:"10m"`
	SessionMinAge       time.Duration `envconfig:"SESSION_MIN_AGE" default:"1h"`
	EvictionInterval    time.Duration `envconfig:"EVICTION_INTERVAL" default:"30m"`

	// HTTP/3 listener; enabled only when both TLS files are set.
	EnableHTTP3 bool   `envconfig:"ENABLE_HTTP3" default:"false"`
	TLSCertFile string `envconfig:"TLS_CERT_FILE" default:""`
	TLSKeyFile  string `envconfig:"TLS_KEY_FILE" default:""`
}

// ParseServerConfig loads an optional .env file, reads environment
// variables, and lets flags override both.
func ParseServerConfig() (ServerConfig, error) {
	// Missing .env is the normal case outside container deployments.
	_ = godotenv.Load()
	return parseServerConfigWithFlagSet(flag.CommandLine, os.Args[1:])
}

// parseServerConfigWithFlagSet is an internal helper for testing with
// isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	var cfg ServerConfig
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("read environment: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.MediaRoot, "media-root", cfg.MediaRoot, "media library root directory")
	fs.StringVar(&cfg.StagingRoot, "staging-root", cfg.StagingRoot, "staging directory for in-flight uploads")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", cfg.CORSOrigins, "comma-separated allowed CORS origins, or *")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "idle age after which a session is evictable")
	fs.DurationVar(&cfg.SessionRecentWindow, "session-recent-window", cfg.SessionRecentWindow, "recent-activity window protecting a session from eviction")
	fs.DurationVar(&cfg.SessionMinAge, "session-min-age", cfg.SessionMinAge, "minimum session age before eviction applies")
	fs.DurationVar(&cfg.EvictionInterval, "eviction-interval", cfg.EvictionInterval, "how often the session eviction sweep runs")
	fs.BoolVar(&cfg.EnableHTTP3, "http3", cfg.EnableHTTP3, "serve HTTP/3 alongside HTTP/1.1 (needs TLS cert and key)")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate file for HTTP/3")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS key file for HTTP/3")
	if err := fs.Parse(args); err != nil {
		return ServerConfig{}, err
	}

	if cfg.EnableHTTP3 && (cfg.TLSCertFile == "" || cfg.TLSKeyFile == "") {
		return ServerConfig{}, fmt.Errorf("http3 requires both -tls-cert and -tls-key")
	}
	return cfg, nil
}
