package server

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Hardcoded token and relay defaults
const (
	// RefreshBuffer is the safety margin before expiry at which a token is
	// refreshed. Fixed, not configurable per call.
	RefreshBuffer = 5 * time.Minute

	DefaultRelayWindowDays = 7
	MaxRecordLimit         = 25
	DefaultUpstreamTimeout = 30 * time.Second
)

// Hardcoded CORS defaults
var (
	DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type"}
	DefaultCORSAllowedMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
)

// Config captures the full application configuration loaded from YAML and environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Whoop  WhoopConfig  `yaml:"whoop"`
	App    AppConfig    `yaml:"app"`
	CORS   CORSConfig   `yaml:"cors"`
}

// ServerConfig controls listener, TLS, and HTTP concerns.
type ServerConfig struct {
	PublicURL       string    `yaml:"public_url"`
	DevListenAddr   string    `yaml:"dev_listen_addr"`
	HTTPListenAddr  string    `yaml:"http_listen_addr"`
	HTTPSListenAddr string    `yaml:"https_listen_addr"`
	DevMode         bool      `yaml:"dev_mode"`
	SecretsPath     string    `yaml:"secrets_path"`
	TLS             TLSConfig `yaml:"tls"`
}

// TLSConfig defines autocert behaviour and TLS constraints.
type TLSConfig struct {
	Domains    []string `yaml:"domains"`
	Email      string   `yaml:"email"`
	HSTSMaxAge int      `yaml:"hsts_max_age"`
}

// WhoopConfig holds the upstream WHOOP API credentials and endpoints.
type WhoopConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	APIBaseURL   string `yaml:"api_base_url"`
}

// AppConfig covers the mobile application integration surface.
type AppConfig struct {
	// RedirectURI is the deep link the OAuth callback bounces the browser to.
	RedirectURI string `yaml:"redirect_uri"`
}

// CORSConfig controls cross-origin access for the mobile/web callers.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// LoadConfig reads the YAML config file and merges environment overrides.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}

		// Use strict unmarshaling to detect unknown fields
		decoder := yaml.NewDecoder(bytes.NewReader(b))
		decoder.KnownFields(true)

		if err := decoder.Decode(&cfg); err != nil {
			if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
				slog.Error("Configuration contains unknown keys", "error", err, "file", path)
				return Config{}, fmt.Errorf("invalid config: %w (check for typos or deprecated fields)", err)
			}
			slog.Error("Failed to parse configuration", "error", err, "file", path)
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return Config{}, err
	}

	return cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PublicURL:       "http://127.0.0.1:8000",
			DevListenAddr:   "127.0.0.1:8000",
			HTTPListenAddr:  ":80",
			HTTPSListenAddr: ":443",
			DevMode:         true,
			SecretsPath:     ".secrets",
			TLS: TLSConfig{
				Domains:    []string{"localhost"},
				HSTSMaxAge: 31536000,
			},
		},
		Whoop: WhoopConfig{
			APIBaseURL: "https://api.prod.whoop.com",
		},
		App: AppConfig{
			RedirectURI: "nutrogen://whoop/callback",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: DefaultCORSAllowedMethods,
			AllowedHeaders: DefaultCORSAllowedHeaders,
		},
	}
}

// DefaultConfig returns the default configuration template.
func DefaultConfig() Config {
	return defaultConfig()
}

func applyEnvOverrides(cfg *Config) {
	overrides := map[string]func(string){
		"WHOOPD_SERVER_PUBLIC_URL":        func(v string) { cfg.Server.PublicURL = v },
		"WHOOPD_SERVER_DEV_LISTEN_ADDR":   func(v string) { cfg.Server.DevListenAddr = v },
		"WHOOPD_SERVER_HTTP_LISTEN_ADDR":  func(v string) { cfg.Server.HTTPListenAddr = v },
		"WHOOPD_SERVER_HTTPS_LISTEN_ADDR": func(v string) { cfg.Server.HTTPSListenAddr = v },
		"WHOOPD_SERVER_DEV_MODE":          func(v string) { cfg.Server.DevMode = parseBool(v, cfg.Server.DevMode) },
		"WHOOPD_SERVER_TLS_DOMAINS":       func(v string) { cfg.Server.TLS.Domains = splitAndTrim(v) },
		"WHOOPD_SERVER_TLS_EMAIL":         func(v string) { cfg.Server.TLS.Email = v },
		"WHOOPD_SERVER_SECRETS_PATH":      func(v string) { cfg.Server.SecretsPath = v },
		"WHOOPD_WHOOP_CLIENT_ID":          func(v string) { cfg.Whoop.ClientID = v },
		"WHOOPD_WHOOP_CLIENT_SECRET":      func(v string) { cfg.Whoop.ClientSecret = v },
		"WHOOPD_WHOOP_REDIRECT_URI":       func(v string) { cfg.Whoop.RedirectURI = v },
		"WHOOPD_WHOOP_API_BASE_URL":       func(v string) { cfg.Whoop.APIBaseURL = v },
		"WHOOPD_APP_REDIRECT_URI":         func(v string) { cfg.App.RedirectURI = v },
	}

	for key, fn := range overrides {
		if val, ok := os.LookupEnv(key); ok {
			fn(val)
		}
	}
}

func parseBool(val string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Validate performs minimal sanity checks on the config.
func (c Config) Validate() error {
	if c.Server.PublicURL == "" {
		slog.Error("Missing required configuration", "field", "server.public_url")
		return errors.New("server.public_url is required")
	}
	if !strings.HasPrefix(c.Server.PublicURL, "http://") && !strings.HasPrefix(c.Server.PublicURL, "https://") {
		slog.Error("Invalid configuration value", "field", "server.public_url", "value", c.Server.PublicURL, "reason", "must start with http:// or https://")
		return fmt.Errorf("server.public_url must start with http:// or https://, got: %s", c.Server.PublicURL)
	}

	if !c.Server.DevMode && len(c.Server.TLS.Domains) == 0 {
		slog.Error("Missing required configuration for production mode", "field", "server.tls.domains")
		return errors.New("server.tls.domains must be provided in production")
	}

	if c.Whoop.APIBaseURL == "" {
		slog.Error("Missing required configuration", "field", "whoop.api_base_url")
		return errors.New("whoop.api_base_url is required")
	}
	if !strings.HasPrefix(c.Whoop.APIBaseURL, "http://") && !strings.HasPrefix(c.Whoop.APIBaseURL, "https://") {
		slog.Error("Invalid configuration value", "field", "whoop.api_base_url", "value", c.Whoop.APIBaseURL, "reason", "must be a valid HTTP(S) URL")
		return fmt.Errorf("whoop.api_base_url must start with http:// or https://, got: %s", c.Whoop.APIBaseURL)
	}

	// The client ID may legitimately be absent at startup (the auth-url
	// endpoint reports it per request), but a secret without an ID is a typo.
	if c.Whoop.ClientID == "" && c.Whoop.ClientSecret != "" {
		slog.Error("Inconsistent WHOOP credentials", "field", "whoop.client_id", "reason", "client_secret set without client_id")
		return errors.New("whoop.client_id is required when whoop.client_secret is set")
	}

	if !c.Server.DevMode {
		if c.Whoop.ClientID == "" {
			slog.Error("Missing required configuration for production mode", "field", "whoop.client_id")
			return errors.New("whoop.client_id is required in production")
		}
		if c.Whoop.ClientSecret == "" {
			slog.Error("Missing required configuration for production mode", "field", "whoop.client_secret")
			return errors.New("whoop.client_secret is required in production")
		}
		if c.Whoop.RedirectURI == "" {
			slog.Error("Missing required configuration for production mode", "field", "whoop.redirect_uri")
			return errors.New("whoop.redirect_uri is required in production")
		}
	}

	if c.App.RedirectURI == "" {
		slog.Error("Missing required configuration", "field", "app.redirect_uri")
		return errors.New("app.redirect_uri is required")
	}
	if !strings.Contains(c.App.RedirectURI, "://") {
		slog.Error("Invalid configuration value", "field", "app.redirect_uri", "value", c.App.RedirectURI, "reason", "must be an absolute URI (custom schemes allowed)")
		return fmt.Errorf("app.redirect_uri must be an absolute URI, got: %s", c.App.RedirectURI)
	}

	return nil
}
