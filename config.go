package authx

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	defaultBaseURL       = "http://localhost:8000"
	defaultAPIVersion    = "/api/v1"
	defaultHTTPTimeout   = 5 * time.Second
	defaultRefreshLeeway = 5 * time.Minute
	defaultUserAgent     = "judging-authx/1.0"

	// DefaultEnvPrefix is the environment prefix used by LoadConfig callers.
	DefaultEnvPrefix = "AUTHX_"
)

// Config describes how to reach the Auth Service and the poster API.
type Config struct {
	// BaseURL is the scheme and host of the API, without the version path.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8000"`

	// APIVersion is appended to BaseURL for every request (e.g. /api/v1).
	APIVersion string `env:"API_VERSION" envDefault:"/api/v1"`

	// HTTPTimeout bounds each request made to the API.
	HTTPTimeout time.Duration `env:"TIMEOUT" envDefault:"5s"`

	// RefreshLeeway is how long before expiry the proactive refresh fires.
	RefreshLeeway time.Duration `env:"REFRESH_LEEWAY" envDefault:"5m"`

	UserAgent string `env:"USER_AGENT" envDefault:"judging-authx/1.0"`
}

// LoadConfig reads a .env file when present and parses the environment using prefix.
func LoadConfig(prefix string, envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("load .env file: %w", err)
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: prefix}); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// normalize sets default values for optional fields.
func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.APIVersion = strings.TrimRight(strings.TrimSpace(c.APIVersion), "/")
	if c.APIVersion != "" && !strings.HasPrefix(c.APIVersion, "/") {
		c.APIVersion = "/" + c.APIVersion
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.RefreshLeeway <= 0 {
		c.RefreshLeeway = defaultRefreshLeeway
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
}

// validate ensures the configuration is usable.
func (c Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	switch {
	case err != nil:
		return fmt.Errorf("base url: %w", err)
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("base url %q: scheme must be http or https", c.BaseURL)
	case u.Host == "":
		return fmt.Errorf("base url %q: host is required", c.BaseURL)
	}
	return nil
}

// endpoint joins the API root and path.
func (c Config) endpoint(path string) string {
	return c.BaseURL + c.APIVersion + path
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	cfg := Config{
		BaseURL:       defaultBaseURL,
		APIVersion:    defaultAPIVersion,
		HTTPTimeout:   defaultHTTPTimeout,
		RefreshLeeway: defaultRefreshLeeway,
	}
	cfg.normalize()
	return cfg
}
