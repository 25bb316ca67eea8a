// Package session is the client side of ProjectHub authentication: an
// activity tracker, the session monitor state machine and a GraphQL API
// client for the auth service.
package session

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/projecthub/pkg/config"
)

// Config holds the client session settings. Values come from the
// environment and may be overridden by a YAML file.
type Config struct {
	APIURL            string        `env:"AUTH_API_URL" envDefault:"http://localhost:8010/graphql" yaml:"api_url"`
	APITimeout        time.Duration `env:"AUTH_API_TIMEOUT" envDefault:"10s" yaml:"api_timeout"`
	CheckInterval     time.Duration `env:"SESSION_CHECK_INTERVAL" envDefault:"5s" yaml:"check_interval"`
	IdleThreshold     time.Duration `env:"SESSION_IDLE_THRESHOLD" envDefault:"2m" yaml:"idle_threshold"`
	AutoLogoutDelay   time.Duration `env:"SESSION_AUTO_LOGOUT_DELAY" envDefault:"3m" yaml:"auto_logout_delay"`
	ActivityThrottle  time.Duration `env:"ACTIVITY_THROTTLE" envDefault:"1s" yaml:"activity_throttle"`
	RefreshAtFraction float64       `env:"REFRESH_AT_FRACTION" envDefault:"0.5" yaml:"refresh_at_fraction"`
	LoginRoute        string        `env:"LOGIN_ROUTE" envDefault:"/login" yaml:"login_route"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"warn" yaml:"log_level"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		APIURL:            "http://localhost:8010/graphql",
		APITimeout:        10 * time.Second,
		CheckInterval:     5 * time.Second,
		IdleThreshold:     2 * time.Minute,
		AutoLogoutDelay:   3 * time.Minute,
		ActivityThrottle:  time.Second,
		RefreshAtFraction: 0.5,
		LoginRoute:        "/login",
		LogLevel:          "warn",
	}
}

// LoadConfig reads the environment, then the optional YAML file at path.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadWithFile(cfg, path); err != nil {
		return nil, fmt.Errorf("load session config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("AUTH_API_URL must be an absolute URL, got %q", c.APIURL)
	}
	for name, d := range map[string]time.Duration{
		"AUTH_API_TIMEOUT":          c.APITimeout,
		"SESSION_CHECK_INTERVAL":    c.CheckInterval,
		"SESSION_IDLE_THRESHOLD":    c.IdleThreshold,
		"SESSION_AUTO_LOGOUT_DELAY": c.AutoLogoutDelay,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.ActivityThrottle < 0 {
		return fmt.Errorf("ACTIVITY_THROTTLE must not be negative, got %s", c.ActivityThrottle)
	}
	if c.RefreshAtFraction <= 0 || c.RefreshAtFraction >= 1 {
		return fmt.Errorf("REFRESH_AT_FRACTION must be in (0, 1), got %g", c.RefreshAtFraction)
	}
	if c.CheckInterval >= c.IdleThreshold {
		return fmt.Errorf("SESSION_CHECK_INTERVAL (%s) must be shorter than SESSION_IDLE_THRESHOLD (%s)",
			c.CheckInterval, c.IdleThreshold)
	}
	if c.LoginRoute == "" {
		return fmt.Errorf("LOGIN_ROUTE must not be empty")
	}
	return nil
}
