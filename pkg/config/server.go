package config

import (
	"fmt"
	"time"
)

// DefaultSessionTTL is applied when the auth section omits one.
const DefaultSessionTTL = "24h"

// ServerConfig contains all API server configuration.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
	Auth        AuthConfig      `yaml:"auth,omitempty" mapstructure:"auth"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	Enabled       bool       `yaml:"enabled" mapstructure:"enabled"`
	SessionTTL    string     `yaml:"session_ttl" mapstructure:"session_ttl"`
	AnonymousRead bool       `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Users         []AuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// AuthUser defines a username/password user from config.
type AuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Role     string `yaml:"role" mapstructure:"role"`
}

func (s *ServerConfig) applyDefaults() {
	if s.Listen == "" {
		s.Listen = ":8001"
	}

	if s.Auth.SessionTTL == "" {
		s.Auth.SessionTTL = DefaultSessionTTL
	}
}

// Validate checks the server configuration for errors.
func (s *ServerConfig) Validate() error {
	if _, err := time.ParseDuration(s.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid session_ttl %q: %w", s.Auth.SessionTTL, err)
	}

	if s.Auth.Enabled && len(s.Auth.Users) == 0 {
		return fmt.Errorf("auth is enabled but no users are configured")
	}

	seen := make(map[string]struct{}, len(s.Auth.Users))

	for i, u := range s.Auth.Users {
		if u.Username == "" {
			return fmt.Errorf("auth user %d: username is required", i)
		}

		if _, exists := seen[u.Username]; exists {
			return fmt.Errorf("auth user %d: duplicate username %q", i, u.Username)
		}

		seen[u.Username] = struct{}{}

		if u.Password == "" {
			return fmt.Errorf("auth user %q: password is required", u.Username)
		}
	}

	return nil
}
