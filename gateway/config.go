// Copyright 2026 The Atrium Authors
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "24h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the gateway's YAML configuration file.
type Config struct {
	// Listen is the address the gateway binds, host:port.
	Listen string `yaml:"listen"`

	// Hostname is the gateway's own host name. Requests to it that no
	// app claims reach the portal (login, whoami, health).
	Hostname string `yaml:"hostname"`

	// LoginPath is the portal path browsers are redirected to when
	// unauthenticated. Defaults to /login.
	LoginPath string `yaml:"login_path"`

	// CookieName overrides the session cookie name.
	CookieName string `yaml:"cookie_name"`

	// KeyFile holds the hex-encoded session master key; generated on
	// first start when absent.
	KeyFile string `yaml:"key_file"`

	SessionTTL     Duration `yaml:"session_ttl"`
	SessionLeeway  Duration `yaml:"session_leeway"`
	ForwardTimeout Duration `yaml:"forward_timeout"`

	Apps  []AppConfig  `yaml:"apps"`
	Users []UserConfig `yaml:"users"`
}

// AppConfig is one routing rule. Exactly one of Target, StaticRoot,
// or Deny selects the rule's kind.
type AppConfig struct {
	Host       string   `yaml:"host"`
	PathPrefix string   `yaml:"path_prefix"`
	Target     string   `yaml:"target"`
	StaticRoot string   `yaml:"static_root"`
	Deny       bool     `yaml:"deny"`
	Protected  bool     `yaml:"protected"`
	Roles      []string `yaml:"roles"`

	// InjectSecurityHeaders adds the hardening header set to this
	// app's responses when the app did not set them itself.
	InjectSecurityHeaders bool `yaml:"inject_security_headers"`
}

// UserConfig is one portal account. PasswordHash is a bcrypt hash;
// plain passwords never appear in configuration.
type UserConfig struct {
	Login        string   `yaml:"login"`
	PasswordHash string   `yaml:"password_hash"`
	Roles        []string `yaml:"roles"`
}

// LoadConfig reads, parses, and validates a configuration file, and
// applies defaults. Unknown YAML fields are rejected so typos fail
// loudly instead of silently configuring nothing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := unmarshalStrict(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func unmarshalStrict(data []byte, v any) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty config")
		}
		return err
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = "0.0.0.0:8080"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/login"
	}
	if c.KeyFile == "" {
		c.KeyFile = "atrium.key"
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = Duration(24 * time.Hour)
	}
	if c.SessionLeeway <= 0 {
		c.SessionLeeway = Duration(30 * time.Second)
	}
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = Duration(30 * time.Second)
	}
}

// Validate reports every problem at once rather than stopping at the
// first.
func (c *Config) Validate() error {
	var errs []error

	if c.Hostname == "" {
		errs = append(errs, errors.New("hostname is required"))
	}

	for i, app := range c.Apps {
		kinds := 0
		if app.Target != "" {
			kinds++
			u, err := url.Parse(app.Target)
			if err != nil {
				errs = append(errs, fmt.Errorf("apps[%d]: invalid target %q: %w", i, app.Target, err))
			} else if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				errs = append(errs, fmt.Errorf("apps[%d]: target %q must be an http(s) URL with a host", i, app.Target))
			}
		}
		if app.StaticRoot != "" {
			kinds++
		}
		if app.Deny {
			kinds++
		}
		if kinds != 1 {
			errs = append(errs, fmt.Errorf("apps[%d] (host %q): exactly one of target, static_root, deny is required", i, app.Host))
		}
		if app.Host == "" {
			errs = append(errs, fmt.Errorf("apps[%d]: host is required", i))
		}
		if len(app.Roles) > 0 && !app.Protected {
			errs = append(errs, fmt.Errorf("apps[%d] (host %q): roles require protected: true", i, app.Host))
		}
		errs = append(errs, validateRoles(fmt.Sprintf("apps[%d]", i), app.Roles)...)
	}

	seenLogins := make(map[string]bool, len(c.Users))
	for i, user := range c.Users {
		if user.Login == "" {
			errs = append(errs, fmt.Errorf("users[%d]: login is required", i))
		}
		if user.PasswordHash == "" {
			errs = append(errs, fmt.Errorf("users[%d] (%s): password_hash is required", i, user.Login))
		}
		if seenLogins[user.Login] {
			errs = append(errs, fmt.Errorf("users[%d]: duplicate login %q", i, user.Login))
		}
		seenLogins[user.Login] = true
		errs = append(errs, validateRoles(fmt.Sprintf("users[%d] (%s)", i, user.Login), user.Roles)...)
	}

	return errors.Join(errs...)
}

// validateRoles rejects role names the session wire format cannot
// carry unambiguously: roles travel comma-joined inside the cookie,
// so a comma in a name would split it into two roles on read. Empty
// names are rejected for the same reason.
func validateRoles(where string, roles []string) []error {
	var errs []error
	for _, role := range roles {
		if role == "" {
			errs = append(errs, fmt.Errorf("%s: empty role name", where))
			continue
		}
		if strings.Contains(role, ",") {
			errs = append(errs, fmt.Errorf("%s: role name %q must not contain a comma", where, role))
		}
	}
	return errs
}

// Rules converts the app list into route rules for BuildTable. Call
// only on a validated config.
func (c *Config) Rules() ([]RouteRule, error) {
	rules := make([]RouteRule, 0, len(c.Apps))
	for i, app := range c.Apps {
		rule := RouteRule{
			HostPattern:     app.Host,
			PathPrefix:      app.PathPrefix,
			Protected:       app.Protected,
			Roles:           app.Roles,
			SecurityHeaders: app.InjectSecurityHeaders,
		}
		switch {
		case app.Target != "":
			u, err := url.Parse(app.Target)
			if err != nil {
				return nil, fmt.Errorf("apps[%d]: invalid target: %w", i, err)
			}
			rule.Target = Target{Kind: TargetUpstream, Upstream: u}
		case app.StaticRoot != "":
			rule.Target = Target{Kind: TargetStatic, StaticRoot: app.StaticRoot}
		default:
			rule.Target = Target{Kind: TargetDeny}
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// UserByLogin looks up a portal account. The second return is false
// when the login is unknown.
func (c *Config) UserByLogin(login string) (UserConfig, bool) {
	for _, user := range c.Users {
		if user.Login == login {
			return user, true
		}
	}
	return UserConfig{}, false
}
