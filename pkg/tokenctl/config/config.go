package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

const (
	VersionV1 = "v1"
)

type Config struct {
	Version        string    `yaml:"version"`
	CurrentProfile string    `yaml:"current-profile,omitempty"`
	Profiles       []Profile `yaml:"profiles,omitempty"`
	Settings       Settings  `yaml:"settings,omitempty"`
}

type Settings struct {
	OutputFormat       string        `yaml:"output-format,omitempty"`
	DeviceCodeTimeout  time.Duration `yaml:"device-code-timeout,omitempty"`
	InteractiveTimeout time.Duration `yaml:"interactive-timeout,omitempty"`
	ProviderCacheTTL   time.Duration `yaml:"provider-cache-ttl,omitempty"`
}

// Profile describes one public client registration at an issuer.
type Profile struct {
	Name            string            `yaml:"name"`
	Authority       string            `yaml:"authority"`
	ClientID        string            `yaml:"client-id"`
	Scopes          []string          `yaml:"scopes,omitempty"`
	Flow            string            `yaml:"flow,omitempty"`
	CAFile          string            `yaml:"ca-file,omitempty"`
	InsecureSkipTLS bool              `yaml:"insecure-skip-tls-verify,omitempty"`
	NoBrowser       bool              `yaml:"no-browser,omitempty"`
	ExtraAuthParams map[string]string `yaml:"extra-auth-params,omitempty"`
}

// FlowKind returns the configured fallback flow, device code when unset.
func (p Profile) FlowKind() (auth.FlowKind, error) {
	if strings.TrimSpace(p.Flow) == "" {
		return auth.FlowDeviceCode, nil
	}
	return auth.ParseFlowKind(p.Flow)
}

func DefaultConfig() Config {
	return Config{
		Version: VersionV1,
		Settings: Settings{
			OutputFormat:       "text",
			DeviceCodeTimeout:  15 * time.Minute,
			InteractiveTimeout: 5 * time.Minute,
			ProviderCacheTTL:   12 * time.Hour,
		},
	}
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) FindProfile(name string) (*Profile, error) {
	for i := range c.Profiles {
		if c.Profiles[i].Name == name {
			return &c.Profiles[i], nil
		}
	}
	return nil, fmt.Errorf("profile not found: %s", name)
}

func (c *Config) CurrentProfileOrDefault() string {
	if c.CurrentProfile != "" {
		return c.CurrentProfile
	}
	if len(c.Profiles) > 0 {
		return c.Profiles[0].Name
	}
	return ""
}

// AddProfile appends p and makes it current when it is the first profile.
func (c *Config) AddProfile(p Profile) error {
	if _, err := c.FindProfile(p.Name); err == nil {
		return fmt.Errorf("profile already exists: %s", p.Name)
	}
	if err := p.validate(); err != nil {
		return err
	}
	c.Profiles = append(c.Profiles, p)
	if c.CurrentProfile == "" {
		c.CurrentProfile = p.Name
	}
	return nil
}

func (c *Config) DeleteProfile(name string) error {
	for i := range c.Profiles {
		if c.Profiles[i].Name != name {
			continue
		}
		c.Profiles = append(c.Profiles[:i], c.Profiles[i+1:]...)
		if c.CurrentProfile == name {
			c.CurrentProfile = ""
		}
		return nil
	}
	return fmt.Errorf("profile not found: %s", name)
}

// SetSetting updates one settings key from its string form.
func (c *Config) SetSetting(key, value string) error {
	switch key {
	case "output-format":
		switch value {
		case "text", "json", "yaml":
			c.Settings.OutputFormat = value
		default:
			return fmt.Errorf("unsupported output format: %s", value)
		}
	case "device-code-timeout", "interactive-timeout", "provider-cache-ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
		switch key {
		case "device-code-timeout":
			c.Settings.DeviceCodeTimeout = d
		case "interactive-timeout":
			c.Settings.InteractiveTimeout = d
		default:
			c.Settings.ProviderCacheTTL = d
		}
	default:
		return fmt.Errorf("unknown setting: %s", key)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	seen := map[string]struct{}{}
	for _, p := range c.Profiles {
		if err := p.validate(); err != nil {
			return err
		}
		if _, ok := seen[p.Name]; ok {
			return fmt.Errorf("duplicate profile name: %s", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	if c.CurrentProfile != "" {
		if _, ok := seen[c.CurrentProfile]; !ok {
			return fmt.Errorf("current profile %s is not defined", c.CurrentProfile)
		}
	}
	return nil
}

func (p Profile) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name cannot be empty")
	}
	parsed, err := url.Parse(strings.TrimSpace(p.Authority))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return fmt.Errorf("profile %s authority must be an absolute http(s) URL", p.Name)
	}
	if strings.TrimSpace(p.ClientID) == "" {
		return fmt.Errorf("profile %s client-id is required", p.Name)
	}
	if _, err := p.FlowKind(); err != nil {
		return fmt.Errorf("profile %s: %w", p.Name, err)
	}
	return nil
}
