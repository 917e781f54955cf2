package internal

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Output formats understood by the exporters
var OutputFormats = []string{"jsonl", "json", "yaml", "md", "markdown"}

// Config is the review-sweep configuration file
type Config struct {
	LogLevel     string             `yaml:"log_level"`
	StorePath    string             `yaml:"store_path"`
	EnvFile      string             `yaml:"env_file"`
	Concurrency  int                `yaml:"concurrency"`
	Output       OutputConfig       `yaml:"output"`
	Retry        RetryPolicy        `yaml:"retry"`
	Cache        CacheConfig        `yaml:"cache"`
	Auth         AuthConfig         `yaml:"auth"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Timeline     TimelineConfig     `yaml:"timeline"`
	Mailbox      MailboxConfig      `yaml:"mailbox"`
	Platforms    []PlatformConfig   `yaml:"platforms"`
}

// OutputConfig selects where and how records are written
type OutputConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
}

// CacheConfig configures the result cache
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// OrchestratorConfig bounds the work done per pass and per handle
type OrchestratorConfig struct {
	PassTimeout    time.Duration `yaml:"pass_timeout"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
}

// TimelineConfig configures correlation and reconciliation
type TimelineConfig struct {
	Window          time.Duration       `yaml:"window"`
	Lookback        time.Duration       `yaml:"lookback"`
	Margin          time.Duration       `yaml:"margin"`
	TypeEquivalence map[string][]string `yaml:"type_equivalence"`
	SubjectRules    []SubjectRule       `yaml:"subject_rules"`
}

// MailboxConfig points at the JSONL mailbox used as external feed and,
// for otp platforms, as second-factor code source
type MailboxConfig struct {
	Path        string `yaml:"path"`
	CodeSender  string `yaml:"code_sender"`
	CodePattern string `yaml:"code_pattern"`
}

// PlatformConfig describes one platform to sweep
type PlatformConfig struct {
	ID                string           `yaml:"id"`
	Adapter           string           `yaml:"adapter"`
	Fixture           string           `yaml:"fixture,omitempty"`
	CredentialRef     string           `yaml:"credential_ref,omitempty"`
	Auth              AuthVariant      `yaml:"auth,omitempty"`
	Categories        []string         `yaml:"categories"`
	Passes            []PassDescriptor `yaml:"passes"`
	ParticipantFields []string         `yaml:"participant_fields,omitempty"`
}

// DefaultCodePattern extracts a 6 to 8 digit one-time code.
const DefaultCodePattern = `\b(\d{6,8})\b`

// DefaultConfig returns a Config with every default applied and no
// platforms.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Output.Format == "" {
		c.Output.Format = "jsonl"
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if c.Retry.BaseDelay <= 0 {
		c.Retry.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 24 * time.Hour
	}
	if c.Auth.SecondFactorDeadline <= 0 {
		c.Auth.SecondFactorDeadline = DefaultAuthConfig.SecondFactorDeadline
	}
	if c.Auth.PollInterval <= 0 {
		c.Auth.PollInterval = DefaultAuthConfig.PollInterval
	}
	if c.Auth.IdleTimeout <= 0 {
		c.Auth.IdleTimeout = DefaultAuthConfig.IdleTimeout
	}
	if c.Orchestrator.PassTimeout <= 0 {
		c.Orchestrator.PassTimeout = 2 * time.Minute
	}
	if c.Orchestrator.ResolveTimeout <= 0 {
		c.Orchestrator.ResolveTimeout = 15 * time.Second
	}
	if c.Timeline.Window <= 0 {
		c.Timeline.Window = DefaultDedupWindow
	}
	if c.Timeline.Lookback <= 0 {
		c.Timeline.Lookback = 365 * 24 * time.Hour
	}
	if c.Timeline.Margin <= 0 {
		c.Timeline.Margin = 7 * 24 * time.Hour
	}
	if c.Mailbox.CodePattern == "" {
		c.Mailbox.CodePattern = DefaultCodePattern
	}
	for i := range c.Platforms {
		p := &c.Platforms[i]
		if p.Auth == "" {
			p.Auth = AuthPassword
		}
		if p.CredentialRef == "" {
			p.CredentialRef = p.ID
		}
	}
}

// LoadConfig reads and validates a YAML config file. Unknown keys are
// rejected. Relative paths in the file are resolved against the file's
// directory.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// ParseConfig decodes, defaults and validates a YAML config document.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.StorePath = abs(c.StorePath)
	c.EnvFile = abs(c.EnvFile)
	c.Output.Dir = abs(c.Output.Dir)
	c.Mailbox.Path = abs(c.Mailbox.Path)
	for i := range c.Platforms {
		c.Platforms[i].Fixture = abs(c.Platforms[i].Fixture)
	}
}

// Validate checks the config for values the sweep cannot run with.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return &ConfigError{Field: "log_level", Err: err}
	}
	if !validFormat(c.Output.Format) {
		return &ConfigError{Field: "output.format", Err: fmt.Errorf("unsupported format %q (supported: %v)", c.Output.Format, OutputFormats)}
	}
	if _, err := regexp.Compile(c.Mailbox.CodePattern); err != nil {
		return &ConfigError{Field: "mailbox.code_pattern", Err: err}
	}

	seen := make(map[string]bool)
	for i, p := range c.Platforms {
		field := fmt.Sprintf("platforms[%d]", i)
		if p.ID == "" {
			return &ConfigError{Field: field + ".id", Err: errors.New("must not be empty")}
		}
		if seen[p.ID] {
			return &ConfigError{Field: field + ".id", Err: fmt.Errorf("duplicate platform %q", p.ID)}
		}
		seen[p.ID] = true
		if p.Adapter == "" {
			return &ConfigError{Field: field + ".adapter", Err: errors.New("must not be empty")}
		}
		switch p.Auth {
		case AuthPassword, AuthOTP, AuthSSO:
		default:
			return &ConfigError{Field: field + ".auth", Err: fmt.Errorf("unknown variant %q (supported: password, otp, sso)", p.Auth)}
		}
		if p.Auth == AuthOTP && c.Mailbox.Path == "" {
			return &ConfigError{Field: field + ".auth", Err: errors.New("otp requires mailbox.path as code source")}
		}
		if len(p.Categories) == 0 {
			return &ConfigError{Field: field + ".categories", Err: errors.New("at least one category is required")}
		}
		if len(p.Passes) == 0 || len(p.Passes) > MaxPasses {
			return &ConfigError{Field: field + ".passes", Err: fmt.Errorf("need between 1 and %d passes, got %d", MaxPasses, len(p.Passes))}
		}
		for j, pass := range p.Passes {
			if pass.Name == "" {
				return &ConfigError{Field: fmt.Sprintf("%s.passes[%d].name", field, j), Err: errors.New("must not be empty")}
			}
		}
	}
	return nil
}

// Platform returns the platform with the given id.
func (c *Config) Platform(id string) (PlatformConfig, bool) {
	for _, p := range c.Platforms {
		if p.ID == id {
			return p, true
		}
	}
	return PlatformConfig{}, false
}

func validFormat(format string) bool {
	for _, f := range OutputFormats {
		if f == format {
			return true
		}
	}
	return false
}
