// Package config loads, validates, and watches the chatscrub service
// configuration. Secrets can be supplied through the environment so config
// files stay safe to commit.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/router-for-me/chatscrub/internal/analysis"
	"github.com/router-for-me/chatscrub/internal/rules"
)

const (
	// DefaultPort is the service listen port when none is configured.
	DefaultPort = 8318

	defaultSelectorRole   = "tool"
	defaultTokenizerModel = "gpt-4o"
	defaultReplayTimeout  = 60
	minContentLength      = 50
)

// Config is the root configuration document.
type Config struct {
	Host             string        `yaml:"host,omitempty" json:"host,omitempty"`
	Port             int           `yaml:"port,omitempty" json:"port,omitempty"`
	Debug            bool          `yaml:"debug,omitempty" json:"debug,omitempty"`
	ManagementKey    string        `yaml:"management-key,omitempty" json:"-"`
	MessagesKey      string        `yaml:"messages-key,omitempty" json:"messages-key,omitempty"`
	SelectorRole     string        `yaml:"selector-role,omitempty" json:"selector-role,omitempty"`
	MaxContentLength int           `yaml:"max-content-length,omitempty" json:"max-content-length,omitempty"`
	LineCeiling      int           `yaml:"line-ceiling,omitempty" json:"line-ceiling,omitempty"`
	TokenizerModel   string        `yaml:"tokenizer-model,omitempty" json:"tokenizer-model,omitempty"`
	CaptureDir       string        `yaml:"capture-dir,omitempty" json:"capture-dir,omitempty"`
	Logging          LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty"`
	Replay           ReplayConfig  `yaml:"replay,omitempty" json:"replay,omitempty"`
	Audit            AuditConfig   `yaml:"audit,omitempty" json:"audit,omitempty"`
	Archive          ArchiveConfig `yaml:"archive,omitempty" json:"archive,omitempty"`
}

// LoggingConfig controls log level and optional file rotation.
type LoggingConfig struct {
	Level      string `yaml:"level,omitempty" json:"level,omitempty"`
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max-size-mb,omitempty" json:"max-size-mb,omitempty"`
	MaxBackups int    `yaml:"max-backups,omitempty" json:"max-backups,omitempty"`
	MaxAgeDays int    `yaml:"max-age-days,omitempty" json:"max-age-days,omitempty"`
	Compress   bool   `yaml:"compress,omitempty" json:"compress,omitempty"`
}

// ReplayConfig points the replay harness at a chat-completion backend.
type ReplayConfig struct {
	Endpoint        string      `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKey          string      `yaml:"api-key,omitempty" json:"-"`
	ProxyURL        string      `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`
	TimeoutSeconds  int         `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
	MaxPreviewBytes int         `yaml:"max-preview-bytes,omitempty" json:"max-preview-bytes,omitempty"`
	OAuth           OAuthConfig `yaml:"oauth,omitempty" json:"oauth,omitempty"`
}

// Enabled reports whether a replay backend is configured.
func (c ReplayConfig) Enabled() bool { return strings.TrimSpace(c.Endpoint) != "" }

// Timeout returns the request timeout as a duration.
func (c ReplayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// OAuthConfig configures client-credentials token acquisition for replay.
type OAuthConfig struct {
	TokenURL     string   `yaml:"token-url,omitempty" json:"token-url,omitempty"`
	ClientID     string   `yaml:"client-id,omitempty" json:"client-id,omitempty"`
	ClientSecret string   `yaml:"client-secret,omitempty" json:"-"`
	Scopes       []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
}

// Enabled reports whether token acquisition is configured.
func (c OAuthConfig) Enabled() bool {
	return strings.TrimSpace(c.TokenURL) != "" && strings.TrimSpace(c.ClientID) != ""
}

// AuditConfig points the audit trail at a Postgres database.
type AuditConfig struct {
	DSN string `yaml:"dsn,omitempty" json:"-"`
}

// Enabled reports whether an audit database is configured.
func (c AuditConfig) Enabled() bool { return strings.TrimSpace(c.DSN) != "" }

// ArchiveConfig points the original-body archive at an S3-compatible store.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"-"`
	SecretKey string `yaml:"secret-key,omitempty" json:"-"`
	UseSSL    bool   `yaml:"use-ssl,omitempty" json:"use-ssl,omitempty"`
	Prefix    string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// Enabled reports whether an archive store is configured.
func (c ArchiveConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

// Load reads, normalizes, and validates the configuration at path.
func Load(path string) (*Config, error) {
	expanded, err := expandUserPath(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.Host = strings.TrimSpace(cfg.Host)
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	cfg.MessagesKey = strings.TrimSpace(cfg.MessagesKey)
	cfg.SelectorRole = strings.ToLower(strings.TrimSpace(cfg.SelectorRole))
	if cfg.SelectorRole == "" {
		cfg.SelectorRole = defaultSelectorRole
	}
	if cfg.MaxContentLength == 0 {
		cfg.MaxContentLength = rules.DefaultMaxContentLength
	}
	if cfg.LineCeiling == 0 {
		cfg.LineCeiling = analysis.DefaultLineCeiling
	}
	cfg.TokenizerModel = strings.TrimSpace(cfg.TokenizerModel)
	if cfg.TokenizerModel == "" {
		cfg.TokenizerModel = defaultTokenizerModel
	}
	cfg.CaptureDir = strings.TrimSpace(cfg.CaptureDir)
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))

	cfg.Replay.Endpoint = strings.TrimSpace(cfg.Replay.Endpoint)
	cfg.Replay.ProxyURL = strings.TrimSpace(cfg.Replay.ProxyURL)
	if cfg.Replay.TimeoutSeconds == 0 {
		cfg.Replay.TimeoutSeconds = defaultReplayTimeout
	}
	cfg.Replay.OAuth.TokenURL = strings.TrimSpace(cfg.Replay.OAuth.TokenURL)
	cfg.Replay.OAuth.ClientID = strings.TrimSpace(cfg.Replay.OAuth.ClientID)

	cfg.Archive.Endpoint = strings.TrimSpace(cfg.Archive.Endpoint)
	cfg.Archive.Bucket = strings.TrimSpace(cfg.Archive.Bucket)
	cfg.Archive.Region = strings.TrimSpace(cfg.Archive.Region)
	cfg.Archive.Prefix = strings.Trim(strings.TrimSpace(cfg.Archive.Prefix), "/")

	applyEnvOverrides(cfg)
}

// applyEnvOverrides lets secrets come from the environment so config files
// hold no credentials. Environment values win over file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHATSCRUB_MANAGEMENT_KEY"); v != "" {
		cfg.ManagementKey = v
	}
	if v := os.Getenv("CHATSCRUB_AUDIT_DSN"); v != "" {
		cfg.Audit.DSN = v
	}
	if v := os.Getenv("CHATSCRUB_REPLAY_API_KEY"); v != "" {
		cfg.Replay.APIKey = v
	}
	if v := os.Getenv("CHATSCRUB_REPLAY_CLIENT_SECRET"); v != "" {
		cfg.Replay.OAuth.ClientSecret = v
	}
	if v := os.Getenv("CHATSCRUB_ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("CHATSCRUB_ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
}

// Validate rejects configurations the service cannot run with.
func (cfg *Config) Validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range", cfg.Port)
	}
	if cfg.MaxContentLength < minContentLength {
		return fmt.Errorf("max-content-length must be at least %d", minContentLength)
	}
	if cfg.LineCeiling < 1 {
		return fmt.Errorf("line-ceiling must be positive")
	}
	switch cfg.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging: unknown level %q", cfg.Logging.Level)
	}

	if cfg.Replay.Enabled() {
		endpoint, err := url.Parse(cfg.Replay.Endpoint)
		if err != nil || endpoint.Host == "" || (endpoint.Scheme != "http" && endpoint.Scheme != "https") {
			return fmt.Errorf("replay: endpoint %q is not an http(s) URL", cfg.Replay.Endpoint)
		}
		if cfg.Replay.TimeoutSeconds < 1 {
			return fmt.Errorf("replay: timeout-seconds must be positive")
		}
		if cfg.Replay.ProxyURL != "" {
			proxy, err := url.Parse(cfg.Replay.ProxyURL)
			if err != nil {
				return fmt.Errorf("replay: proxy-url: %w", err)
			}
			switch proxy.Scheme {
			case "http", "https", "socks5", "socks5h":
			default:
				return fmt.Errorf("replay: proxy-url scheme %q is not supported", proxy.Scheme)
			}
		}
		oauth := cfg.Replay.OAuth
		if (oauth.TokenURL == "") != (oauth.ClientID == "") {
			return fmt.Errorf("replay: oauth needs both token-url and client-id")
		}
	}

	archive := cfg.Archive
	if archive.Endpoint != "" || archive.Bucket != "" {
		if !archive.Enabled() {
			return fmt.Errorf("archive: endpoint and bucket are both required")
		}
		if strings.TrimSpace(archive.AccessKey) == "" || strings.TrimSpace(archive.SecretKey) == "" {
			return fmt.Errorf("archive: access-key and secret-key are required")
		}
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (cfg *Config) Addr() string {
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
}

// RuleOptions maps the configuration onto the sanitizer rule set.
func (cfg *Config) RuleOptions() rules.Options {
	return rules.Options{MaxContentLength: cfg.MaxContentLength}
}

// AnalyzerOptions maps the configuration onto the analyzer.
func (cfg *Config) AnalyzerOptions() analysis.Options {
	return analysis.Options{LineCeiling: cfg.LineCeiling, Model: cfg.TokenizerModel}
}

// ResolveCaptureDir returns the capture directory with ~ expanded.
func (cfg *Config) ResolveCaptureDir() (string, error) {
	if cfg.CaptureDir == "" {
		return "", nil
	}
	return expandUserPath(cfg.CaptureDir)
}

func expandUserPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] != '~' {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	if path == "~" {
		return filepath.Clean(home), nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Clean(filepath.Join(home, path[2:])), nil
	}
	return "", fmt.Errorf("unsupported home-relative path %q", path)
}
