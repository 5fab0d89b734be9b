package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration marks an invalid or incomplete configuration. The
// reporter is disabled rather than run half-configured.
var ErrConfiguration = errors.New("invalid configuration")

// Mode selects the delivery sink used next to the local archive.
type Mode string

const (
	ModeLocal  Mode = "local"  // archive only
	ModeS3     Mode = "s3"     // archive, then upload archives to object storage
	ModeRemote Mode = "remote" // archive, then send to a collector server
)

// S3Config holds object storage settings. Keys are only read from the
// environment.
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    bool   `yaml:"use_ssl"`
	Profile   string `yaml:"profile"`
}

// Config holds application configuration values.
type Config struct {
	Mode       Mode   `yaml:"mode"`
	NoArchive  bool   `yaml:"no_archive"`
	ArchiveDir string `yaml:"archive_dir"`

	ServerURL string `yaml:"server_url"`
	Project   string `yaml:"project"`
	// Token only comes from TA_TOKEN. A token in the YAML file is decoded so
	// Validate can reject it.
	Token string `yaml:"token"`

	S3 S3Config `yaml:"s3"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	LedgerDSN      string        `yaml:"ledger_dsn"`
	NotifyURL      string        `yaml:"notify_url"`

	// Local collector (serve)
	Port        string `yaml:"port"`
	DataDir     string `yaml:"data_dir"`
	FrontendURL string `yaml:"frontend_url"`

	LogLevel string `yaml:"log_level"` // e.g., "debug", "info", "warn", "error"

	tokenInFile bool
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Mode:           ModeLocal,
		ArchiveDir:     ".",
		RequestTimeout: 30 * time.Second,
		Port:           "8080",
		DataDir:        "data",
		LogLevel:       "info",
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (or TA_CONFIG when path is empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path == "" {
		path, _ = lookup("TA_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile merges a YAML file into c.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: failed to parse %s: %v", ErrConfiguration, path, err)
	}
	c.tokenInFile = c.Token != ""
	c.Token = ""
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	// Helper to override a string setting when the variable is set
	getenv := func(key string, dst *string) {
		if value, exists := lookup(key); exists {
			*dst = value
		}
	}

	// Helper to get bool env var
	getenvBool := func(key string, dst *bool) error {
		if valueStr, exists := lookup(key); exists && valueStr != "" {
			value, err := strconv.ParseBool(valueStr)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
			}
			*dst = value
		}
		return nil
	}

	// Helper to get duration env var
	getenvDuration := func(key string, dst *time.Duration) error {
		if valueStr, exists := lookup(key); exists && valueStr != "" {
			value, err := time.ParseDuration(valueStr)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
			}
			*dst = value
		}
		return nil
	}

	var mode string
	getenv("TA_MODE", &mode)
	if mode != "" {
		c.Mode = Mode(mode)
	}
	getenv("TA_ARCHIVE_DIR", &c.ArchiveDir)
	getenv("TA_SERVER_URL", &c.ServerURL)
	getenv("TA_PROJECT", &c.Project)
	getenv("TA_TOKEN", &c.Token)
	getenv("TA_S3_BUCKET", &c.S3.Bucket)
	getenv("TA_S3_ENDPOINT", &c.S3.Endpoint)
	getenv("TA_S3_ACCESS_KEY", &c.S3.AccessKey)
	getenv("TA_S3_SECRET_KEY", &c.S3.SecretKey)
	getenv("TA_S3_PROFILE", &c.S3.Profile)
	getenv("TA_LEDGER_DSN", &c.LedgerDSN)
	getenv("TA_NOTIFY_URL", &c.NotifyURL)
	getenv("TA_DATA_DIR", &c.DataDir)
	getenv("TA_FRONTEND_URL", &c.FrontendURL)
	getenv("PORT", &c.Port)
	getenv("LOG_LEVEL", &c.LogLevel)

	if err := getenvBool("TA_NO_ARCHIVE", &c.NoArchive); err != nil {
		return err
	}
	if err := getenvBool("TA_S3_USE_SSL", &c.S3.UseSSL); err != nil {
		return err
	}
	return getenvDuration("TA_REQUEST_TIMEOUT", &c.RequestTimeout)
}

// Validate checks that the settings required by the selected mode are present.
func (c *Config) Validate() error {
	if c.tokenInFile {
		return fmt.Errorf("%w: the auth token must be supplied through TA_TOKEN, not the config file", ErrConfiguration)
	}
	if !c.NoArchive && c.ArchiveDir == "" {
		return fmt.Errorf("%w: archive directory is empty", ErrConfiguration)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("%w: request timeout must not be negative", ErrConfiguration)
	}

	switch c.Mode {
	case ModeLocal:
	case ModeRemote:
		if c.ServerURL == "" {
			return fmt.Errorf("%w: remote mode requires TA_SERVER_URL", ErrConfiguration)
		}
		if u, err := url.Parse(c.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: server URL %q must be an absolute http(s) URL", ErrConfiguration, c.ServerURL)
		}
		if c.Token == "" {
			return fmt.Errorf("%w: remote mode requires TA_TOKEN", ErrConfiguration)
		}
		if c.Project == "" {
			return fmt.Errorf("%w: remote mode requires TA_PROJECT", ErrConfiguration)
		}
	case ModeS3:
		if c.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 mode requires TA_S3_BUCKET", ErrConfiguration)
		}
		if c.S3.Endpoint == "" {
			return fmt.Errorf("%w: s3 mode requires TA_S3_ENDPOINT", ErrConfiguration)
		}
		if c.ArchiveDir == "" {
			return fmt.Errorf("%w: s3 mode uploads from the archive directory, which is empty", ErrConfiguration)
		}
		hasKeys := c.S3.AccessKey != "" && c.S3.SecretKey != ""
		if !hasKeys && c.S3.Profile == "" {
			return fmt.Errorf("%w: s3 mode requires TA_S3_ACCESS_KEY and TA_S3_SECRET_KEY, or TA_S3_PROFILE", ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q (want local, s3 or remote)", ErrConfiguration, c.Mode)
	}
	return nil
}
