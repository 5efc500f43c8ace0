package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath names the env var consulted when no config path is given.
	EnvConfigPath = "INSTAAUTO_CONFIG"
	// EnvWebhookURL is the fallback for dispatch.webhookUrl.
	EnvWebhookURL = "N8N_WEBHOOK_URL"

	defaultConfigFile = "config.yaml"
	defaultDBFile     = "instaauto.db"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Caption providers.
const (
	ProviderMock    = "mock"
	ProviderAIProxy = "aiproxy"
)

// Platform poster types.
const (
	PlatformWebhook = "webhook"
	PlatformMock    = "mock"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Watcher  WatcherConfig  `yaml:"watcher"`
	Caption  CaptionConfig  `yaml:"caption"`
	Platform PlatformConfig `yaml:"platform"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	MaxUploadSize ByteSize      `yaml:"maxUploadSize"`
	WorkerCount   int           `yaml:"workerCount"`
	QueueCapacity int           `yaml:"queueCapacity"`
	StorageDir    string        `yaml:"storageDir"`
	APIKey        string        `yaml:"apiKey"`        // optional static API key header (X-API-Key)
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for workers before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// DatabaseConfig selects the job store backend.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite|postgres
	Path   string `yaml:"path"`   // sqlite file, default storageDir/instaauto.db
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// DispatchConfig configures outbound calls to the automation webhook.
type DispatchConfig struct {
	WebhookURL    string        `yaml:"webhookUrl"`
	Token         string        `yaml:"token"`
	NotifyTimeout time.Duration `yaml:"notifyTimeout"`
	UploadTimeout time.Duration `yaml:"uploadTimeout"`
	MaxRetries    *int          `yaml:"maxRetries"` // retries after the first attempt, 0 disables them; unset means 3
	Backoff       time.Duration `yaml:"backoff"`
}

// WatcherConfig configures the monitored directory.
type WatcherConfig struct {
	Directory   string        `yaml:"directory"`
	SettleDelay time.Duration `yaml:"settleDelay"`
}

// CaptionConfig selects provider and provider-specific options.
type CaptionConfig struct {
	Provider string          `yaml:"provider"` // mock|aiproxy
	Mock     MockSettings    `yaml:"mock"`
	AIProxy  AIProxySettings `yaml:"aiproxy"`
}

// MockSettings config for the mock caption generator.
type MockSettings struct {
	Delay  time.Duration `yaml:"delay"`
	Prefix string        `yaml:"prefix"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) caption generator.
type AIProxySettings struct {
	BaseURL      string  `yaml:"baseUrl"`      // e.g. http://localhost:8900
	APIKey       string  `yaml:"apiKey"`       // optional
	Model        string  `yaml:"model"`        // e.g. gpt-5
	SystemPrompt string  `yaml:"systemPrompt"` // optional system message override
	Instructions string  `yaml:"instructions"` // optional user instruction override
	Temperature  float32 `yaml:"temperature"`  // optional
	MaxTokens    int     `yaml:"maxTokens"`    // optional
}

// PlatformConfig selects how finished posts are published.
type PlatformConfig struct {
	Type string `yaml:"type"` // webhook|mock
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		parsed, err := ParseByteSize(strings.TrimSpace(value.Value))
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

type sizeUnit struct {
	suffix string
	value  uint64
}

// Longer suffixes first so "MIB" is not read as "B".
var sizeUnits = []sizeUnit{
	{"KIB", 1024},
	{"MIB", 1024 * 1024},
	{"GIB", 1024 * 1024 * 1024},
	{"KI", 1024},
	{"MI", 1024 * 1024},
	{"GI", 1024 * 1024 * 1024},
	{"KB", 1000},
	{"MB", 1000 * 1000},
	{"GB", 1000 * 1000 * 1000},
	{"B", 1},
}

// ParseByteSize parses "10Mi", "20MB", "512KiB" or a bare byte count.
// Binary units (Ki, Mi, Gi, optionally with B) and decimal KB/MB/GB are accepted, case-insensitive.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)
	for _, u := range sizeUnits {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			if val < 0 {
				return 0, fmt.Errorf("negative size %q", orig)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// ParseLogLevel maps debug|info|warn|error to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// Load reads YAML config from path, expands environment variables, applies
// defaults and validates it. An empty path falls back to INSTAAUTO_CONFIG and
// then to "config.yaml"; only that last fallback may be absent, in which case
// defaults alone are used.
func Load(path string) (*Config, error) {
	optional := false
	if path == "" {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path = env
		} else {
			path = defaultConfigFile
			optional = true
		}
	}

	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - reading operator supplied config path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case optional && errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
		return nil, fmt.Errorf("ensure storage_dir: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(100 * 1024 * 1024)
	}
	if cfg.Server.WorkerCount <= 0 {
		cfg.Server.WorkerCount = 4
	}
	if cfg.Server.QueueCapacity <= 0 {
		cfg.Server.QueueCapacity = 128
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Database defaults
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.Driver == DriverSQLite && cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.Server.StorageDir, defaultDBFile)
	}

	// Dispatch defaults
	if strings.TrimSpace(cfg.Dispatch.WebhookURL) == "" {
		cfg.Dispatch.WebhookURL = strings.TrimSpace(os.Getenv(EnvWebhookURL))
	}
	if cfg.Dispatch.NotifyTimeout == 0 {
		cfg.Dispatch.NotifyTimeout = 10 * time.Second
	}
	if cfg.Dispatch.UploadTimeout == 0 {
		cfg.Dispatch.UploadTimeout = 30 * time.Second
	}
	if cfg.Dispatch.MaxRetries == nil {
		n := 3
		cfg.Dispatch.MaxRetries = &n
	}
	if cfg.Dispatch.Backoff == 0 {
		cfg.Dispatch.Backoff = time.Second
	}

	// Watcher defaults
	if cfg.Watcher.Directory == "" {
		cfg.Watcher.Directory = "pasta_monitorada"
	}
	if cfg.Watcher.SettleDelay == 0 {
		cfg.Watcher.SettleDelay = 2 * time.Second
	}

	// Caption defaults
	cfg.Caption.Provider = strings.ToLower(strings.TrimSpace(cfg.Caption.Provider))
	if cfg.Caption.Provider == "" {
		cfg.Caption.Provider = ProviderMock
	}
	if cfg.Caption.Mock.Prefix == "" {
		cfg.Caption.Mock.Prefix = "Caption by Mock"
	}
	if cfg.Caption.Provider == ProviderAIProxy {
		if strings.TrimSpace(cfg.Caption.AIProxy.BaseURL) == "" {
			cfg.Caption.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.Caption.AIProxy.Model) == "" {
			cfg.Caption.AIProxy.Model = "gpt-5"
		}
	}

	// Platform defaults
	cfg.Platform.Type = strings.ToLower(strings.TrimSpace(cfg.Platform.Type))
	if cfg.Platform.Type == "" {
		cfg.Platform.Type = PlatformWebhook
	}
}

func validate(cfg *Config) error {
	if _, err := ParseLogLevel(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("server.logLevel: %w", err)
	}
	switch cfg.Database.Driver {
	case DriverSQLite:
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.DSN) == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", cfg.Database.Driver)
	}
	if *cfg.Dispatch.MaxRetries < 0 {
		return errors.New("dispatch.maxRetries must not be negative")
	}
	switch cfg.Caption.Provider {
	case ProviderMock, ProviderAIProxy:
	default:
		return fmt.Errorf("unsupported caption.provider %q", cfg.Caption.Provider)
	}
	switch cfg.Platform.Type {
	case PlatformWebhook, PlatformMock:
	default:
		return fmt.Errorf("unsupported platform.type %q", cfg.Platform.Type)
	}
	return nil
}
