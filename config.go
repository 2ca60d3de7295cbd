package keyrotor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds.
const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
)

// Fallback ordering policies.
const (
	PolicyStatic       = "static"
	PolicyHealthyFirst = "healthy_first"
)

// Snapshot backends.
const (
	SnapshotNone     = "none"
	SnapshotMemory   = "memory"
	SnapshotRedis    = "redis"
	SnapshotPostgres = "postgres"
)

// Config is the top-level configuration. DailyLimit is the only place the
// per-key limit is set; everything that needs it reads it from here.
type Config struct {
	DailyLimit    int              `yaml:"daily_limit"`
	KeyFile       string           `yaml:"key_file"`
	KeyEnv        string           `yaml:"key_env"`
	ResetTimezone string           `yaml:"reset_timezone"`
	DefaultModel  string           `yaml:"default_model"`
	Policy        string           `yaml:"policy"`
	Providers     []ProviderConfig `yaml:"providers"`
	Snapshot      SnapshotConfig   `yaml:"snapshot"`
	Server        ServerConfig     `yaml:"server"`
}

// ProviderConfig configures one link of the fallback chain. Providers are
// tried in the order they are listed.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	// Rotated providers draw keys from the key pool instead of APIKey.
	Rotated bool `yaml:"rotated"`
}

// SnapshotConfig configures usage snapshot persistence.
type SnapshotConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	Prefix        string        `yaml:"prefix"`
	Interval      time.Duration `yaml:"interval"`
}

// ServerConfig configures the status server.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
// A relative key_file is resolved against the config file's directory.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("keyrotor: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("keyrotor: parse config: %w", err)
	}
	if cfg.KeyFile != "" && !filepath.IsAbs(cfg.KeyFile) {
		cfg.KeyFile = filepath.Join(filepath.Dir(path), cfg.KeyFile)
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// WithDefaults returns a copy of c with unset optional fields filled in.
func (c Config) WithDefaults() Config {
	if c.ResetTimezone == "" {
		c.ResetTimezone = "UTC"
	}
	if c.Policy == "" {
		c.Policy = PolicyHealthyFirst
	}
	if len(c.Providers) == 0 {
		c.Providers = []ProviderConfig{{Name: KindGemini, Kind: KindGemini, Rotated: true}}
	}
	providers := make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.Kind == "" {
			p.Kind = p.Name
		}
		providers[i] = p
	}
	c.Providers = providers

	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = SnapshotNone
	}
	if c.Snapshot.Prefix == "" {
		c.Snapshot.Prefix = "keyrotor"
	}
	if c.Snapshot.Interval <= 0 {
		c.Snapshot.Interval = time.Minute
	}
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	return c
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.DailyLimit <= 0 {
		return fmt.Errorf("keyrotor: config: daily_limit must be positive, got %d", c.DailyLimit)
	}

	if _, err := time.LoadLocation(c.ResetTimezone); err != nil {
		return fmt.Errorf("keyrotor: config: reset_timezone %q: %w", c.ResetTimezone, err)
	}

	switch c.Policy {
	case PolicyStatic, PolicyHealthyFirst:
	default:
		return fmt.Errorf("keyrotor: config: invalid policy %q", c.Policy)
	}

	names := make(map[string]bool, len(c.Providers))
	rotated := 0
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("keyrotor: config: providers[%d]: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("keyrotor: config: duplicate provider name %q", p.Name)
		}
		names[p.Name] = true

		switch p.Kind {
		case KindGemini, KindOpenAI:
		default:
			return fmt.Errorf("keyrotor: config: providers[%d] (%s): invalid kind %q", i, p.Name, p.Kind)
		}

		if p.Rotated {
			if p.Kind != KindGemini {
				return fmt.Errorf("keyrotor: config: providers[%d] (%s): only gemini providers can be rotated", i, p.Name)
			}
			rotated++
		}
	}
	if rotated > 1 {
		return fmt.Errorf("keyrotor: config: at most one rotated provider is supported, got %d", rotated)
	}
	if rotated == 1 && c.KeyFile == "" && c.KeyEnv == "" {
		return fmt.Errorf("keyrotor: config: a rotated provider needs key_file or key_env")
	}

	switch c.Snapshot.Backend {
	case SnapshotNone, SnapshotMemory:
	case SnapshotRedis:
		if c.Snapshot.RedisAddr == "" {
			return fmt.Errorf("keyrotor: config: snapshot: redis_addr is required for the redis backend")
		}
	case SnapshotPostgres:
		if c.Snapshot.PostgresDSN == "" {
			return fmt.Errorf("keyrotor: config: snapshot: postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("keyrotor: config: snapshot: invalid backend %q", c.Snapshot.Backend)
	}

	return nil
}

// Location returns the time zone whose midnight resets the counters.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.ResetTimezone)
}

// LoadKeys collects pool keys from the key file and the key_env variable,
// in that order. Both sources degrade to empty on error.
func (c Config) LoadKeys(logger *slog.Logger) []string {
	var keys []string
	if c.KeyFile != "" {
		keys = append(keys, LoadKeys(c.KeyFile, logger)...)
	}
	if c.KeyEnv != "" {
		f := DefaultKeyFilter()
		for _, k := range ParseKeyList(os.Getenv(c.KeyEnv)) {
			if f.Format.MatchString(k) {
				keys = append(keys, k)
			}
		}
	}
	return dedupeKeys(keys)
}

// NewPool builds the key pool described by c.
func (c Config) NewPool(logger *slog.Logger, opts ...PoolOption) (*Pool, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, fmt.Errorf("keyrotor: reset timezone: %w", err)
	}
	opts = append([]PoolOption{WithLocation(loc)}, opts...)
	return NewPool(c.LoadKeys(logger), c.DailyLimit, opts...)
}
