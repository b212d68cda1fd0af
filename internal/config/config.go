package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/docarray/internal/logger"
	"github.com/kailas-cloud/docarray/internal/snapshot"
	"github.com/kailas-cloud/docarray/internal/storage"
)

// Config holds the docarray server configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string            `yaml:"level"` // debug, info, warn, error (default: determined by env)
	File  logger.FileConfig `yaml:"file"`
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// StorageConfig selects the backend the served array lives in.
type StorageConfig struct {
	Backend    string         `yaml:"backend"` // memory (default), sqlite, redis, opensearch, qdrant, postgres
	Options    storage.Config `yaml:"options"`
	EagerFlush bool           `yaml:"eager_flush"`
	// LoadFrom seeds the array from a file written by Save.
	LoadFrom   string `yaml:"load_from"`
	LoadFormat string `yaml:"load_format"` // binary (default) or json
}

// SnapshotConfig selects where pushed snapshots go. An empty driver disables push.
type SnapshotConfig struct {
	Driver string              `yaml:"driver"` // fs, redis, s3
	Dir    string              `yaml:"dir"`
	Redis  SnapshotRedisConfig `yaml:"redis"`
	S3     snapshot.S3Config   `yaml:"s3"`
}

// SnapshotRedisConfig holds the redis snapshot store connection.
type SnapshotRedisConfig struct {
	Addrs     []string `yaml:"addrs"`
	Password  string   `yaml:"password"`
	KeyPrefix string   `yaml:"key_prefix"`
	TTLSec    int      `yaml:"ttl_sec"` // 0 = no expiry
}

var backends = []string{
	storage.KindMemory, storage.KindSQLite, storage.KindRedis,
	storage.KindOpenSearch, storage.KindQdrant, storage.KindPostgres,
}

// Load reads configuration by environment name (local, dev, prod) from
// config/<env>.yaml, .yml or .toml.
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data, filepath.Ext(configPath))
}

// Parse decodes YAML or TOML (by file extension) after expanding ${VAR}
// references, then applies defaults and validates.
func Parse(data []byte, ext string) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	switch strings.ToLower(ext) {
	case ".toml":
		if err := decodeTOML(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format %q", ext)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeTOML maps TOML keys onto the yaml field names so both formats share
// one schema.
func decodeTOML(data []byte, cfg *Config) error {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("toml: %w", err)
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "yaml",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return fmt.Errorf("toml decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("toml: %w", err)
	}
	return nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.Backend == "" {
		c.Storage.Backend = storage.KindMemory
	}
	if c.Storage.LoadFormat == "" {
		c.Storage.LoadFormat = "binary"
	}
	if c.Snapshot.Driver == "redis" && c.Snapshot.Redis.KeyPrefix == "" {
		c.Snapshot.Redis.KeyPrefix = snapshot.DefaultKeyPrefix
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage.backend must be one of %s, got %q", strings.Join(backends, ", "), c.Storage.Backend)
	}
	switch c.Storage.LoadFormat {
	case "binary", "json":
	default:
		return fmt.Errorf("storage.load_format must be \"binary\" or \"json\", got %q", c.Storage.LoadFormat)
	}
	switch c.Snapshot.Driver {
	case "":
	case "fs":
		if c.Snapshot.Dir == "" {
			return fmt.Errorf("snapshot.dir is required for the fs driver")
		}
	case "redis":
		if len(c.Snapshot.Redis.Addrs) == 0 {
			return fmt.Errorf("snapshot.redis.addrs is required for the redis driver")
		}
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			return fmt.Errorf("snapshot.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("snapshot.driver must be fs, redis or s3, got %q", c.Snapshot.Driver)
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	var candidates []string
	for _, ext := range []string{".yaml", ".yml", ".toml"} {
		candidates = append(candidates, env+ext)
	}

	// 1. Check ./config/
	for _, name := range candidates {
		if path := filepath.Join("config", name); fileExists(path) {
			return path
		}
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	for _, name := range candidates {
		if path := filepath.Join(projectRoot, "config", name); fileExists(path) {
			return path
		}
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", candidates[0])
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
