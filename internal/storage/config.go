package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kailas-cloud/docarray/internal/codec"
	"github.com/kailas-cloud/docarray/internal/domain"
)

// Default connection values.
const (
	DefaultHost     = "localhost"
	DefaultDistance = "cosine"
	DefaultName     = "docarray"
)

// Backend kinds.
const (
	KindMemory     = "memory"
	KindSQLite     = "sqlite"
	KindRedis      = "redis"
	KindOpenSearch = "opensearch"
	KindQdrant     = "qdrant"
	KindPostgres   = "postgres"
)

// Redis vector index algorithms.
const (
	IndexAlgoHNSW = "hnsw"
	IndexAlgoFlat = "flat"
)

var defaultPorts = map[string]int{
	KindRedis:      6379,
	KindOpenSearch: 9200,
	KindQdrant:     6333,
	KindPostgres:   5432,
}

// Credentials is a username/password pair for engines that require auth.
type Credentials struct {
	Username string `yaml:"username" json:"username" mapstructure:"username"`
	Password string `yaml:"password" json:"password" mapstructure:"password"`
}

// Serialize selects how document bodies are encoded at rest.
type Serialize struct {
	Protocol string `yaml:"protocol" json:"protocol,omitempty" mapstructure:"protocol"`
	Compress string `yaml:"compress" json:"compress,omitempty" mapstructure:"compress"`
}

// Config configures a backend. Fields that do not apply to a backend are ignored.
type Config struct {
	NDim        int          `yaml:"n_dim" json:"n_dim,omitempty" mapstructure:"n_dim"`
	Host        string       `yaml:"host" json:"host,omitempty" mapstructure:"host"`
	Port        int          `yaml:"port" json:"port,omitempty" mapstructure:"port"`
	Scheme      string       `yaml:"scheme" json:"scheme,omitempty" mapstructure:"scheme"`
	Distance    string       `yaml:"distance" json:"distance,omitempty" mapstructure:"distance"`
	Name        string       `yaml:"name" json:"name,omitempty" mapstructure:"name"`
	Credentials *Credentials `yaml:"credentials" json:"credentials,omitempty" mapstructure:"credentials"`
	Serialize   Serialize    `yaml:"serialize" json:"serialize" mapstructure:"serialize"`

	// Path is the sqlite database file; empty selects an in-memory database.
	Path string `yaml:"path" json:"path,omitempty" mapstructure:"path"`
	// DSN overrides host/port/credentials for postgres.
	DSN string `yaml:"dsn" json:"dsn,omitempty" mapstructure:"dsn"`
	// InsecureTLS skips certificate verification for opensearch.
	InsecureTLS bool `yaml:"insecure_tls" json:"insecure_tls,omitempty" mapstructure:"insecure_tls"`
	// CACerts is a PEM bundle path for opensearch.
	CACerts string `yaml:"ca_certs" json:"ca_certs,omitempty" mapstructure:"ca_certs"`
	// KeyPrefix namespaces redis keys.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix,omitempty" mapstructure:"key_prefix"`
	// IndexAlgo is the redis vector index algorithm: hnsw (default) or flat.
	IndexAlgo string `yaml:"index_algo" json:"index_algo,omitempty" mapstructure:"index_algo"`
}

// WithDefaults returns a copy with empty fields filled for kind.
func (c Config) WithDefaults(kind string) Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPorts[kind]
	}
	if c.Scheme == "" && (kind == KindOpenSearch || kind == KindQdrant) {
		c.Scheme = "http"
	}
	if c.Distance == "" {
		c.Distance = DefaultDistance
	}
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Serialize.Protocol == "" {
		c.Serialize.Protocol = string(codec.DefaultProtocol)
	}
	if c.Credentials != nil {
		creds := *c.Credentials
		c.Credentials = &creds
	}
	return c
}

// Validate checks the fields every vector engine needs.
func (c *Config) Validate() error {
	if c.NDim <= 0 {
		return fmt.Errorf("n_dim must be positive, got %d: %w", c.NDim, domain.ErrConfiguration)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range: %w", c.Port, domain.ErrConfiguration)
	}
	if _, _, err := c.Codec(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	switch strings.ToLower(c.IndexAlgo) {
	case "", IndexAlgoHNSW, IndexAlgoFlat:
	default:
		return fmt.Errorf("unknown index_algo %q: %w", c.IndexAlgo, domain.ErrConfiguration)
	}
	return nil
}

// Codec parses the body serialization settings.
func (c *Config) Codec() (codec.Protocol, codec.Compression, error) {
	p, err := codec.ParseProtocol(c.Serialize.Protocol)
	if err != nil {
		return "", "", err
	}
	comp, err := codec.ParseCompression(c.Serialize.Compress)
	if err != nil {
		return "", "", err
	}
	return p, comp, nil
}

// Address returns host:port.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// URL returns scheme://host:port.
func (c *Config) URL() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// ConfigFromMap decodes a loosely typed mapping, e.g. parsed from a request
// or a file, into a Config. Unknown keys fail.
func ConfigFromMap(m map[string]any) (Config, error) {
	var cfg Config
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return Config{}, fmt.Errorf("config decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Config{}, fmt.Errorf("decode config: %w: %w", domain.ErrConfiguration, err)
	}
	return cfg, nil
}

// Redacted returns a copy without credentials or a postgres DSN, for
// payloads that leave the process.
func (c Config) Redacted() Config {
	c.Credentials = nil
	c.DSN = ""
	return c
}

// WithSecretsFrom fills the fields Redacted drops from src when c has none.
func (c Config) WithSecretsFrom(src *Config) Config {
	if src == nil {
		return c
	}
	if c.Credentials == nil && src.Credentials != nil {
		creds := *src.Credentials
		c.Credentials = &creds
	}
	if c.DSN == "" {
		c.DSN = src.DSN
	}
	return c
}

// MarshalConfig encodes cfg for embedding in a payload.
func MarshalConfig(cfg *Config) ([]byte, error) {
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return b, nil
}

// UnmarshalConfig reverses MarshalConfig.
func UnmarshalConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w: %w", domain.ErrSerialization, err)
	}
	return cfg, nil
}
