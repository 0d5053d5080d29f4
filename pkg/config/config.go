package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ekaya-inc/querysight/pkg/models"
)

// DefaultPath is the config file read when neither --config nor QUERYSIGHT_CONFIG is set.
const DefaultPath = "config.yaml"

// Config holds all configuration for querysight.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	Env      string `yaml:"env" env:"QUERYSIGHT_ENV" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"QUERYSIGHT_LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	Source   SourceConfig   `yaml:"source"`
	Project  ProjectConfig  `yaml:"project"`
	Cache    CacheConfig    `yaml:"cache"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	LLM      LLMConfig      `yaml:"llm"`
	Server   ServerConfig   `yaml:"server"`
}

// SourceConfig selects and configures the query-log source.
type SourceConfig struct {
	// Type is a registered log source adapter: file, postgres or mssql.
	Type string `yaml:"type" env:"QUERYSIGHT_SOURCE_TYPE" env-default:"file"`

	// File is a JSON-lines query log export (used when Type is "file").
	File string `yaml:"file" env:"QUERYSIGHT_SOURCE_FILE" env-default:"query_log.jsonl"`

	Postgres DatabaseConfig `yaml:"postgres" env-prefix:"QUERYSIGHT_SOURCE_PG_"`
	MSSQL    DatabaseConfig `yaml:"mssql" env-prefix:"QUERYSIGHT_SOURCE_MSSQL_"`
}

// DatabaseConfig holds connection settings for a database the tool reads from or
// stores its cache in.
type DatabaseConfig struct {
	Host     string `yaml:"host" env:"HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"-" env:"PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"DATABASE"`
	SSLMode  string `yaml:"ssl_mode" env:"SSLMODE" env-default:"disable"`
	MaxConns int32  `yaml:"max_conns" env:"MAX_CONNS" env-default:"4"`
}

// ProjectConfig locates the dbt project whose models patterns are mapped to.
type ProjectConfig struct {
	Path string `yaml:"path" env:"QUERYSIGHT_PROJECT_PATH" env-default:"."`
	// InferPlurals enables singular/plural table-to-model matching (lowest confidence).
	InferPlurals bool `yaml:"infer_plurals" env:"QUERYSIGHT_PROJECT_INFER_PLURALS" env-default:"true"`
}

// CacheConfig configures the tiered stage cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled" env:"QUERYSIGHT_CACHE_ENABLED" env-default:"true"`
	// Backend is one of memory, sqlite, redis or postgres.
	Backend string `yaml:"backend" env:"QUERYSIGHT_CACHE_BACKEND" env-default:"sqlite"`
	// Dir holds the sqlite cache file.
	Dir string `yaml:"dir" env:"QUERYSIGHT_CACHE_DIR" env-default:".querysight"`

	TTL      CacheTTLConfig `yaml:"ttl"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres DatabaseConfig `yaml:"postgres" env-prefix:"QUERYSIGHT_CACHE_PG_"`
}

// CacheTTLConfig is the time-to-live of each cache category.
type CacheTTLConfig struct {
	Collection  time.Duration `yaml:"collection" env:"QUERYSIGHT_CACHE_TTL_COLLECTION" env-default:"1h"`
	Patterns    time.Duration `yaml:"patterns" env:"QUERYSIGHT_CACHE_TTL_PATTERNS" env-default:"6h"`
	Mappings    time.Duration `yaml:"mappings" env:"QUERYSIGHT_CACHE_TTL_MAPPINGS" env-default:"24h"`
	Suggestions time.Duration `yaml:"suggestions" env:"QUERYSIGHT_CACHE_TTL_SUGGESTIONS" env-default:"168h"`
}

// ByCategory returns the TTLs keyed by cache category.
func (c *CacheTTLConfig) ByCategory() map[models.CacheCategory]time.Duration {
	return map[models.CacheCategory]time.Duration{
		models.CacheCategoryCollection:  c.Collection,
		models.CacheCategoryPatterns:    c.Patterns,
		models.CacheCategoryMappings:    c.Mappings,
		models.CacheCategorySuggestions: c.Suggestions,
	}
}

// RedisConfig holds Redis cache backend configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"QUERYSIGHT_REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"QUERYSIGHT_REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"QUERYSIGHT_REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"QUERYSIGHT_REDIS_DB" env-default:"0"`
}

// Addr returns host:port for the Redis client.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", resolveHost(c.Host), c.Port)
}

// PipelineConfig tunes batch sizes, parallelism and stage timeouts.
type PipelineConfig struct {
	BatchSize         int           `yaml:"batch_size" env:"QUERYSIGHT_BATCH_SIZE" env-default:"1000"`
	Workers           int           `yaml:"workers" env:"QUERYSIGHT_WORKERS" env-default:"0"` // 0 = GOMAXPROCS
	SourceTimeout     time.Duration `yaml:"source_timeout" env:"QUERYSIGHT_SOURCE_TIMEOUT" env-default:"5m"`
	SuggestionTimeout time.Duration `yaml:"suggestion_timeout" env:"QUERYSIGHT_SUGGESTION_TIMEOUT" env-default:"2m"`
	MinFrequency      int           `yaml:"min_frequency" env:"QUERYSIGHT_MIN_FREQUENCY" env-default:"1"`
	CandidateLimit    int           `yaml:"candidate_limit" env:"QUERYSIGHT_CANDIDATE_LIMIT" env-default:"20"`
	Days              int           `yaml:"days" env:"QUERYSIGHT_DAYS" env-default:"7"`
}

// LLMConfig configures the optional suggestion generator. An empty provider
// disables suggestions; the optimization stage still ranks candidates.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"QUERYSIGHT_LLM_PROVIDER" env-default:""`
	Endpoint    string  `yaml:"endpoint" env:"QUERYSIGHT_LLM_ENDPOINT" env-default:""`
	Model       string  `yaml:"model" env:"QUERYSIGHT_LLM_MODEL" env-default:""`
	APIKey      string  `yaml:"-" env:"QUERYSIGHT_LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"QUERYSIGHT_LLM_TEMPERATURE" env-default:"0.2"`
	MaxTokens   int     `yaml:"max_tokens" env:"QUERYSIGHT_LLM_MAX_TOKENS" env-default:"2048"`
}

// ServerConfig configures `querysight serve`.
type ServerConfig struct {
	BindAddr string `yaml:"bind_addr" env:"QUERYSIGHT_BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"QUERYSIGHT_PORT" env-default:"8765"`
}

var (
	validSourceTypes   = []string{"file", "postgres", "mssql"}
	validCacheBackends = []string{"memory", "sqlite", "redis", "postgres"}
	validLLMProviders  = []string{"", "openai", "anthropic"}
	validLogLevels     = []string{"debug", "info", "warn", "error"}
)

// Load reads configuration from path (or QUERYSIGHT_CONFIG, or config.yaml) with
// environment variable overrides. A missing default file is not an error: defaults
// and environment variables are used instead. An explicitly named file must exist.
// The version parameter is injected at build time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("QUERYSIGHT_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	_, statErr := os.Stat(path)
	switch {
	case statErr == nil:
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	case errors.Is(statErr, fs.ErrNotExist) && !explicit:
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	default:
		return nil, fmt.Errorf("config file %s: %w", path, statErr)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks enumerations and numeric bounds after loading.
func (c *Config) Validate() error {
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("log_level must be one of %v, got %q", validLogLevels, c.LogLevel)
	}
	if !slices.Contains(validSourceTypes, c.Source.Type) {
		return fmt.Errorf("source.type must be one of %v, got %q", validSourceTypes, c.Source.Type)
	}
	if !slices.Contains(validCacheBackends, c.Cache.Backend) {
		return fmt.Errorf("cache.backend must be one of %v, got %q", validCacheBackends, c.Cache.Backend)
	}
	if !slices.Contains(validLLMProviders, c.LLM.Provider) {
		return fmt.Errorf("llm.provider must be empty or one of %v, got %q", validLLMProviders[1:], c.LLM.Provider)
	}
	for category, ttl := range c.Cache.TTL.ByCategory() {
		if ttl <= 0 {
			return fmt.Errorf("cache.ttl.%s must be positive, got %s", category, ttl)
		}
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("pipeline.batch_size must be at least 1, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must not be negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.SourceTimeout <= 0 || c.Pipeline.SuggestionTimeout <= 0 {
		return fmt.Errorf("pipeline timeouts must be positive")
	}
	if c.Pipeline.MinFrequency < 1 {
		return fmt.Errorf("pipeline.min_frequency must be at least 1, got %d", c.Pipeline.MinFrequency)
	}
	return nil
}

// PostgresConnectionString returns a libpq key/value connection string.
func (c *DatabaseConfig) PostgresConnectionString() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		resolveHost(c.Host), port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// SQLServerConnectionString returns a go-mssqldb URL connection string.
func (c *DatabaseConfig) SQLServerConnectionString() string {
	port := c.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	if c.Database != "" {
		q.Set("database", c.Database)
	}
	if c.SSLMode == "disable" {
		q.Set("encrypt", "disable")
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(c.User, c.Password),
		Host:     resolveHost(c.Host) + ":" + strconv.Itoa(port),
		RawQuery: q.Encode(),
	}
	return u.String()
}

// ToMap flattens the settings into the generic form log source factories accept.
func (c *DatabaseConfig) ToMap() map[string]any {
	return map[string]any{
		"host":      resolveHost(c.Host),
		"port":      c.Port,
		"user":      c.User,
		"password":  c.Password,
		"database":  c.Database,
		"ssl_mode":  c.SSLMode,
		"max_conns": c.MaxConns,
	}
}

var (
	inDockerOnce sync.Once
	inDocker     bool
)

// resolveHost rewrites loopback hosts to host.docker.internal when running in a
// container, so a containerized CLI can reach a database on the host machine.
func resolveHost(host string) string {
	inDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		inDocker = err == nil
	})
	if inDocker && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
