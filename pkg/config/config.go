package config

import (
	"fmt"
	"math"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the ERP assistant.
// Configuration can come from a YAML file or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Oracle ERP database the generated SQL runs against
	Oracle OracleConfig `yaml:"oracle"`

	// Generators
	LocalModel LocalModelConfig `yaml:"local_model"`
	APIModel   APIModelConfig   `yaml:"api_model"`

	Hybrid      HybridConfig      `yaml:"hybrid"`
	Selector    SelectorConfig    `yaml:"selector"`
	Assembler   AssemblerConfig   `yaml:"assembler"`
	SchemaCache SchemaCacheConfig `yaml:"schema_cache"`

	// Engine database (PostgreSQL) used for telemetry persistence
	Database  DatabaseConfig  `yaml:"database"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// OracleConfig holds the ERP database connection settings.
type OracleConfig struct {
	// Name identifies the database to the assistant's schema cache and executor.
	Name     string `yaml:"name" env:"ORACLE_NAME" env-default:"erp"`
	Host     string `yaml:"host" env:"ORACLE_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"ORACLE_PORT" env-default:"1521"`
	Service  string `yaml:"service" env:"ORACLE_SERVICE" env-default:"FREEPDB1"`
	User     string `yaml:"user" env:"ORACLE_USER" env-default:"erp"`
	Password string `yaml:"-" env:"ORACLE_PASSWORD"` // Secret - not in YAML
	// Owner is the schema holding the ERP tables, if not the user's own.
	Owner             string `yaml:"owner" env:"ORACLE_OWNER" env-default:""`
	ConnectionTimeout int    `yaml:"connection_timeout" env:"ORACLE_CONNECTION_TIMEOUT" env-default:"30"`
	PoolSize          int    `yaml:"pool_size" env:"ORACLE_POOL_SIZE" env-default:"10"`
	// Tables are described to the generators as schema context.
	Tables []string `yaml:"tables" env:"ORACLE_TABLES" env-separator:","`
}

// AdapterConfig returns the settings in the shape the datasource registry expects.
func (c *OracleConfig) AdapterConfig() map[string]any {
	return map[string]any{
		"host":               ResolveHostForDocker(c.Host),
		"port":               c.Port,
		"service":            c.Service,
		"user":               c.User,
		"password":           c.Password,
		"owner":              c.Owner,
		"connection_timeout": c.ConnectionTimeout,
		"pool_size":          c.PoolSize,
	}
}

// LocalModelConfig points at an OpenAI-compatible endpoint (vLLM, Ollama)
// serving the local SQL model.
type LocalModelConfig struct {
	BaseURL string `yaml:"base_url" env:"LOCAL_MODEL_BASE_URL" env-default:"http://localhost:11434/v1"`
	Model   string `yaml:"model" env:"LOCAL_MODEL_NAME" env-default:"sqlcoder:15b"`
	APIKey  string `yaml:"-" env:"LOCAL_MODEL_API_KEY"` // Secret - not in YAML
	// MaxTokens bounds the completion length. Zero leaves it to the server.
	MaxTokens int `yaml:"max_tokens" env:"LOCAL_MODEL_MAX_TOKENS" env-default:"1024"`
}

// IsAvailable returns true if the local model is configured.
func (c *LocalModelConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// APIModelConfig configures the remote LLM API generator.
type APIModelConfig struct {
	// Provider selects the client: "anthropic" or "openai".
	Provider  string `yaml:"provider" env:"API_MODEL_PROVIDER" env-default:"anthropic"`
	Model     string `yaml:"model" env:"API_MODEL_NAME" env-default:"claude-sonnet-4-5"`
	BaseURL   string `yaml:"base_url" env:"API_MODEL_BASE_URL" env-default:""`
	APIKey    string `yaml:"-" env:"API_MODEL_API_KEY"` // Secret - not in YAML
	MaxTokens int    `yaml:"max_tokens" env:"API_MODEL_MAX_TOKENS" env-default:"2048"`
}

// IsAvailable returns true if the API model has a key and a model name.
func (c *APIModelConfig) IsAvailable() bool {
	return c.APIKey != "" && c.Model != ""
}

// HybridConfig holds the orchestration budgets and routing thresholds.
type HybridConfig struct {
	LocalTimeout           time.Duration `yaml:"local_timeout" env:"HYBRID_LOCAL_TIMEOUT" env-default:"30s"`
	MultiFieldLocalTimeout time.Duration `yaml:"multi_field_local_timeout" env:"HYBRID_MULTI_FIELD_LOCAL_TIMEOUT" env-default:"40s"`
	APITimeout             time.Duration `yaml:"api_timeout" env:"HYBRID_API_TIMEOUT" env-default:"45s"`
	TotalTimeout           time.Duration `yaml:"total_timeout" env:"HYBRID_TOTAL_TIMEOUT" env-default:"60s"`
	GracePeriod            time.Duration `yaml:"grace_period" env:"HYBRID_GRACE_PERIOD" env-default:"5s"`

	// SkipAPIConfidence is the local confidence above which a simple lookup
	// is answered by the local model alone.
	SkipAPIConfidence float64 `yaml:"skip_api_confidence" env:"HYBRID_SKIP_API_CONFIDENCE" env-default:"0.85"`
	// LowConfidence is the local confidence below which both paths always run.
	LowConfidence float64 `yaml:"low_confidence" env:"HYBRID_LOW_CONFIDENCE" env-default:"0.5"`
}

// SelectorConfig holds the composite-score weights used to pick between
// local and API candidates.
type SelectorConfig struct {
	TechnicalAccuracy   float64 `yaml:"technical_accuracy" env:"SELECTOR_WEIGHT_TECHNICAL" env-default:"0.25"`
	BusinessLogic       float64 `yaml:"business_logic" env:"SELECTOR_WEIGHT_BUSINESS" env-default:"0.25"`
	Performance         float64 `yaml:"performance" env:"SELECTOR_WEIGHT_PERFORMANCE" env-default:"0.10"`
	ModelConfidence     float64 `yaml:"model_confidence" env:"SELECTOR_WEIGHT_CONFIDENCE" env-default:"0.20"`
	ManufacturingDomain float64 `yaml:"manufacturing_domain" env:"SELECTOR_WEIGHT_DOMAIN" env-default:"0.20"`

	// DomainRulesPath optionally overrides the built-in domain rules.
	DomainRulesPath string `yaml:"domain_rules_path" env:"SELECTOR_DOMAIN_RULES_PATH" env-default:""`
}

// WeightSum returns the sum of all selector weights.
func (c *SelectorConfig) WeightSum() float64 {
	return c.TechnicalAccuracy + c.BusinessLogic + c.Performance + c.ModelConfidence + c.ManufacturingDomain
}

// AssemblerConfig holds SQL assembly options.
type AssemblerConfig struct {
	// DefaultWindowDays attaches a trailing N-day range when the question
	// names no time window. Zero disables it.
	DefaultWindowDays int `yaml:"default_window_days" env:"ASSEMBLER_DEFAULT_WINDOW_DAYS" env-default:"0"`
	// MaxProbeConcurrency bounds parallel existence probes against Oracle.
	MaxProbeConcurrency int `yaml:"max_probe_concurrency" env:"ASSEMBLER_MAX_PROBE_CONCURRENCY" env-default:"4"`
}

// SchemaCacheConfig bounds the column metadata cache.
type SchemaCacheConfig struct {
	Size int `yaml:"size" env:"SCHEMA_CACHE_SIZE" env-default:"512"`
}

// DatabaseConfig holds PostgreSQL engine database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"ENGINE_DB_PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"erp_assistant"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MaxIdleConns   int32  `yaml:"max_idle_conns" env:"PGMAX_IDLE_CONNS" env-default:"2"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// TelemetryConfig controls the best-effort telemetry sinks.
type TelemetryConfig struct {
	// Persist enables writing selection decisions and token usage to the engine database.
	Persist   bool `yaml:"persist" env:"TELEMETRY_PERSIST" env-default:"false"`
	QueueSize int  `yaml:"queue_size" env:"TELEMETRY_QUEUE_SIZE" env-default:"256"`
}

// Load reads configuration from the YAML file at path with environment
// variable overrides. The version parameter is injected at build time.
// Secrets (ORACLE_PASSWORD, API_MODEL_API_KEY, LOCAL_MODEL_API_KEY,
// ENGINE_DB_PASSWORD) must come from environment variables.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.LocalModel.BaseURL = ResolveURLForDocker(cfg.LocalModel.BaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks cross-field constraints cleanenv cannot express.
func (c *Config) Validate() error {
	if sum := c.Selector.WeightSum(); math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("selector weights must sum to 1.0, got %.4f", sum)
	}

	switch c.APIModel.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("api_model.provider must be anthropic or openai, got %q", c.APIModel.Provider)
	}

	h := c.Hybrid
	for name, d := range map[string]time.Duration{
		"local_timeout":             h.LocalTimeout,
		"multi_field_local_timeout": h.MultiFieldLocalTimeout,
		"api_timeout":               h.APITimeout,
		"total_timeout":             h.TotalTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("hybrid.%s must be positive", name)
		}
	}
	if h.GracePeriod < 0 {
		return fmt.Errorf("hybrid.grace_period must not be negative")
	}
	if h.LowConfidence > h.SkipAPIConfidence {
		return fmt.Errorf("hybrid.low_confidence (%.2f) exceeds skip_api_confidence (%.2f)", h.LowConfidence, h.SkipAPIConfidence)
	}

	if c.SchemaCache.Size <= 0 {
		return fmt.Errorf("schema_cache.size must be positive")
	}
	if c.Assembler.DefaultWindowDays < 0 {
		return fmt.Errorf("assembler.default_window_days must not be negative")
	}
	return nil
}
