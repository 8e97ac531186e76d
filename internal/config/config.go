// Package config provides centralized configuration management for the
// health-series service. Configuration is layered: defaults, then an
// optional JSON or YAML file, then a .env file, then process environment.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig represents the complete application configuration
type AppConfig struct {
	AppName    string `json:"app_name" yaml:"app_name"`
	Version    string `json:"version" yaml:"version"`
	ConfigPath string `json:"-" yaml:"-"`

	Storage       StorageConfig       `json:"storage" yaml:"storage"`
	Server        ServerConfig        `json:"server" yaml:"server"`
	Query         QueryConfig         `json:"query" yaml:"query"`
	Imputation    ImputationConfig    `json:"imputation" yaml:"imputation"`
	Cache         CacheConfig         `json:"cache" yaml:"cache"`
	Events        EventsConfig        `json:"events" yaml:"events"`
	Generator     GeneratorConfig     `json:"generator" yaml:"generator"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging"`
	Metrics       MetricsConfig       `json:"metrics" yaml:"metrics"`
	ErrorHandling ErrorHandlingConfig `json:"error_handling" yaml:"error_handling"`
}

// StorageConfig configures the storage backend
type StorageConfig struct {
	Type         string `json:"type" yaml:"type"`                   // "duckdb", "postgres", "memory"
	DatabaseURL  string `json:"database_url" yaml:"database_url"`   // File path for DuckDB, DSN for Postgres
	BatchSize    int    `json:"batch_size" yaml:"batch_size"`       // Rows per write transaction for real points
	MaxConns     int    `json:"max_conns" yaml:"max_conns"`         // Maximum open connections (Postgres)
	QueryTimeout string `json:"query_timeout" yaml:"query_timeout"` // Per-request storage timeout
}

// ServerConfig configures the HTTP boundary
type ServerConfig struct {
	Address            string   `json:"address" yaml:"address"`
	ReadTimeout        string   `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       string   `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout    string   `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSAllowedOrigins []string `json:"cors_allowed_origins" yaml:"cors_allowed_origins"`
	GenerateRateLimit  float64  `json:"generate_rate_limit" yaml:"generate_rate_limit"` // requests per second
	GenerateBurst      int      `json:"generate_burst" yaml:"generate_burst"`
}

// QueryConfig configures range query validation and pagination
type QueryConfig struct {
	MaxRangeDays       int    `json:"max_range_days" yaml:"max_range_days"`
	DefaultPageSize    int    `json:"default_page_size" yaml:"default_page_size"`
	MaxPageSize        int    `json:"max_page_size" yaml:"max_page_size"`
	ValidationTimezone string `json:"validation_timezone" yaml:"validation_timezone"`
	DefaultUserID      string `json:"default_user_id" yaml:"default_user_id"`
}

// ImputationConfig configures the gap filling pipeline
type ImputationConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Timezone string `json:"timezone" yaml:"timezone"` // location used for hour-of-day matching
}

// CacheConfig configures the historical pattern cache
type CacheConfig struct {
	Type          string `json:"type" yaml:"type"` // "none", "memory", "redis"
	RedisAddr     string `json:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `json:"redis_password" yaml:"redis_password"`
	RedisDB       int    `json:"redis_db" yaml:"redis_db"`
	TTL           string `json:"ttl" yaml:"ttl"`
	KeyPrefix     string `json:"key_prefix" yaml:"key_prefix"`
}

// EventsConfig configures gap and imputation event publishing
type EventsConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

// GeneratorConfig configures synthetic data generation and ingest
type GeneratorConfig struct {
	Seed            int64   `json:"seed" yaml:"seed"`
	GapProbability  float64 `json:"gap_probability" yaml:"gap_probability"`
	LastRunFile     string  `json:"last_run_file" yaml:"last_run_file"`
	Schedule        string  `json:"schedule" yaml:"schedule"` // cron expression for scheduled ingest
	InitialLookback string  `json:"initial_lookback" yaml:"initial_lookback"`
}

// LoggingConfig configures structured logging
type LoggingConfig struct {
	Level         string            `json:"level" yaml:"level"`             // debug, info, warn, error
	Format        string            `json:"format" yaml:"format"`           // json, text
	Output        string            `json:"output" yaml:"output"`           // stdout, stderr, file
	FilePath      string            `json:"file_path" yaml:"file_path"`     // Log file path
	MaxSize       int               `json:"max_size" yaml:"max_size"`       // Maximum log file size in MB
	MaxBackups    int               `json:"max_backups" yaml:"max_backups"` // Maximum log file backups
	MaxAge        int               `json:"max_age" yaml:"max_age"`         // Maximum log file age in days
	Compress      bool              `json:"compress" yaml:"compress"`       // Compress old log files
	ContextFields map[string]string `json:"context_fields" yaml:"context_fields"`
}

// MetricsConfig configures Prometheus metrics
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
}

// ErrorHandlingConfig configures error handling and retry policies
type ErrorHandlingConfig struct {
	GlobalRetryPolicy    RetryPolicyConfig            `json:"global_retry_policy" yaml:"global_retry_policy"`
	ComponentPolicies    map[string]RetryPolicyConfig `json:"component_policies" yaml:"component_policies"`
	EnableCircuitBreaker bool                         `json:"enable_circuit_breaker" yaml:"enable_circuit_breaker"`
	CircuitBreakerConfig CircuitBreakerConfig         `json:"circuit_breaker_config" yaml:"circuit_breaker_config"`
}

// RetryPolicyConfig configures retry behavior
type RetryPolicyConfig struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay    string   `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        string   `json:"max_delay" yaml:"max_delay"`
	BackoffStrategy string   `json:"backoff_strategy" yaml:"backoff_strategy"` // fixed, exponential
	RetryableErrors []string `json:"retryable_errors" yaml:"retryable_errors"`
	Jitter          bool     `json:"jitter" yaml:"jitter"`
}

// CircuitBreakerConfig configures circuit breaker behavior
type CircuitBreakerConfig struct {
	FailureThreshold int    `json:"failure_threshold" yaml:"failure_threshold"`
	RecoveryTimeout  string `json:"recovery_timeout" yaml:"recovery_timeout"`
	HalfOpenRequests int    `json:"half_open_requests" yaml:"half_open_requests"`
}

// ConfigManager handles configuration loading and validation
type ConfigManager struct {
	config     *AppConfig
	configPath string
	envFiles   []string
	logger     *slog.Logger
}

// NewConfigManager creates a new configuration manager. Optional env files
// are loaded with godotenv before environment overrides are read; missing
// files are ignored.
func NewConfigManager(configPath string, logger *slog.Logger, envFiles ...string) *ConfigManager {
	if logger == nil {
		logger = slog.Default()
	}
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	return &ConfigManager{
		configPath: configPath,
		envFiles:   envFiles,
		logger:     logger,
	}
}

// LoadConfig loads configuration from multiple sources with priority order:
// 1. Environment variables, including those from .env files (highest priority)
// 2. Configuration file
// 3. Default values (lowest priority)
func (cm *ConfigManager) LoadConfig(ctx context.Context) (*AppConfig, error) {
	config := DefaultConfig()

	if cm.configPath != "" {
		if err := cm.loadFromFile(config); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		config.ConfigPath = cm.configPath
	}

	cm.loadEnvFiles()

	if err := cm.loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cm.validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cm.config = config
	cm.logger.Info("configuration loaded successfully",
		"config_path", cm.configPath,
		"storage_type", config.Storage.Type,
		"cache_type", config.Cache.Type,
		"log_level", config.Logging.Level)

	return config, nil
}

// loadFromFile loads configuration from a JSON or YAML file
func (cm *ConfigManager) loadFromFile(config *AppConfig) error {
	if _, err := os.Stat(cm.configPath); os.IsNotExist(err) {
		cm.logger.Debug("config file does not exist, using defaults", "path", cm.configPath)
		return nil
	}

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", cm.configPath, err)
	}

	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", cm.configPath, err)
	}

	cm.logger.Debug("loaded configuration from file", "path", cm.configPath)
	return nil
}

// loadEnvFiles populates the process environment from .env files without
// overriding variables that are already set.
func (cm *ConfigManager) loadEnvFiles() {
	for _, file := range cm.envFiles {
		if _, err := os.Stat(file); err != nil {
			continue
		}
		if err := godotenv.Load(file); err != nil {
			cm.logger.Warn("failed to load env file", "path", file, "error", err)
			continue
		}
		cm.logger.Debug("loaded env file", "path", file)
	}
}

// loadFromEnv loads configuration from environment variables
func (cm *ConfigManager) loadFromEnv(config *AppConfig) error {
	if val := os.Getenv("APP_NAME"); val != "" {
		config.AppName = val
	}

	// Storage
	if val := os.Getenv("STORAGE_TYPE"); val != "" {
		config.Storage.Type = val
	}
	if val := os.Getenv("DATABASE_URL"); val != "" {
		config.Storage.DatabaseURL = val
	} else if dsn := postgresDSNFromParts(); dsn != "" {
		config.Storage.Type = "postgres"
		config.Storage.DatabaseURL = dsn
	}
	setInt(&config.Storage.BatchSize, "BATCH_SIZE")
	setInt(&config.Storage.MaxConns, "MAX_CONNS")

	// Server
	if val := os.Getenv("SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("CORS_ALLOWED_ORIGINS"); val != "" {
		config.Server.CORSAllowedOrigins = splitList(val)
	}
	if val := os.Getenv("GENERATE_RATE_LIMIT"); val != "" {
		if limit, err := strconv.ParseFloat(val, 64); err == nil {
			config.Server.GenerateRateLimit = limit
		}
	}

	// Query
	setInt(&config.Query.MaxRangeDays, "MAX_DATE_RANGE_DAYS")
	setInt(&config.Query.DefaultPageSize, "DEFAULT_PAGE_SIZE")
	if val := os.Getenv("VALIDATION_TIMEZONE"); val != "" {
		config.Query.ValidationTimezone = val
	}
	if val := os.Getenv("DEFAULT_USER_ID"); val != "" {
		config.Query.DefaultUserID = val
	}

	// Imputation
	setBool(&config.Imputation.Enabled, "IMPUTATION_ENABLED")
	if val := os.Getenv("IMPUTATION_TIMEZONE"); val != "" {
		config.Imputation.Timezone = val
	}

	// Cache
	if val := os.Getenv("CACHE_TYPE"); val != "" {
		config.Cache.Type = val
	}
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		config.Cache.RedisAddr = val
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		config.Cache.RedisPassword = val
	}
	setInt(&config.Cache.RedisDB, "REDIS_DB")
	if val := os.Getenv("CACHE_TTL"); val != "" {
		config.Cache.TTL = val
	}

	// Events
	setBool(&config.Events.Enabled, "EVENTS_ENABLED")
	if val := os.Getenv("KAFKA_BROKERS"); val != "" {
		config.Events.Brokers = splitList(val)
	}
	if val := os.Getenv("KAFKA_TOPIC"); val != "" {
		config.Events.Topic = val
	}

	// Generator
	if val := os.Getenv("SEED"); val != "" {
		if seed, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Generator.Seed = seed
		}
	}
	if val := os.Getenv("LAST_RUN_FILE"); val != "" {
		config.Generator.LastRunFile = val
	}
	if val := os.Getenv("INGEST_SCHEDULE"); val != "" {
		config.Generator.Schedule = val
	}

	// Logging
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}
	if val := os.Getenv("LOG_FILE_PATH"); val != "" {
		config.Logging.FilePath = val
	}

	// Metrics
	setBool(&config.Metrics.Enabled, "METRICS_ENABLED")
	if val := os.Getenv("METRICS_PATH"); val != "" {
		config.Metrics.Path = val
	}

	cm.logger.Debug("loaded configuration from environment variables")
	return nil
}

// postgresDSNFromParts builds a DSN from DB_HOST, DB_PORT, DB_NAME, DB_USER
// and DB_PASSWORD. Returns "" when DB_HOST is unset.
func postgresDSNFromParts() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     host + ":" + port,
		Path:     "/" + os.Getenv("DB_NAME"),
		RawQuery: "sslmode=disable",
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	return u.String()
}

func setInt(target *int, key string) {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*target = n
		}
	}
}

func setBool(target *bool, key string) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*target = b
		}
	}
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validateConfig validates the configuration for consistency and required fields
func (cm *ConfigManager) validateConfig(config *AppConfig) error {
	var errors []string

	switch config.Storage.Type {
	case "":
		errors = append(errors, "storage.type is required")
	case "memory":
	case "duckdb", "postgres":
		if config.Storage.DatabaseURL == "" {
			errors = append(errors, fmt.Sprintf("storage.database_url is required for %s storage", config.Storage.Type))
		}
	default:
		errors = append(errors, "storage.type must be one of: memory, duckdb, postgres")
	}
	if config.Storage.BatchSize <= 0 {
		errors = append(errors, "storage.batch_size must be greater than 0")
	}
	if config.Storage.Type == "postgres" && config.Storage.MaxConns <= 0 {
		errors = append(errors, "storage.max_conns must be greater than 0")
	}
	if _, err := time.ParseDuration(config.Storage.QueryTimeout); err != nil {
		errors = append(errors, fmt.Sprintf("storage.query_timeout is not a valid duration: %v", err))
	}

	if config.Server.Address == "" {
		errors = append(errors, "server.address is required")
	}
	for name, val := range map[string]string{
		"server.read_timeout":     config.Server.ReadTimeout,
		"server.write_timeout":    config.Server.WriteTimeout,
		"server.shutdown_timeout": config.Server.ShutdownTimeout,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			errors = append(errors, fmt.Sprintf("%s is not a valid duration: %v", name, err))
		}
	}
	if config.Server.GenerateRateLimit <= 0 {
		errors = append(errors, "server.generate_rate_limit must be greater than 0")
	}

	if config.Query.MaxRangeDays <= 0 {
		errors = append(errors, "query.max_range_days must be greater than 0")
	}
	if config.Query.DefaultPageSize <= 0 {
		errors = append(errors, "query.default_page_size must be greater than 0")
	}
	if config.Query.MaxPageSize < config.Query.DefaultPageSize {
		errors = append(errors, "query.max_page_size must be at least query.default_page_size")
	}
	if _, err := time.LoadLocation(config.Query.ValidationTimezone); err != nil {
		errors = append(errors, fmt.Sprintf("query.validation_timezone is invalid: %v", err))
	}
	if _, err := time.LoadLocation(config.Imputation.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("imputation.timezone is invalid: %v", err))
	}

	switch config.Cache.Type {
	case "none", "memory":
	case "redis":
		if config.Cache.RedisAddr == "" {
			errors = append(errors, "cache.redis_addr is required for redis cache")
		}
	default:
		errors = append(errors, "cache.type must be one of: none, memory, redis")
	}
	if config.Cache.Type != "none" {
		if _, err := time.ParseDuration(config.Cache.TTL); err != nil {
			errors = append(errors, fmt.Sprintf("cache.ttl is not a valid duration: %v", err))
		}
	}

	if config.Events.Enabled {
		if len(config.Events.Brokers) == 0 {
			errors = append(errors, "events.brokers is required when events are enabled")
		}
		if config.Events.Topic == "" {
			errors = append(errors, "events.topic is required when events are enabled")
		}
	}

	if config.Generator.GapProbability < 0 || config.Generator.GapProbability >= 1 {
		errors = append(errors, "generator.gap_probability must be in [0, 1)")
	}
	if config.Generator.LastRunFile == "" {
		errors = append(errors, "generator.last_run_file is required")
	}
	if _, err := time.ParseDuration(config.Generator.InitialLookback); err != nil {
		errors = append(errors, fmt.Sprintf("generator.initial_lookback is not a valid duration: %v", err))
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[config.Logging.Level] {
		errors = append(errors, "logging.level must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[config.Logging.Format] {
		errors = append(errors, "logging.format must be one of: json, text")
	}
	if config.Logging.Output == "file" && config.Logging.FilePath == "" {
		errors = append(errors, "logging.file_path is required for file output")
	}

	if config.Metrics.Enabled && !strings.HasPrefix(config.Metrics.Path, "/") {
		errors = append(errors, "metrics.path must start with /")
	}

	if config.ErrorHandling.GlobalRetryPolicy.MaxAttempts <= 0 {
		errors = append(errors, "error_handling.global_retry_policy.max_attempts must be greater than 0")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation errors:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// GetConfig returns the current configuration
func (cm *ConfigManager) GetConfig() *AppConfig {
	return cm.config
}

// SaveConfig writes the current configuration to the config file in the
// format implied by its extension.
func (cm *ConfigManager) SaveConfig(ctx context.Context) error {
	if cm.configPath == "" {
		return fmt.Errorf("no config path specified")
	}
	if cm.config == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if err := os.MkdirAll(filepath.Dir(cm.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(cm.configPath)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cm.config)
	default:
		data, err = json.MarshalIndent(cm.config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cm.logger.Info("configuration saved", "path", cm.configPath)
	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *AppConfig {
	return &AppConfig{
		AppName: "health-series",
		Version: "1.0.0",
		Storage: StorageConfig{
			Type:         "duckdb",
			DatabaseURL:  "./data/health.db",
			BatchSize:    1000,
			MaxConns:     25,
			QueryTimeout: "30s",
		},
		Server: ServerConfig{
			Address:            ":8000",
			ReadTimeout:        "15s",
			WriteTimeout:       "60s",
			ShutdownTimeout:    "10s",
			CORSAllowedOrigins: []string{"*"},
			GenerateRateLimit:  1,
			GenerateBurst:      3,
		},
		Query: QueryConfig{
			MaxRangeDays:       60,
			DefaultPageSize:    1000,
			MaxPageSize:        10000,
			ValidationTimezone: "America/Los_Angeles",
			DefaultUserID:      "user_1",
		},
		Imputation: ImputationConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		Cache: CacheConfig{
			Type:      "memory",
			RedisAddr: "localhost:6379",
			TTL:       "15m",
			KeyPrefix: "healthseries:patterns",
		},
		Events: EventsConfig{
			Enabled: false,
			Brokers: []string{"localhost:9092"},
			Topic:   "health.imputation",
		},
		Generator: GeneratorConfig{
			Seed:            42,
			GapProbability:  0.2,
			LastRunFile:     "./data/last_run.txt",
			Schedule:        "@hourly",
			InitialLookback: "24h",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			ContextFields: map[string]string{
				"service": "health-series",
			},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/internal/metrics",
			Namespace: "healthseries",
		},
		ErrorHandling: ErrorHandlingConfig{
			GlobalRetryPolicy: RetryPolicyConfig{
				MaxAttempts:     5,
				InitialDelay:    "500ms",
				MaxDelay:        "10s",
				BackoffStrategy: "exponential",
				RetryableErrors: []string{"network", "timeout", "storage"},
				Jitter:          true,
			},
			ComponentPolicies:    make(map[string]RetryPolicyConfig),
			EnableCircuitBreaker: true,
			CircuitBreakerConfig: CircuitBreakerConfig{
				FailureThreshold: 5,
				RecoveryTimeout:  "30s",
				HalfOpenRequests: 1,
			},
		},
	}
}

// ParseDurationOr parses a duration string, returning fallback when empty
// or malformed.
func ParseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// String returns a JSON representation with secrets redacted
func (c *AppConfig) String() string {
	sanitized := *c
	if sanitized.Cache.RedisPassword != "" {
		sanitized.Cache.RedisPassword = "[REDACTED]"
	}
	sanitized.Storage.DatabaseURL = redactDSN(sanitized.Storage.DatabaseURL)

	data, _ := json.MarshalIndent(&sanitized, "", "  ")
	return string(data)
}

func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}
