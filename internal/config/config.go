package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"invoice-agent/internal/core"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	ERP       ERPConfig
	Embedding EmbeddingConfig
	Redis     RedisConfig
	Matching  core.MatchingConfig
	Policy    core.PostingPolicy
	Log       LogConfig
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string
	MaxBodyBytes int64
}

// ERPConfig selects and configures the ERP adapter.
type ERPConfig struct {
	Variant            string // onprem or cloud
	BaseURL            string
	User               string
	Password           string
	APIKey             string
	APIKeyHeader       string
	Timeout            time.Duration
	RequestsPerSecond  int
	PageSize           int
	DefaultCompanyCode string
	// FetchGoodsReceipts reads PO history for received quantities. Disable for
	// systems that expose it on the item itself.
	FetchGoodsReceipts bool
}

// EmbeddingConfig configures the similarity oracle.
type EmbeddingConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// RedisConfig is optional; an empty Addr disables the embedding cache and posting lock.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	LockTimeout time.Duration
}

// LogConfig controls logger output.
type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from environment variables. Callers load .env first.
func Load() (*Config, error) {
	policy, err := core.ParseThreeWayMatchPolicy(getEnv("THREE_WAY_MATCH_POLICY", "FLAG"))
	if err != nil {
		return nil, err
	}
	matching := core.DefaultMatchingConfig()

	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DATABASE_URL", ""),
			MaxConns:         int32(getEnvAsInt("DB_MAX_CONNS", 20)),
			MinConns:         int32(getEnvAsInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 5*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 30*time.Second),
		},
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			MaxBodyBytes: int64(getEnvAsInt("MAX_BODY_BYTES", 4<<20)),
		},
		ERP: ERPConfig{
			Variant:            strings.ToLower(getEnv("ERP_VARIANT", "onprem")),
			BaseURL:            getEnv("ERP_BASE_URL", ""),
			User:               getEnv("ERP_USER", ""),
			Password:           getEnv("ERP_PASSWORD", ""),
			APIKey:             getEnv("ERP_API_KEY", ""),
			APIKeyHeader:       getEnv("ERP_API_KEY_HEADER", "APIKey"),
			Timeout:            getEnvAsDuration("ERP_TIMEOUT", 30*time.Second),
			RequestsPerSecond:  getEnvAsInt("ERP_REQUESTS_PER_SECOND", 5),
			PageSize:           getEnvAsInt("ERP_PAGE_SIZE", 500),
			DefaultCompanyCode: getEnv("DEFAULT_COMPANY_CODE", ""),
			FetchGoodsReceipts: getEnvAsBool("ERP_FETCH_GOODS_RECEIPTS", true),
		},
		Embedding: EmbeddingConfig{
			APIKey:   getEnv("OPENAI_API_KEY", ""),
			BaseURL:  getEnv("OPENAI_BASE_URL", ""),
			Model:    getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:  getEnvAsDuration("EMBEDDING_TIMEOUT", 20*time.Second),
			CacheTTL: getEnvAsDuration("EMBEDDING_CACHE_TTL", 7*24*time.Hour),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			LockTimeout: getEnvAsDuration("POSTING_LOCK_TTL", 2*time.Minute),
		},
		Matching: core.MatchingConfig{
			SupplierTopK:          getEnvAsInt("SUPPLIER_TOP_K", matching.SupplierTopK),
			MaxAlternatives:       getEnvAsInt("SUPPLIER_MAX_ALTERNATIVES", matching.MaxAlternatives),
			POLineTopK:            getEnvAsInt("PO_LINE_TOP_K", matching.POLineTopK),
			POAcceptThreshold:     getEnvAsFloat("PO_ACCEPT_THRESHOLD", matching.POAcceptThreshold),
			EmbeddingMaxAge:       getEnvAsDuration("EMBEDDING_MAX_AGE", matching.EmbeddingMaxAge),
			EmbeddingRetryBackoff: getEnvAsDuration("EMBEDDING_RETRY_BACKOFF", matching.EmbeddingRetryBackoff),
			EmbeddingBatchSize:    getEnvAsInt("EMBEDDING_BATCH_SIZE", matching.EmbeddingBatchSize),
			DefaultDeltaWindow:    getEnvAsDuration("SUPPLIER_DELTA_WINDOW", matching.DefaultDeltaWindow),
		},
		Policy: core.PostingPolicy{ThreeWayMatch: policy},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}, nil
}

// Validate checks the values every entry point needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Embedding.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is required"))
	}
	if c.ERP.BaseURL == "" {
		errs = append(errs, errors.New("ERP_BASE_URL is required"))
	}
	if c.ERP.Variant != "onprem" && c.ERP.Variant != "cloud" {
		errs = append(errs, fmt.Errorf("ERP_VARIANT must be onprem or cloud, got %q", c.ERP.Variant))
	}
	if t := c.Matching.POAcceptThreshold; t <= 0 || t > 1 {
		errs = append(errs, fmt.Errorf("PO_ACCEPT_THRESHOLD must be in (0,1], got %v", t))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
