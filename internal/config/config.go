package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Log      LogConfig
	Cache    CacheConfig
	Store    StoreConfig
	KeyDB    KeyDBConfig
	AuditLog AuditLogConfig
	Billing  BillingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	CORSOrigins     []string      `envconfig:"SERVER_CORS_ORIGINS" default:"*"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"iap-entitlement-api"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys     []string `envconfig:"API_KEYS" default:""` // empty disables authentication
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"console"` // console or json
}

// CacheConfig holds the callback cache settings.
type CacheConfig struct {
	Type            string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	CallbackTTL     time.Duration `envconfig:"CACHE_CALLBACK_TTL" default:"10m"`
	CleanupInterval time.Duration `envconfig:"CACHE_CLEANUP_INTERVAL" default:"1m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"iap:callbacks"`
}

// StoreConfig holds the sandbox catalog/purchase store settings.
type StoreConfig struct {
	Type        string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite or postgres
	Path        string `envconfig:"STORE_PATH" default:"./data/store.db"`
	CatalogPath string `envconfig:"STORE_CATALOG_PATH" default:""`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"iap"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`
}

// KeyDBConfig holds MySQL connection settings for the verification key store.
type KeyDBConfig struct {
	Enabled  bool   `envconfig:"KEY_DB_ENABLED" default:"false"`
	Host     string `envconfig:"KEY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"KEY_DB_PORT" default:"3306"`
	Name     string `envconfig:"KEY_DB_NAME" default:"iap"`
	User     string `envconfig:"KEY_DB_USER" default:"root"`
	Password string `envconfig:"KEY_DB_PASS" default:""`
}

// AuditLogConfig holds MongoDB settings for the notification audit log.
type AuditLogConfig struct {
	MongoURI        string `envconfig:"MONGODB_URI" default:""` // empty disables the audit log
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"iap"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"billing_notifications"`
}

// BillingConfig holds billing client settings.
type BillingConfig struct {
	PackageName     string        `envconfig:"BILLING_PACKAGE_NAME" default:"com.example.app"`
	KeyParam        string        `envconfig:"BILLING_KEY_PARAM" default:""`
	Key             string        `envconfig:"BILLING_KEY" default:""`
	VerifyReceipts  bool          `envconfig:"BILLING_VERIFY_RECEIPTS" default:"false"`
	Subscriptions   bool          `envconfig:"BILLING_SUBSCRIPTIONS" default:"true"`
	Debug           bool          `envconfig:"BILLING_DEBUG" default:"false"`
	RefreshInterval time.Duration `envconfig:"BILLING_REFRESH_INTERVAL" default:"0s"` // 0 disables
	RefreshTimeout  time.Duration `envconfig:"BILLING_REFRESH_TIMEOUT" default:"30s"`
	MaxWait         time.Duration `envconfig:"BILLING_MAX_CALLBACK_WAIT" default:"30s"`
}

// VerificationKey returns the configured key. BILLING_KEY_PARAM wins over BILLING_KEY.
func (b *BillingConfig) VerificationKey() string {
	if k := strings.TrimSpace(b.KeyParam); k != "" {
		return k
	}
	return strings.TrimSpace(b.Key)
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *KeyDBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// AuditEnabled reports whether the MongoDB audit log is configured.
func (a *AuditLogConfig) AuditEnabled() bool {
	return a.MongoURI != ""
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown CACHE_TYPE %q", c.Cache.Type)
	}
	switch c.Store.Type {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unknown STORE_TYPE %q", c.Store.Type)
	}
	if c.Billing.RefreshInterval < 0 {
		return fmt.Errorf("BILLING_REFRESH_INTERVAL must not be negative")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.App.APIKeys = compact(cfg.App.APIKeys)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func compact(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
