package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	Logger LoggerConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	Billing   BillingConfig
	Scheduler SchedulerConfig

	// CatalogItems optionally overrides the content catalog as a
	// comma-separated list of kind:name:price entries.
	CatalogItems string
}

type LoggerConfig struct {
	Level string
}

// BillingConfig carries the knobs that decide when a recorded action is free.
type BillingConfig struct {
	// FreeAllowance selects the allowance rule: "first_per_kind" (the first
	// event of each content kind is free) or "first_global" (only the first
	// event of any kind is free).
	FreeAllowance string
	// ProviderTimeout bounds every call to the billing provider.
	ProviderTimeout time.Duration
}

type SchedulerConfig struct {
	// SweepInterval is how often pending charges are retried.
	SweepInterval time.Duration
	// SweepTimeout bounds a single retry sweep.
	SweepTimeout time.Duration
}

const (
	AllowanceFirstPerKind = "first_per_kind"
	AllowanceFirstGlobal  = "first_global"
)

// Load loads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "billingbot"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		HTTPAddr:    getenv("HTTP_ADDR", ":8080"),
		NodeID:      int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		Logger: LoggerConfig{
			Level: getenv("LOG_LEVEL", "info"),
		},
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 2),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 10),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		Billing: BillingConfig{
			FreeAllowance:   normalizeAllowance(getenv("BILLING_FREE_ALLOWANCE", AllowanceFirstPerKind)),
			ProviderTimeout: getenvDuration("BILLING_PROVIDER_TIMEOUT", 10*time.Second),
		},
		Scheduler: SchedulerConfig{
			SweepInterval: getenvDuration("SCHEDULER_SWEEP_INTERVAL", 5*time.Minute),
			SweepTimeout:  getenvDuration("SCHEDULER_SWEEP_TIMEOUT", time.Minute),
		},
		CatalogItems: getenv("CATALOG_ITEMS", ""),
	}
}

func normalizeAllowance(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case AllowanceFirstGlobal:
		return AllowanceFirstGlobal
	default:
		return AllowanceFirstPerKind
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
