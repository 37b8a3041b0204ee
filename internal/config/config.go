package config

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the API process.
type Config struct {
	Port        string
	GinMode     string
	Environment string
	LogLevel    string
	JWTSecret   string
	JWTTTL      time.Duration
	CORSOrigins []string

	// AdminEmail/AdminPassword create the first ADMIN account on an empty users table.
	AdminEmail    string
	AdminPassword string

	DB     DBConfig
	Ledger LedgerConfig

	KafkaBrokers []string
	KafkaTopic   string
	OTLPEndpoint string
}

// DBConfig describes the PostgreSQL connection.
type DBConfig struct {
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LedgerConfig tunes the billing and return transactions.
type LedgerConfig struct {
	BillPrefix        string
	Isolation         sql.IsolationLevel
	TxTimeout         time.Duration
	MaxRetries        uint64
	LowStockThreshold int
}

// DSN builds the postgres connection string, preferring DATABASE_URL when set.
func (c DBConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// Load reads configs/.env (if present) and the process environment.
func Load() *Config {
	if err := godotenv.Load("configs/.env"); err != nil {
		slog.Info("No configs/.env file found, using process environment")
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		GinMode:       getEnv("GIN_MODE", "debug"),
		Environment:   getEnv("ENVIRONMENT", "development"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTTTL:        getDuration("JWT_TTL", 24*time.Hour),
		AdminEmail:    os.Getenv("ADMIN_EMAIL"),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
		CORSOrigins:   splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173")),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "pharmacy.ledger.events"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DB: DBConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Name:            getEnv("DB_NAME", "postgres"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Ledger: LedgerConfig{
			BillPrefix:        strings.ToUpper(getEnv("BILL_PREFIX", "MC")),
			Isolation:         ParseIsolation(getEnv("LEDGER_ISOLATION", "read_committed")),
			TxTimeout:         getDuration("LEDGER_TX_TIMEOUT", 10*time.Second),
			MaxRetries:        uint64(getInt("LEDGER_MAX_RETRIES", 3)),
			LowStockThreshold: getInt("LOW_STOCK_THRESHOLD", 10),
		},
	}

	if cfg.JWTSecret == "" {
		if cfg.GinMode == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		cfg.JWTSecret = "default_super_secret_key"
	}

	return cfg
}

// ParseIsolation maps a LEDGER_ISOLATION value to a database/sql level.
// Unknown values fall back to read committed: every ledger read-then-write
// holds a row lock, and stricter levels turn lock waits on the shared bill
// counter into 40001 failures.
func ParseIsolation(v string) sql.IsolationLevel {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "read_committed", "read-committed", "":
		return sql.LevelReadCommitted
	case "repeatable_read", "repeatable-read":
		return sql.LevelRepeatableRead
	case "serializable":
		return sql.LevelSerializable
	default:
		slog.Warn("Unknown LEDGER_ISOLATION, using read_committed", "value", v)
		return sql.LevelReadCommitted
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		slog.Warn("Invalid integer setting, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("Invalid duration setting, using default", "key", key, "value", v, "default", fallback.String())
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
