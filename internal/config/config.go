package config

import (
	"errors"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ticket-batch-platform/internal/database"
)

const defaultJWTSecret = "dev-secret-change-in-production"

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Reconcile ReconcileConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Driver   string // postgres (lib/pq) or pgx
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type AuthConfig struct {
	JWTSecret string
	AccessTTL time.Duration
}

// RedisConfig is empty (Addr == "") when no Redis is configured
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	TLS          bool
	DiagnosisTTL time.Duration
}

// RabbitMQConfig is empty (URL == "") when no broker is configured
type RabbitMQConfig struct {
	URL         string
	RepairQueue string
}

type ReconcileConfig struct {
	Concurrency  int
	BatchTimeout time.Duration
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
			Env:  getEnv("ENV", "development"),
		},
		Database: parseDatabaseConfig(),
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTTL: getEnvAsDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		},
		Redis: parseRedisConfig(),
		RabbitMQ: RabbitMQConfig{
			URL:         getEnv("RABBITMQ_URL", getEnv("AMQP_URL", "")),
			RepairQueue: getEnv("BATCH_REPAIR_QUEUE", "batch.status.repaired"),
		},
		Reconcile: ReconcileConfig{
			Concurrency:  getEnvAsInt("RECONCILE_CONCURRENCY", 4),
			BatchTimeout: getEnvAsDuration("RECONCILE_BATCH_TIMEOUT", 10*time.Second),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings that must not reach production
func (c *Config) Validate() error {
	if c.IsProduction() && c.Auth.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set in production")
	}
	if c.Reconcile.Concurrency <= 0 {
		return errors.New("RECONCILE_CONCURRENCY must be greater than 0")
	}
	return nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

// Address returns the host:port the HTTP server listens on
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, s.Port)
}

// Connection converts the settings into database connection parameters
func (d DatabaseConfig) Connection() database.Config {
	return database.Config{
		Driver:   d.Driver,
		URL:      d.URL,
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
	}
}

func parseDatabaseConfig() DatabaseConfig {
	driver := getEnv("DB_DRIVER", "postgres")

	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		config := parseDatabaseURL(databaseURL)
		config.Driver = driver
		return config
	}

	// Fall back to individual environment variables
	return DatabaseConfig{
		Driver:   driver,
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "ticket_batches"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

// parseRedisConfig prefers REDIS_HOST/REDIS_PORT over REDIS_ADDR
func parseRedisConfig() RedisConfig {
	addr := getEnv("REDIS_ADDR", "")
	host, port := getEnv("REDIS_HOST", ""), getEnv("REDIS_PORT", "")
	if host != "" && port != "" {
		addr = net.JoinHostPort(host, port)
	}

	return RedisConfig{
		Addr:         addr,
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvAsInt("REDIS_DB", 0),
		TLS:          getEnvAsBool("REDIS_TLS", false),
		DiagnosisTTL: getEnvAsDuration("DIAGNOSIS_CACHE_TTL", 30*time.Second),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if value == "1" {
			return true
		}
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or whole seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
