package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// Supported database/sql driver names
const (
	DriverPQ  = "postgres"
	DriverPGX = "pgx"
)

type DB struct {
	*sql.DB
}

type Config struct {
	// Driver is DriverPQ (default) or DriverPGX
	Driver   string
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DSN returns the connection string, preferring the full URL
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

func NewConnection(ctx context.Context, config Config) (*DB, error) {
	driver := config.Driver
	switch driver {
	case "":
		driver = DriverPQ
	case DriverPQ, DriverPGX:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle, lifetime := config.MaxOpenConns, config.MaxIdleConns, config.ConnMaxLifetime
	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}

// RunMigrations runs all pending database migrations
func (db *DB) RunMigrations(ctx context.Context, logger *slog.Logger) (int, error) {
	return NewMigrator(db.DB, logger).RunMigrations(ctx)
}

// MigrationStatus lists the known migrations and whether they are applied
func (db *DB) MigrationStatus(ctx context.Context) ([]MigrationStatus, error) {
	return NewMigrator(db.DB, nil).Status(ctx)
}
