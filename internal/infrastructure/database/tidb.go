package database

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config holds the DSN parts of a MySQL/TiDB connection
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string

	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// TiDBConnection wraps the pooled *sql.DB.
// sql.DB is already thread-safe and manages its own pool; it is not wrapped
// in additional mutexes.
type TiDBConnection struct {
	db *sql.DB
}

var tlsOnce sync.Once

// Open connects to the database and verifies the connection with a ping
func Open(ctx context.Context, cfg Config) (*TiDBConnection, error) {
	db, err := sql.Open("mysql", DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// MaxIdleConns matches MaxOpenConns so connections are kept alive instead
	// of being closed and reopened under load.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 100
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)

	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	idle := cfg.ConnMaxIdleTime
	if idle <= 0 {
		idle = 3 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)
	db.SetConnMaxIdleTime(idle)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &TiDBConnection{db: db}, nil
}

// DSN builds the driver DSN. Remote hosts get a registered TLS config.
func DSN(cfg Config) string {
	port := cfg.Port
	if port == "" {
		port = "4000"
	}
	name := cfg.Database
	if name == "" {
		name = "nexusflow"
	}

	tlsParam := ""
	if cfg.Host != "" && cfg.Host != "127.0.0.1" && cfg.Host != "localhost" {
		tlsOnce.Do(func() {
			if err := mysql.RegisterTLSConfig("tidb", &tls.Config{
				MinVersion: tls.VersionTLS12,
				ServerName: cfg.Host,
			}); err != nil {
				log.Printf("⚠️ Failed to register TLS config: %v", err)
			}
		})
		tlsParam = "&tls=tidb"
	}

	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC&clientFoundRows=true%s",
		cfg.User, cfg.Password, cfg.Host, port, name, tlsParam)
}

// DB returns the underlying *sql.DB
func (c *TiDBConnection) DB() *sql.DB {
	return c.db
}

// Ping checks the connection is alive
func (c *TiDBConnection) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database connection
func (c *TiDBConnection) Close() error {
	return c.db.Close()
}
