package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Config holds database configuration
type Config struct {
	Dialect  Dialect
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
	// DSN, when set, is handed to the driver as is.
	DSN string
}

// Connection wraps the database handle together with the dialect it speaks
type Connection struct {
	DB      *sql.DB
	Dialect Dialect
	Schema  string
}

// NewConnection opens and pings a database connection
func NewConnection(ctx context.Context, config Config) (*Connection, error) {
	driver, dsn, err := config.DataSource()
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", config.Dialect, err)
	}

	// Configure pool settings - more conservative to avoid connection issues
	sqlDB.SetMaxOpenConns(5)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Minute * 30)
	sqlDB.SetConnMaxIdleTime(time.Minute * 5)
	if config.Dialect == SQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	// Test the connection
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: sqlDB, Dialect: config.Dialect, Schema: config.EffectiveSchema()}, nil
}

// Close closes the database handle
func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}
	return c.DB.Close()
}

// WithTx executes a function within a database transaction. The transaction
// is rolled back when fn fails, panics, or ctx is cancelled before commit.
func (c *Connection) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(); err != nil {
				log.Printf("Failed to rollback transaction: %v", err)
			}
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// DataSource resolves the driver name and connection string for config.
func (c Config) DataSource() (string, string, error) {
	driver := c.Dialect.DriverName()
	if driver == "" {
		return "", "", fmt.Errorf("unsupported database type %q", c.Dialect)
	}
	if strings.TrimSpace(c.DSN) != "" {
		return driver, c.DSN, nil
	}

	switch c.Dialect {
	case Postgres:
		sslMode := c.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		return driver, fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, sslMode,
		), nil
	case MySQL:
		cfg := mysql.NewConfig()
		cfg.User = c.User
		cfg.Passwd = c.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
		cfg.DBName = c.DBName
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return driver, cfg.FormatDSN(), nil
	case SQLServer:
		query := url.Values{}
		query.Set("database", c.DBName)
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(c.User, c.Password),
			Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
			RawQuery: query.Encode(),
		}
		return driver, u.String(), nil
	case SQLite:
		if c.DBName == "" {
			return "", "", fmt.Errorf("sqlite database requires a file name")
		}
		return driver, "file:" + c.DBName, nil
	}
	return "", "", fmt.Errorf("unsupported database type %q", c.Dialect)
}

// EffectiveSchema returns the configured schema or the dialect default.
func (c Config) EffectiveSchema() string {
	if s := strings.TrimSpace(c.Schema); s != "" {
		return s
	}
	return c.Dialect.DefaultSchema()
}

// DefaultConfig returns a default database configuration
func DefaultConfig() Config {
	return Config{
		Dialect:  Postgres,
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "",
		DBName:   "auditsync",
		SSLMode:  "disable",
	}
}
