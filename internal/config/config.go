// Package config holds runtime configuration for bigdump.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Default knobs. Line/time budgets apply to staggered invocations only;
// CLI mode runs unbounded.
const (
	DefaultLinesPerSession = 3000
	DefaultTimeBudgetSecs  = 25
	DefaultBufferSize      = 128 * 1024
	DefaultBatchMaxRows    = 500
	DefaultBatchMaxBytes   = 1024 * 1024

	postgresDefaultPort = 5432
	mysqlDefaultPort    = 3306
)

// Config holds all configuration options
type Config struct {
	// Version information
	Version   string
	BuildTime string
	GitCommit string

	// Database connection
	Host         string
	Port         int
	User         string
	Database     string
	Password     string
	DatabaseType string // "mysql" or "postgres"

	// Import budgets (staggered mode)
	LinesPerSession int // lines per invocation, 0 = unbounded
	TimeBudgetSecs  int // seconds per invocation, 0 = unbounded

	// Stream reader
	BufferSize int // clamped to [64 KiB, 256 KiB] by the reader

	// Insert batching
	BatchMaxRows  int
	BatchMaxBytes int64

	// Tuning
	Profile string // "conservative" or "aggressive"

	// Session persistence
	SessionDir string // directory for staggered-session checkpoint files

	// Output options
	NoColor   bool
	Debug     bool
	LogLevel  string
	LogFormat string
}

// New creates a new configuration with default values, honoring env vars
// the same way the database clients themselves do.
func New() *Config {
	dbType := strings.ToLower(getEnvString("DB_TYPE", "mysql"))
	if dbType != "mysql" && dbType != "postgres" {
		dbType = "mysql"
	}

	host := getEnvString("DB_HOST", "localhost")
	port := getEnvInt("DB_PORT", mysqlDefaultPort)
	user := getEnvString("DB_USER", "root")
	password := getEnvString("MYSQL_PWD", "")
	if dbType == "postgres" {
		port = getEnvInt("DB_PORT", postgresDefaultPort)
		user = getEnvString("DB_USER", "postgres")
		password = getEnvString("PGPASSWORD", password)
	}

	return &Config{
		Host:         host,
		Port:         port,
		User:         user,
		Database:     getEnvString("DB_DATABASE", ""),
		Password:     password,
		DatabaseType: dbType,

		LinesPerSession: getEnvInt("BIGDUMP_LINES_PER_SESSION", DefaultLinesPerSession),
		TimeBudgetSecs:  getEnvInt("BIGDUMP_TIME_BUDGET", DefaultTimeBudgetSecs),
		BufferSize:      getEnvInt("BIGDUMP_BUFFER_SIZE", DefaultBufferSize),
		BatchMaxRows:    getEnvInt("BIGDUMP_BATCH_ROWS", DefaultBatchMaxRows),
		BatchMaxBytes:   int64(getEnvInt("BIGDUMP_BATCH_BYTES", DefaultBatchMaxBytes)),
		Profile:         getEnvString("BIGDUMP_PROFILE", "conservative"),
		SessionDir:      getEnvString("BIGDUMP_SESSION_DIR", os.TempDir()),

		NoColor:   getEnvBool("NO_COLOR", false),
		Debug:     getEnvBool("BIGDUMP_DEBUG", false),
		LogLevel:  getEnvString("BIGDUMP_LOG_LEVEL", "info"),
		LogFormat: getEnvString("BIGDUMP_LOG_FORMAT", "text"),
	}
}

// DSN builds a driver DSN from the connection fields.
func (c *Config) DSN() string {
	switch c.DatabaseType {
	case "postgres":
		return "postgres://" + c.User + ":" + c.Password + "@" +
			c.Host + ":" + strconv.Itoa(c.Port) + "/" + c.Database
	default:
		return c.User + ":" + c.Password + "@tcp(" +
			c.Host + ":" + strconv.Itoa(c.Port) + ")/" + c.Database
	}
}

// DriverName maps the database type to its database/sql driver.
func (c *Config) DriverName() string {
	if c.DatabaseType == "postgres" {
		return "pgx"
	}
	return "mysql"
}

func getEnvString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
