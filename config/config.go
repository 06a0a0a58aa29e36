package config

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"marathon-server/storage"
)

// Storage backends accepted in DBBackend.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendMemory   = "memory"
)

// Config holds all configurable server parameters.
type Config struct {
	// DBBackend selects the store: postgres, sqlite or memory.
	DBBackend string `json:"db_backend" env:"DB_BACKEND"`
	// DBURL, when set, is used verbatim instead of the DB_* parts.
	DBURL      string `json:"database_url" env:"DATABASE_URL"`
	DBHost     string `json:"db_host" env:"DB_HOST"`
	DBPort     int    `json:"db_port" env:"DB_PORT"`
	DBName     string `json:"db_name" env:"DB_NAME"`
	DBUser     string `json:"db_user" env:"DB_USER"`
	DBPassword string `json:"db_password" env:"DB_PASSWORD"`
	DBSSLMode  string `json:"db_sslmode" env:"DB_SSLMODE"`
	SQLitePath string `json:"sqlite_path" env:"SQLITE_PATH"`

	DBMaxConns           int `json:"db_max_conns" env:"DB_MAX_CONNS"`
	DBMinConns           int `json:"db_min_conns" env:"DB_MIN_CONNS"`
	DBConnMaxLifetimeSec int `json:"db_conn_max_lifetime_sec" env:"DB_CONN_MAX_LIFETIME_SEC"`
	DBConnMaxIdleSec     int `json:"db_conn_max_idle_sec" env:"DB_CONN_MAX_IDLE_SEC"`
	QueryTimeoutMS       int `json:"query_timeout_ms" env:"QUERY_TIMEOUT_MS"`

	// RedisAddr enables the ranking cache when non-empty.
	RedisAddr     string `json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `json:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `json:"redis_db" env:"REDIS_DB"`
	CacheTTLSec   int    `json:"cache_ttl_sec" env:"CACHE_TTL_SEC"`

	HTTPPort    int    `json:"http_port" env:"HTTP_PORT"`
	AuthBaseURL string `json:"auth_base_url" env:"AUTH_BASE_URL"`

	// LeaderboardWindows lists the windows every run is recorded in. NONE
	// stands for the untagged window.
	LeaderboardWindows []string `json:"leaderboard_windows" env:"LEADERBOARD_WINDOWS" envSeparator:","`
	TopDefaultCount    int      `json:"top_default_count" env:"TOP_DEFAULT_COUNT"`
	TopMaxCount        int      `json:"top_max_count" env:"TOP_MAX_COUNT"`

	WriteWorkers        int `json:"write_workers" env:"WRITE_WORKERS"`
	WriteQueueSize      int `json:"write_queue_size" env:"WRITE_QUEUE_SIZE"`
	WriteMaxRetries     int `json:"write_max_retries" env:"WRITE_MAX_RETRIES"`
	RolloverIntervalSec int `json:"rollover_interval_sec" env:"ROLLOVER_INTERVAL_SEC"`

	LogLevel string `json:"log_level" env:"LOG_LEVEL"`
}

// Defaults returns a Config with all default values.
func Defaults() *Config {
	return &Config{
		DBBackend:            BackendPostgres,
		DBHost:               "localhost",
		DBPort:               5432,
		DBName:               "marathon",
		DBUser:               "marathon",
		DBSSLMode:            "disable",
		SQLitePath:           "marathon.db",
		DBMaxConns:           10,
		DBMinConns:           1,
		DBConnMaxLifetimeSec: 1800,
		DBConnMaxIdleSec:     600,
		QueryTimeoutMS:       5000,
		CacheTTLSec:          60,
		HTTPPort:             8080,
		LeaderboardWindows:   []string{"ALL_TIME", "MONTHLY", "WEEKLY"},
		TopDefaultCount:      10,
		TopMaxCount:          100,
		WriteWorkers:         4,
		WriteQueueSize:       256,
		WriteMaxRetries:      3,
		RolloverIntervalSec:  60,
		LogLevel:             "info",
	}
}

// Load reads configuration from an optional config.json file,
// then applies environment variable overrides. Fields not set
// in either source retain their default values.
func Load() (*Config, error) {
	return LoadFile("config.json")
}

// LoadFile is Load with an explicit JSON path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if f, err := os.Open(path); err == nil {
		defer f.Close()
		if err := json.NewDecoder(f).Decode(cfg); err != nil {
			log.Printf("Warning: failed to parse %s: %v", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.DBBackend {
	case BackendPostgres, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("unknown DB_BACKEND %q", c.DBBackend)
	}
	if c.TopDefaultCount < 1 || c.TopMaxCount < c.TopDefaultCount {
		return fmt.Errorf("invalid top counts: default %d, max %d", c.TopDefaultCount, c.TopMaxCount)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS %d exceeds DB_MAX_CONNS %d", c.DBMinConns, c.DBMaxConns)
	}
	if _, err := c.TimeFrames(); err != nil {
		return err
	}
	return nil
}

// TimeFrames parses LeaderboardWindows, dropping duplicates.
func (c *Config) TimeFrames() ([]storage.TimeFrame, error) {
	seen := make(map[storage.TimeFrame]bool)
	var out []storage.TimeFrame
	for _, raw := range c.LeaderboardWindows {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		tf, err := storage.ParseTimeFrame(raw)
		if err != nil {
			return nil, fmt.Errorf("LEADERBOARD_WINDOWS: %w", err)
		}
		if !seen[tf] {
			seen[tf] = true
			out = append(out, tf)
		}
	}
	return out, nil
}

// PostgresURL returns DBURL if set, otherwise a connection URL assembled from
// the DB_* parts with credentials percent-encoded.
func (c *Config) PostgresURL() string {
	if c.DBURL != "" {
		return c.DBURL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.DBHost + ":" + strconv.Itoa(c.DBPort),
		Path:   "/" + c.DBName,
	}
	if c.DBPassword != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	} else if c.DBUser != "" {
		u.User = url.User(c.DBUser)
	}
	if c.DBSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.DBSSLMode}}.Encode()
	}
	return u.String()
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutMS) * time.Millisecond
}

func (c *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifetimeSec) * time.Second
}

func (c *Config) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.DBConnMaxIdleSec) * time.Second
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

func (c *Config) RolloverInterval() time.Duration {
	return time.Duration(c.RolloverIntervalSec) * time.Second
}
