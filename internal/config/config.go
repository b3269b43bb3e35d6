package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Store       StoreConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Cache       CacheConfig
	Token       TokenConfig
	Password    PasswordConfig
	IDScheme    string
	Monitor     MonitorConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnableMetrics bool
}

type StoreConfig struct {
	Driver     string
	SQLitePath string
	BoltPath   string
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

type TokenConfig struct {
	Secret    string
	Algorithm string
	TTL       time.Duration
	Issuer    string
}

type PasswordConfig struct {
	Algorithm         string
	BcryptCost        int
	Argon2MemoryKiB   int
	Argon2Iterations  int
	Argon2Parallelism int
	HashConcurrency   int
}

type MonitorConfig struct {
	Schedule string
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env)
// and applies defaults. Call Validate before using the result.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "identity"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "8080"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", false),
		},
		Store: StoreConfig{
			Driver:     strings.ToLower(getString("STORE_DRIVER", DriverPostgres)),
			SQLitePath: getString("SQLITE_PATH", "./data/identity.sqlite"),
			BoltPath:   getString("BOLTDB_PATH", "./data/identity.db"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "identity"),
			User:            getString("DB_USER", "identity"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 5),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Enabled: getBool("CACHE_ENABLED", false),
			TTL:     getDuration("CACHE_TTL", 30*time.Second),
		},
		Token: TokenConfig{
			Secret:    getString("TOKEN_SECRET", os.Getenv("JWT_SECRET")),
			Algorithm: strings.ToUpper(getString("TOKEN_ALGORITHM", "HS256")),
			TTL:       getDuration("TOKEN_TTL", 15*time.Minute),
			Issuer:    getString("TOKEN_ISSUER", "identity"),
		},
		Password: PasswordConfig{
			Algorithm:         strings.ToLower(getString("PASSWORD_ALGORITHM", "bcrypt")),
			BcryptCost:        getInt("BCRYPT_COST", 12),
			Argon2MemoryKiB:   getInt("ARGON2_MEMORY_KIB", 64*1024),
			Argon2Iterations:  getInt("ARGON2_ITERATIONS", 3),
			Argon2Parallelism: getInt("ARGON2_PARALLELISM", 2),
			HashConcurrency:   getInt("HASH_CONCURRENCY", runtime.GOMAXPROCS(0)),
		},
		IDScheme: strings.ToLower(getString("ID_SCHEME", "uuid")),
		Monitor: MonitorConfig{
			Schedule: getString("MONITOR_SCHEDULE", "@every 10s"),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded or is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		panic(err)
	}
	return cfg
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Token.Secret == "" {
		errs = append(errs, errors.New("TOKEN_SECRET is required"))
	}
	switch c.Token.Algorithm {
	case "HS256", "HS384", "HS512":
	default:
		errs = append(errs, fmt.Errorf("TOKEN_ALGORITHM %q is not supported", c.Token.Algorithm))
	}
	if c.Token.TTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite, DriverBolt, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", c.Store.Driver))
	}
	switch c.Password.Algorithm {
	case "bcrypt", "argon2id":
	default:
		errs = append(errs, fmt.Errorf("PASSWORD_ALGORITHM %q is not supported", c.Password.Algorithm))
	}
	if c.Password.BcryptCost < bcrypt.MinCost || c.Password.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be within [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch c.IDScheme {
	case "uuid", "ulid":
	default:
		errs = append(errs, fmt.Errorf("ID_SCHEME %q is not supported", c.IDScheme))
	}
	return errors.Join(errs...)
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
