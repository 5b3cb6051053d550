package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              string
	Host              string
	Environment       string
	AppSecret         string
	CORSAllowedOrigin string
	Auth              AuthConfig
	Database          DatabaseConfig
	Broker            BrokerConfig
	Sync              SyncConfig
	Limits            LimitsConfig
	Tracing           TracingConfig
	CacheTTL          time.Duration
	HealthTimeout     time.Duration
}

// AuthConfig describes the trusted reverse proxy in front of the admin API.
type AuthConfig struct {
	AdminGroupID      string
	AttestationSecret string
	MaxSkew           time.Duration
}

// Configured reports whether the guard has everything it needs to admit anyone.
func (c *AuthConfig) Configured() bool {
	return c.AdminGroupID != "" && c.AttestationSecret != ""
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	QueryTimeout    time.Duration
}

// Configured reports whether enough settings are present to open the store.
func (c *DatabaseConfig) Configured() bool {
	switch c.Driver {
	case "memory":
		return true
	case "sqlite":
		return c.Name != ""
	default:
		return c.Host != "" && c.Name != ""
	}
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.Driver == "sqlite" {
		return "file:" + c.Name + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)"
	}
	return "host=" + dsnValue(c.Host) +
		" port=" + dsnValue(c.Port) +
		" user=" + dsnValue(c.User) +
		" password=" + dsnValue(c.Password) +
		" dbname=" + dsnValue(c.Name) +
		" sslmode=" + dsnValue(c.SSLMode)
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// dsnValue single-quotes a libpq keyword value.
func dsnValue(s string) string {
	return "'" + dsnEscaper.Replace(s) + "'"
}

type BrokerConfig struct {
	URL      string
	ClientID string
	Username string
	Password string
}

type SyncConfig struct {
	Transport string
	URL       string
	APIKey    string
	Timeout   time.Duration
}

// LimitsConfig bounds everything an untrusted caller can make the server do.
type LimitsConfig struct {
	MaxBodyBytes         int64
	MaxJSONDepth         int
	MaxIdentifierLength  int
	MaxDescriptionLength int
	ListDefaultLimit     int
	ListMaxLimit         int
	ExportMaxRecords     int
	ExportFlushEvery     int
	ExportConcurrency    int
	ExportTimeout        time.Duration
	SyncConcurrency      int
}

type TracingConfig struct {
	Enabled     bool
	Exporter    string
	ServiceName string
}

func Load() *Config {
	godotenv.Load()

	return &Config{
		Port:              getEnv("PORT", "3001"),
		Host:              getEnv("HOST", "0.0.0.0"),
		Environment:       getEnv("APP_ENV", "development"),
		AppSecret:         getEnv("PAYLOAD_SECRET", ""),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", ""),
		Auth: AuthConfig{
			AdminGroupID:      getEnv("AZURE_ADMIN_GROUP_ID", ""),
			AttestationSecret: getEnv("PROXY_ATTESTATION_SECRET", ""),
			MaxSkew:           getEnvDuration("ATTESTATION_MAX_SKEW", 5*time.Minute),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DATABASE_DRIVER", "postgres"),
			Host:            getEnv("DATABASE_HOST", ""),
			Port:            getEnv("DATABASE_PORT", "5432"),
			User:            getEnv("DATABASE_USER", "accountmap"),
			Password:        getEnv("DATABASE_PASSWORD", ""),
			Name:            getEnv("DATABASE_NAME", ""),
			SSLMode:         getEnv("DATABASE_SSLMODE", "disable"),
			MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
			QueryTimeout:    getEnvDuration("DATABASE_QUERY_TIMEOUT", 5*time.Second),
		},
		Broker: BrokerConfig{
			URL:      getEnv("BROKER_URL", ""),
			ClientID: getEnv("BROKER_CLIENT_ID", "accountmap-001"),
			Username: getEnv("BROKER_USERNAME", ""),
			Password: getEnv("BROKER_PASSWORD", ""),
		},
		Sync: SyncConfig{
			Transport: getEnv("SYNC_TRANSPORT", "mqtt"),
			URL:       getEnv("SYNC_URL", ""),
			APIKey:    getEnv("SYNC_API_KEY", ""),
			Timeout:   getEnvDuration("SYNC_TIMEOUT", 25*time.Second),
		},
		Limits: LimitsConfig{
			MaxBodyBytes:         int64(getEnvInt("MAX_BODY_BYTES", 2<<20)),
			MaxJSONDepth:         getEnvInt("MAX_JSON_DEPTH", 4),
			MaxIdentifierLength:  getEnvInt("MAX_IDENTIFIER_LENGTH", 255),
			MaxDescriptionLength: getEnvInt("MAX_DESCRIPTION_LENGTH", 1000),
			ListDefaultLimit:     getEnvInt("LIST_DEFAULT_LIMIT", 50),
			ListMaxLimit:         getEnvInt("LIST_MAX_LIMIT", 100),
			ExportMaxRecords:     getEnvInt("EXPORT_MAX_RECORDS", 5000),
			ExportFlushEvery:     getEnvInt("EXPORT_FLUSH_EVERY", 100),
			ExportConcurrency:    getEnvInt("EXPORT_CONCURRENCY", 2),
			ExportTimeout:        getEnvDuration("EXPORT_TIMEOUT", 2*time.Minute),
			SyncConcurrency:      getEnvInt("SYNC_CONCURRENCY", 1),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvBool("TRACING_ENABLED", false),
			Exporter:    getEnv("TRACING_EXPORTER", "stdout"),
			ServiceName: getEnv("TRACING_SERVICE_NAME", "accountmap"),
		},
		CacheTTL:      getEnvDuration("CACHE_TTL", 5*time.Minute),
		HealthTimeout: getEnvDuration("HEALTH_PROBE_TIMEOUT", 2*time.Second),
	}
}

// Validate lists configuration problems worth a startup warning. None of them
// is fatal: the affected component reports or refuses on its own.
// Messages name the setting's purpose, never its value.
func (c *Config) Validate() []string {
	var problems []string
	if c.AppSecret == "" {
		problems = append(problems, "application secret is not set")
	}
	if !c.Auth.Configured() {
		problems = append(problems, "admin authentication is not configured; admin routes will refuse all requests")
	}
	if !c.Database.Configured() {
		problems = append(problems, "database is not configured; mapping routes will answer 503")
	}
	if c.Database.Driver == "memory" && c.Environment != "development" && c.Environment != "test" {
		problems = append(problems, "in-memory database is for development and tests; data is lost on restart and exports are not streamed")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "memory":
	default:
		problems = append(problems, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	switch c.Sync.Transport {
	case "mqtt":
		if c.Broker.URL == "" {
			problems = append(problems, "broker is not configured; sync will answer 503")
		}
	case "http":
		if c.Sync.URL == "" {
			problems = append(problems, "sync endpoint is not configured; sync will answer 503")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown sync transport %q", c.Sync.Transport))
	}
	if c.Limits.ListDefaultLimit > c.Limits.ListMaxLimit {
		problems = append(problems, "list default limit exceeds list max limit")
	}
	return problems
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return b
}
