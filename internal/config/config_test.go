package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, 255, cfg.Limits.MaxIdentifierLength)
	assert.Equal(t, 100, cfg.Limits.ListMaxLimit)
	assert.Equal(t, 5000, cfg.Limits.ExportMaxRecords)
	assert.Equal(t, int64(2<<20), cfg.Limits.MaxBodyBytes)
	assert.Equal(t, 25*time.Second, cfg.Sync.Timeout)
	assert.False(t, cfg.Database.Configured())
	assert.False(t, cfg.Auth.Configured())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("AZURE_ADMIN_GROUP_ID", "admins")
	t.Setenv("PROXY_ATTESTATION_SECRET", "s3cret")
	t.Setenv("DATABASE_HOST", "db")
	t.Setenv("DATABASE_NAME", "mappings")
	t.Setenv("LIST_MAX_LIMIT", "250")
	t.Setenv("SYNC_TIMEOUT", "3s")
	t.Setenv("TRACING_ENABLED", "true")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.True(t, cfg.Auth.Configured())
	assert.True(t, cfg.Database.Configured())
	assert.Equal(t, 250, cfg.Limits.ListMaxLimit)
	assert.Equal(t, 3*time.Second, cfg.Sync.Timeout)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_IgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("LIST_MAX_LIMIT", "lots")
	t.Setenv("EXPORT_TIMEOUT", "-1s")

	cfg := Load()

	assert.Equal(t, 100, cfg.Limits.ListMaxLimit)
	assert.Equal(t, 2*time.Minute, cfg.Limits.ExportTimeout)
}

func TestDatabaseConfig_Configured(t *testing.T) {
	assert.True(t, (&DatabaseConfig{Driver: "memory"}).Configured())
	assert.True(t, (&DatabaseConfig{Driver: "sqlite", Name: "/tmp/x.db"}).Configured())
	assert.False(t, (&DatabaseConfig{Driver: "sqlite"}).Configured())
	assert.False(t, (&DatabaseConfig{Driver: "postgres", Host: "db"}).Configured())
}

func TestValidate_NeverEchoesSecrets(t *testing.T) {
	cfg := Load()
	cfg.Database.Password = "hunter2"
	cfg.Sync.Transport = "carrier-pigeon"

	problems := cfg.Validate()
	require.NotEmpty(t, problems)

	joined := strings.Join(problems, "\n")
	assert.Contains(t, joined, "application secret is not set")
	assert.Contains(t, joined, "carrier-pigeon")
	assert.NotContains(t, joined, "hunter2")
	assert.NotContains(t, joined, "PAYLOAD_SECRET")
}

func TestDatabaseConfig_ConnectionStringQuotesValues(t *testing.T) {
	cfg := DatabaseConfig{
		Driver:   "postgres",
		Host:     "db",
		Port:     "5432",
		User:     "accountmap",
		Password: `pa ss'wo\rd`,
		Name:     "mappings",
		SSLMode:  "disable",
	}

	assert.Equal(t,
		`host='db' port='5432' user='accountmap' password='pa ss\'wo\\rd' dbname='mappings' sslmode='disable'`,
		cfg.ConnectionString())
}

func TestValidate_MemoryDriverOutsideDevelopment(t *testing.T) {
	cfg := Load()
	cfg.Database.Driver = "memory"

	cfg.Environment = "development"
	assert.NotContains(t, strings.Join(cfg.Validate(), "\n"), "in-memory database")

	cfg.Environment = "production"
	assert.Contains(t, strings.Join(cfg.Validate(), "\n"), "in-memory database is for development and tests")
}
