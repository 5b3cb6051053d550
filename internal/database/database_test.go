package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slhuckstead/accountmap/internal/config"
)

func TestNew_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:          "sqlite",
		Name:            filepath.Join(t.TempDir(), "mappings.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	}

	db, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM account_mappings`).Scan(&n))
	assert.Equal(t, 0, n)

	// Applying the schema twice is harmless.
	require.NoError(t, Migrate(context.Background(), db, "sqlite3"))
}

func TestDriverName(t *testing.T) {
	name, err := DriverName("sqlite")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", name)

	name, err = DriverName("postgres")
	require.NoError(t, err)
	assert.Equal(t, "postgres", name)

	_, err = DriverName("oracle")
	assert.Error(t, err)
}
