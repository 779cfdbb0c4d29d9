package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maintenance-portal/service-desk-backend/internal/config"
)

func TestOpen_SQLiteAndMigrate(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "sqlite"
	cfg.Path = filepath.Join(t.TempDir(), "desk.db")

	db, err := Open(cfg, false)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, Migrate(db))
	for _, table := range []string{"service_requests", "service_request_logs", "pipeline_stations", "purchase_orders", "delivery_logs"} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
	// idempotent
	require.NoError(t, Migrate(db))
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	cfg := config.Default().Database
	cfg.Driver = "oracle"
	_, err := Open(cfg, false)
	assert.Error(t, err)
}
