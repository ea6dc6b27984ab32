// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xelth-com/odoostore/internal/database"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	gormlogger "gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database.
// A single connection keeps every query on the same in-memory schema.
func NewDB(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.Open(sqlite.Open(":memory:"), zap.NewNop(), gormlogger.Silent)
	require.NoError(t, err)

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}
