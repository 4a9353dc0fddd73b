package test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/feedpipe/pkg/batch/infrastructure/migration"
)

// NewSQLiteConnection opens an in-memory SQLite database with the pipeline schema applied.
// The pool is limited to one connection so every statement sees the same memory database.
func NewSQLiteConnection(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	conn := NewBareSQLiteConnection(t)
	require.NoError(t, migration.NewMigrator(conn).Up(context.Background()))
	return conn
}

// NewBareSQLiteConnection opens an in-memory SQLite database without any schema.
func NewBareSQLiteConnection(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: ":memory:",
		Pool:     dbconfig.PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}
	db, err := gormadapter.Open(cfg)
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, cfg, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// NewMockConnection returns a MySQL-dialect connection backed by go-sqlmock,
// for asserting the SQL a repository issues.
func NewMockConnection(t *testing.T) (*gormadapter.GormDBAdapter, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gormadapter.NewGormLogger("SILENT")})
	require.NoError(t, err)

	conn, err := gormadapter.NewGormDBAdapter(db, dbconfig.DatabaseConfig{Type: "mysql"}, "mock")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn, mock
}

// SQLiteFixture seeds catalog rows into a test database.
type SQLiteFixture struct {
	Conn *gormadapter.GormDBAdapter
}

// InsertBrand adds a mall_brands row. An empty destination leaves buyma_brand_name NULL.
func (f *SQLiteFixture) InsertBrand(t *testing.T, mall, source, destination string, active bool) {
	t.Helper()
	var dest interface{}
	if destination != "" {
		dest = destination
	}
	isActive := 0
	if active {
		isActive = 1
	}
	err := f.Conn.GetGormDB().Exec(
		"INSERT INTO mall_brands (mall_name, mall_brand_name_en, buyma_brand_name, is_active) VALUES (?, ?, ?, ?)",
		mall, source, dest, isActive,
	).Error
	require.NoError(t, err)
}
