// Package migration applies the embedded schema migrations of the pipeline tables.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/exception"
	"github.com/tigerroll/feedpipe/pkg/batch/support/util/logger"
)

// DefaultMigrationsTable is the version table used by golang-migrate.
const DefaultMigrationsTable = "feedpipe_schema_migrations"

//go:embed resources
var migrationFS embed.FS

// Migrator applies schema migrations to a database connection.
type Migrator interface {
	// Up applies all pending migrations.
	Up(ctx context.Context) error
	// Down rolls every migration back.
	Down(ctx context.Context) error
	// Version returns the current schema version and whether it is dirty.
	Version() (version uint, dirty bool, err error)
}

type migratorImpl struct {
	dbConn    database.DBConnection
	dbType    string
	source    fs.FS
	tableName string
}

// NewMigrator creates a Migrator using the embedded migration files for the
// connection's database type.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn:    dbConn,
		dbType:    dbConn.Type(),
		source:    migrationFS,
		tableName: DefaultMigrationsTable,
	}
}

// getDatabaseDriver returns the migrate driver for the connection. shared reports
// whether the driver owns the pooled *sql.DB, in which case it must never be closed.
func (m *migratorImpl) getDatabaseDriver(ctx context.Context, sqlDB *sql.DB) (driver migratedb.Driver, shared bool, err error) {
	switch m.dbType {
	case "postgres", "mysql":
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, false, err
		}
		if m.dbType == "postgres" {
			driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{MigrationsTable: m.tableName})
		} else {
			driver, err = mysql.WithConnection(ctx, conn, &mysql.Config{MigrationsTable: m.tableName})
		}
		if err != nil {
			_ = conn.Close()
			return nil, false, err
		}
		return driver, false, nil
	case "sqlite":
		driver, err = sqlite.WithInstance(sqlDB, &sqlite.Config{MigrationsTable: m.tableName})
		return driver, true, err
	default:
		return nil, false, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

// getMigrateInstance builds a migrate instance over the pooled connection.
// The returned release func frees what the instance holds without closing the pool.
func (m *migratorImpl) getMigrateInstance(ctx context.Context) (*migrate.Migrate, func(), error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	path := "resources/" + m.dbType
	sourceDriver, err := iofs.New(m.source, path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}

	dbDriver, shared, err := m.getDatabaseDriver(ctx, sqlDB)
	if err != nil {
		_ = sourceDriver.Close()
		return nil, nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		_ = sourceDriver.Close()
		if !shared {
			_ = dbDriver.Close()
		}
		return nil, nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	release := func() {
		if shared {
			_ = sourceDriver.Close()
			return
		}
		if srcErr, dbErr := mInstance.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("Failed to release migration resources: source=%v database=%v", srcErr, dbErr)
		}
	}
	return mInstance, release, nil
}

func (m *migratorImpl) run(ctx context.Context, command string) error {
	const op = "Migrator.run"
	logger.Infof("Executing migration '%s' (DB: %s, Table: %s)", command, m.dbConn.Name(), m.tableName)

	mInstance, release, err := m.getMigrateInstance(ctx)
	if err != nil {
		return exception.NewFatalError(op, "failed to prepare migration", err)
	}
	defer release()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mInstance.GracefulStop <- true
		case <-done:
		}
	}()

	switch command {
	case "up":
		err = mInstance.Up()
	case "down":
		err = mInstance.Down()
	default:
		return exception.NewFatalError(op, "unsupported migration command: "+command, nil)
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if _, dirty, versionErr := mInstance.Version(); versionErr == nil && dirty {
			logger.Errorf("Migration left schema of '%s' dirty.", m.dbConn.Name())
		}
		return exception.NewFatalError(op, fmt.Sprintf("migration '%s' failed for %s", command, m.dbType), err)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

func (m *migratorImpl) Up(ctx context.Context) error {
	return m.run(ctx, "up")
}

func (m *migratorImpl) Down(ctx context.Context) error {
	return m.run(ctx, "down")
}

func (m *migratorImpl) Version() (uint, bool, error) {
	mInstance, release, err := m.getMigrateInstance(context.Background())
	if err != nil {
		return 0, false, err
	}
	defer release()
	return mInstance.Version()
}
