// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/feedpipe/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/feedpipe/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/feedpipe/pkg/batch/core/config"
)

// DBType is the database type handled by this package.
const DBType = "sqlite"

func init() {
	gormadapter.RegisterDialector(DBType, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the DSN for cfg. Foreign keys and a busy timeout are
// enabled so concurrent writers wait instead of failing with SQLITE_BUSY.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Database == ":memory:" {
		return c.Database
	}
	return "file:" + c.Database + "?_busy_timeout=5000&_foreign_keys=on"
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// NewProvider creates a new DBProvider for SQLite.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, DBType)}
}
