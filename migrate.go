package accounts

import (
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// RunMigrations applies the embedded schema to db. The dialect is sqlite3
// unless one is given.
func RunMigrations(db *sql.DB, dialect ...string) error {
	name := "sqlite3"
	if len(dialect) > 0 && dialect[0] != "" {
		name = dialect[0]
	}

	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)

	goose.SetLogger(gooseLogger{logger: defaultLogger()})

	if err := goose.SetDialect(name); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(db, MigrationsDir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrationVersion reports the current schema version of db.
func MigrationVersion(db *sql.DB) (int64, error) {
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("goose set dialect: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return version, nil
}

type gooseLogger struct {
	logger Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal(fmt.Sprintf(format, v...))
}
