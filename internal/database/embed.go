package database

import (
	"embed"
	"io/fs"
)

//go:embed migrations/postgres/*.sql migrations/sqlite3/*.sql
var embedMigrations embed.FS

// Migrations returns the migration files for dialect, rooted at their directory.
func Migrations(dialect Dialect) (fs.FS, error) {
	if _, err := dialect.goose(); err != nil {
		return nil, err
	}
	return fs.Sub(embedMigrations, "migrations/"+string(dialect))
}
