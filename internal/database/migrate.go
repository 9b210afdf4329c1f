package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

// NewMigrator returns a goose provider over the embedded migrations.
func NewMigrator(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	gd, err := dialect.goose()
	if err != nil {
		return nil, err
	}
	fsys, err := Migrations(dialect)
	if err != nil {
		return nil, err
	}
	p, err := goose.NewProvider(gd, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return p, nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	p, err := NewMigrator(db, dialect)
	if err != nil {
		return err
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}
