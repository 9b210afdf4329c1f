package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/config"
	"github.com/zahash/mona/internal/database"
	"github.com/zahash/mona/internal/mail"
	"github.com/zahash/mona/internal/secrets"
	"github.com/zahash/mona/internal/store/sqlstore"
)

// env is shared by every subcommand. Connections are opened lazily.
type env struct {
	configPath string
	dsn        string

	cfg     *config.Config
	db      *sql.DB
	dialect database.Dialect
}

func (e *env) config() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load(e.configPath, func(c *config.Config) {
		if e.dsn != "" {
			c.DatabaseDSN = e.dsn
		}
		// authctl always works against a real database.
		c.Dev = false
	})
	if err != nil {
		return nil, err
	}
	e.cfg = cfg
	return cfg, nil
}

func (e *env) open(ctx context.Context) (*sql.DB, database.Dialect, error) {
	if e.db != nil {
		return e.db, e.dialect, nil
	}
	cfg, err := e.config()
	if err != nil {
		return nil, "", err
	}
	db, dialect, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, "", err
	}
	e.db, e.dialect = db, dialect
	return db, dialect, nil
}

func (e *env) store(ctx context.Context) (*sqlstore.Store, error) {
	db, _, err := e.open(ctx)
	if err != nil {
		return nil, err
	}
	return sqlstore.New(db), nil
}

func (e *env) service(ctx context.Context) (*auth.Service, *sqlstore.Store, error) {
	st, err := e.store(ctx)
	if err != nil {
		return nil, nil, err
	}
	cfg, _ := e.config()
	keys, err := secrets.Open(cfg.Secrets)
	if err != nil {
		return nil, nil, err
	}
	svc, err := auth.NewService(st,
		auth.WithSecrets(keys),
		auth.WithMailer(mail.LogSender{}),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithVerificationTTL(cfg.VerificationTTL),
		auth.WithBaseURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, nil, err
	}
	return svc, st, nil
}

func (e *env) close() {
	if e.db != nil {
		_ = e.db.Close()
		e.db = nil
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}

	root := &cobra.Command{
		Use:           "authctl",
		Short:         "Operate the mona identity service",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(*cobra.Command, []string) {
			e.close()
		},
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&e.dsn, "dsn", "", "database DSN (overrides config and MONA_DATABASE_DSN)")

	root.AddCommand(
		newMigrateCmd(e),
		newSeedCmd(e),
		newRotateKeyCmd(e),
		newCreateUserCmd(e),
		newGrantCmd(e),
		newSessionsCmd(e),
		newAuditCmd(e),
	)
	return root
}
