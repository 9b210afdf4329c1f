package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/zahash/mona/internal/audit"
	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/config"
	"github.com/zahash/mona/internal/database"
	"github.com/zahash/mona/internal/httpapi"
	"github.com/zahash/mona/internal/mail"
	"github.com/zahash/mona/internal/migrate"
	"github.com/zahash/mona/internal/obs"
	"github.com/zahash/mona/internal/secrets"
	"github.com/zahash/mona/internal/store/memory"
	"github.com/zahash/mona/internal/store/sqlstore"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	var (
		configPath = flag.StringP("config", "c", os.Getenv("MONA_CONFIG"), "path to YAML config file")
		listen     = flag.String("listen", "", "HTTP listen address")
		grpcListen = flag.String("grpc-listen", "", "gRPC health listen address")
		dsn        = flag.String("dsn", "", "database DSN (postgres://... or sqlite:<path>)")
		dev        = flag.Bool("dev", false, "use an in-memory store when no DSN is set")
		logLevel   = flag.String("log-level", "", "debug, info, warn or error")
		migrateUp  = flag.Bool("migrate", true, "apply pending migrations and seed the permission catalog on start")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath, func(c *config.Config) {
		if *listen != "" {
			c.ListenAddr = *listen
		}
		if flag.CommandLine.Changed("grpc-listen") {
			c.GRPCAddr = *grpcListen
		}
		if *dsn != "" {
			c.DatabaseDSN = *dsn
		}
		if *dev {
			c.Dev = true
		}
		if *logLevel != "" {
			c.LogLevel = *logLevel
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	obs.ConfigureLogger(os.Stdout, cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrateUp); err != nil {
		obs.Logger().Error("mona_api_failed", "error", err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, migrateUp bool) error {
	log := obs.Logger()

	store, closeStore, err := openStore(ctx, cfg, migrateUp)
	if err != nil {
		return err
	}
	defer closeStore()

	keys, err := secrets.Open(cfg.Secrets)
	if err != nil {
		return err
	}

	svc, err := auth.NewService(store,
		auth.WithSecrets(keys),
		auth.WithMailer(mail.LogSender{}),
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithVerificationTTL(cfg.VerificationTTL),
		auth.WithBaseURL(cfg.BaseURL),
		auth.WithAuditHook(audit.PermissionChange),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}

	api := httpapi.New(svc,
		httpapi.WithVersion(version),
		httpapi.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		httpapi.WithCORSOrigins(cfg.CORSAllowedOrigins),
	)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http_listening", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})

	if grpcLis != nil {
		gs := grpc.NewServer()
		reporter := httpapi.NewHealthReporter(svc)
		reporter.Register(gs)

		g.Go(func() error {
			log.Info("grpc_listening", "addr", grpcLis.Addr().String())
			return gs.Serve(grpcLis)
		})
		g.Go(func() error {
			return reporter.Run(gctx, 5*time.Second)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting_down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Info("stopped")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, migrateUp bool) (auth.Store, func(), error) {
	if cfg.DatabaseDSN == "" {
		obs.Logger().Warn("using_in_memory_store", "reason", "no database_dsn in dev mode")
		st := memory.New()
		perms := st.Permissions()
		if err := perms.Ensure(ctx, auth.BuiltinPermissions); err != nil {
			return nil, nil, err
		}
		if err := perms.EnsureGroup(ctx, auth.GroupSignup, auth.SignupPermissions); err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	}

	db, dialect, err := database.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, err
	}
	if migrateUp {
		mgr := migrate.NewManager(db, dialect)
		applied, err := mgr.Up(ctx)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		if err := mgr.SeedCatalog(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("seed catalog: %w", err)
		}
		obs.Logger().Info("migrations_applied", "count", len(applied), "dialect", string(dialect))
	}
	return sqlstore.New(db), func() { _ = db.Close() }, nil
}
