// nickeld es el daemon del key manager: expone la API HTTP local sobre
// el orquestador de llaves.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/dropDatabas3/nickel/internal/api"
	"github.com/dropDatabas3/nickel/internal/config"
	"github.com/dropDatabas3/nickel/internal/events"
	"github.com/dropDatabas3/nickel/internal/keystore"
	fsstore "github.com/dropDatabas3/nickel/internal/keystore/fs"
	pgstore "github.com/dropDatabas3/nickel/internal/keystore/pg"
	"github.com/dropDatabas3/nickel/internal/manager"
	"github.com/dropDatabas3/nickel/internal/metrics"
	"github.com/dropDatabas3/nickel/internal/observability/logger"
	"github.com/dropDatabas3/nickel/internal/scheme"
	"github.com/dropDatabas3/nickel/internal/scheme/openpgp"
)

func main() {
	var (
		cfgPath = flag.String("config", "configs/config.yaml", "ruta al YAML de configuración")
		envFile = flag.String("env", "", "archivo .env opcional")
	)
	flag.Parse()

	// .env primero para que los overrides NICKEL_* estén al cargar config.
	if *envFile != "" {
		_ = godotenv.Load(*envFile)
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.L().Fatal("config", logger.Err(err))
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "nickeld",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		log.Fatal("metrics", logger.Err(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatal("keystore", logger.Err(err))
	}

	registry := scheme.NewRegistry()
	registry.Register(openpgp.New(store, openpgp.Config{}))

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event, address string) {
		log.Debug("event", logger.Component(string(ev)), logger.Address(address))
	})

	mgr, err := manager.New(manager.Config{
		Address:       cfg.Manager.Address,
		NickserverURI: cfg.Nickserver.URI,
		CACertPath:    cfg.Nickserver.CACert,
		APIURI:        cfg.API.URI,
		APIVersion:    cfg.API.Version,
		UID:           cfg.Manager.UID,
		Token:         cfg.API.Token,
		CacheTTL:      cfg.Nickserver.CacheTTL,
	}, registry, bus)
	if err != nil {
		log.Fatal("manager", logger.Err(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(mgr, reg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", logger.Component("api"), zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("serve", logger.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", logger.Err(err))
	}
}

// buildStore arma el keystore según storage.driver.
func buildStore(ctx context.Context, cfg *config.Config) (keystore.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return keystore.NewMemory(), nil
	case "postgres":
		s, err := pgstore.New(ctx, cfg.Storage.Postgres.DSN, pgstore.Config{
			MaxConns:        cfg.Storage.Postgres.MaxConns,
			MinConns:        cfg.Storage.Postgres.MinConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		s, err := fsstore.New(cfg.Storage.FS.Path)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}
