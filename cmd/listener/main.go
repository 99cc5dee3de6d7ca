package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"eddnlistener/config"
	"eddnlistener/internal/eddn/applier"
	"eddnlistener/internal/eddn/checker"
	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/exporter"
	"eddnlistener/internal/eddn/idcache"
	"eddnlistener/internal/eddn/importer"
	"eddnlistener/internal/eddn/queue"
	"eddnlistener/internal/eddn/relay"
	"eddnlistener/logger"
	"eddnlistener/pkg/eddn"
	"eddnlistener/pkg/storage/postgres"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()
	if cfg.Debug {
		cfg.Log.Level = "debug"
	} else if cfg.Verbose {
		cfg.Log.Level = "info"
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting eddn listener", zap.String("side", cfg.Side))

	store, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
	if err != nil {
		log.Fatal("storage initialization failed", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := coord.New()
	caches := idcache.New()
	imp := importer.New(cfg.Checker, store, log.Named("importer"))
	loader := importer.NewLoader(cfg.Checker, store)

	// First run: pull a snapshot before listening so the id caches have
	// something to resolve against.
	if imp.LastImported().IsZero() {
		log.Info("no local snapshot, importing before listening")
		url := cfg.Checker.FallbackURL
		if cfg.Side == "client" {
			url = cfg.Checker.ListingsURL
		}
		if err := imp.Reconcile(ctx, url); err != nil {
			log.Fatal("initial snapshot import failed", zap.Error(err))
		}
	}
	if err := caches.Rebuild(ctx, loader); err != nil {
		log.Fatal("initial cache build failed", zap.Error(err))
	}

	q := queue.New[*eddn.MarketUpdate](1024)
	var wg sync.WaitGroup

	listener := relay.New(cfg.Relay, eddn.Whitelist(cfg.Whitelist), q, sig, log.Named("relay"))
	listenerErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		listenerErr <- listener.Run()
	}()

	chk := checker.New(cfg.Checker, cfg.Side == "client", imp, caches, loader, sig, log.Named("checker"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		chk.Run(ctx)
	}()

	// Let the checker win the race for the store if a newer snapshot is
	// already waiting, before the applier starts writing live rows.
	time.Sleep(5 * time.Second)

	app := applier.New(store, caches, q, sig, log.Named("applier"))
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Run(ctx)
	}()

	if cfg.Side == "server" {
		exp := exporter.New(cfg.Exporter, store, sig, log.Named("exporter"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			exp.Run(ctx)
		}()
	} else {
		// No exporter to acknowledge the checker; stand in for it.
		sig.SetExporterAck(true)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-stop:
		log.Info("signal received, shutting down", zap.String("signal", s.String()))
	case err := <-listenerErr:
		if err != nil {
			log.Error("listener failed, shutting down", zap.Error(err))
		}
	}

	// Workers finish their in-flight work before exiting; the context is
	// only cancelled once they are all done.
	sig.Shutdown()
	wg.Wait()
	log.Info("all workers stopped")
}
