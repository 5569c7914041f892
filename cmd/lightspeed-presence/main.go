package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-presence/config"
	"github.com/tcriess/lightspeed-presence/globals"
	"github.com/tcriess/lightspeed-presence/kvstore"
	"github.com/tcriess/lightspeed-presence/persistence"
	"github.com/tcriess/lightspeed-presence/presence"
	"github.com/tcriess/lightspeed-presence/service"
	"github.com/tcriess/lightspeed-presence/session"
	"github.com/tcriess/lightspeed-presence/throttle"
	"github.com/tcriess/lightspeed-presence/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "ws service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	if err := run(cfg); err != nil {
		globals.AppLogger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := globals.AppLogger
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the presence caches and the memory kv store live in this process, a second server on the same store
	// would see different rosters and counters
	if cfg.PersistenceConfig.LockPath != "" {
		lock := flock.New(cfg.PersistenceConfig.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return err
		}
		if !locked {
			return errors.Errorf("lock %s is held by another process", cfg.PersistenceConfig.LockPath)
		}
		defer lock.Unlock()
	}

	clk := clock.New()
	store, err := persistence.NewPersister(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := service.Prepare(store, cfg.DefaultGroupName, clk.Now(), logger.Named("startup")); err != nil {
		return err
	}

	kv, err := kvstore.Open(ctx, cfg.KVConfig, clk)
	if err != nil {
		return err
	}
	defer kv.Close()

	cache, err := presence.NewCache(store, cfg.PresenceConfig.TTL, cfg.PresenceConfig.Size, clk, logger.Named("presence"))
	if err != nil {
		return err
	}
	status, err := presence.NewStatusCache(store, cfg.PresenceConfig.TTL, cfg.PresenceConfig.Size, clk)
	if err != nil {
		return err
	}

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if mem, ok := kv.(*kvstore.MemoryStore); ok && cfg.KVConfig.SweepSpec != "" {
		_, err := cronRunner.AddFunc(cfg.KVConfig.SweepSpec, func() {
			if n := mem.Sweep(); n > 0 {
				logger.Debug("swept expired kv entries", "count", n)
			}
		})
		if err != nil {
			return err
		}
	}
	if _, err := cronRunner.AddFunc("@every "+cfg.PresenceConfig.TTL.String(), func() {
		if n := status.Purge(); n > 0 {
			logger.Trace("purged online status entries", "count", n)
		}
	}); err != nil {
		return err
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	hub := ws.NewHub(store, logger.Named("hub"))
	go hub.Run(ctx)

	deps := &service.Deps{
		Config:   cfg,
		Store:    store,
		KV:       kv,
		Signer:   session.NewSigner(cfg.JWTSecret, cfg.TokenLifetime, clk),
		Throttle: throttle.New(kv, cfg.ThrottleConfig.Limit, cfg.ThrottleConfig.Window, logger.Named("throttle")),
		Presence: cache,
		Status:   status,
		Rooms:    hub,
		Clock:    clk,
		Logger:   logger.Named("service"),
	}
	dispatcher := ws.NewDispatcher(&ws.Services{
		Auth:   service.NewAuthService(deps),
		Groups: service.NewGroupService(deps),
		Users:  service.NewUserService(deps),
	}, logger.Named("dispatch"))
	server := ws.NewServer(hub, dispatcher, store, clk, cfg.TransportConfig.RequestsPerSecond, logger.Named("ws"))

	router := mux.NewRouter()
	router.Handle("/ws", server).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"connections": hub.NoClients()})
	}).Methods(http.MethodGet)

	httpServer := &http.Server{Addr: *addr, Handler: router}
	errChan := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", *addr)
		if *sslCert != "" && *sslKey != "" {
			errChan <- httpServer.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			errChan <- httpServer.ListenAndServe()
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
