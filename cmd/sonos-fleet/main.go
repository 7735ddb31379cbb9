package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/colmturner/sonos-fleet-go/internal/config"
	"github.com/colmturner/sonos-fleet-go/internal/db"
	"github.com/colmturner/sonos-fleet-go/internal/fleet"
	"github.com/colmturner/sonos-fleet-go/internal/gateway"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/events"
	"github.com/colmturner/sonos-fleet-go/internal/gateway/soap"
	"github.com/colmturner/sonos-fleet-go/internal/library"
	"github.com/colmturner/sonos-fleet-go/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := log.Default()

	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	pair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		log.Fatalf("database init error: %v", err)
	}
	markStarted(pair)

	repo := library.NewRepository(pair, cfg.LibraryPrefix, cfg.MinSearchWord)
	scanner := library.NewScanner(repo, cfg.LibraryRoot, cfg.LibraryPrefix, logger)
	go func() {
		if err := scanner.Scan(); err != nil {
			log.Printf("LIBRARY: initial scan: %v", err)
		}
	}()

	var watcher *library.Watcher
	if cfg.LibraryWatch {
		watcher = library.NewWatcher(scanner, cfg.LibraryRoot, logger)
		if err := watcher.Start(); err != nil {
			log.Printf("LIBRARY: watch disabled: %v", err)
			watcher = nil
		}
	}

	housekeeper := db.NewHousekeeper(pair, time.Duration(cfg.ChangeRetentionHr)*time.Hour, logger)
	if err := housekeeper.Start(cfg.PruneCronSpec); err != nil {
		log.Fatalf("housekeeping init error: %v", err)
	}
	if err := housekeeper.AddJob(cfg.RescanCronSpec, func() {
		if err := scanner.Scan(); err != nil {
			log.Printf("LIBRARY: scheduled rescan: %v", err)
		}
	}); err != nil {
		log.Fatalf("rescan schedule error: %v", err)
	}

	soapClient := soap.NewClient(cfg.DeviceTimeout())
	eventManager := events.NewManager(logger, cfg.EventCallbackPort)
	if err := eventManager.Start(); err != nil {
		log.Fatalf("event manager error: %v", err)
	}

	model := fleet.NewModel(
		fleet.NewSQLStore(pair),
		repo,
		func(address string) fleet.Device {
			return gateway.NewDevice(address, soapClient, eventManager)
		},
		fleet.Options{
			CallRetries:    cfg.CallRetries,
			CallRetryDelay: cfg.CallRetryDelay(),
			VerifyTries:    cfg.VerifyTries,
			VerifyDelay:    cfg.VerifyDelay(),
			DeviceTimeout:  cfg.DeviceTimeout(),
			IdleTimeout:    cfg.IdleTimeout(),
			CommandPoll:    cfg.CommandPoll(),
			TrackPrefix:    cfg.LibraryPrefix,
		},
		logger,
	)

	discoverer := gateway.NewDiscoverer(soapClient, cfg.StaticDeviceIPs, logger)
	bootstrapCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	addresses, err := discoverer.Discover(bootstrapCtx)
	if err != nil {
		log.Printf("DISCOVERY: %v", err)
	}
	if len(addresses) > 0 {
		if err := model.Bootstrap(bootstrapCtx, addresses); err != nil {
			log.Printf("FLEET: bootstrap: %v", err)
		}
	} else {
		log.Printf("DISCOVERY: no devices found, starting with an empty fleet")
	}
	cancel()
	model.Start()

	handler := server.NewHandler(cfg, server.Deps{
		Engine:  server.ModelEngine{Model: model},
		Library: repo,
		DB:      pair,
		Rescan:  scanner.Scan,
		Logger:  logger,
	})

	addr := cfg.Host + ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-shutdownCh
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		model.Stop(ctx)
		if watcher != nil {
			watcher.Stop()
		}
		housekeeper.Stop()
		if err := eventManager.Stop(ctx); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := pair.Close(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
	}()

	log.Printf("sonos-fleet listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

func markStarted(pair *db.DBPair) {
	_, err := pair.Writer().Exec(
		`INSERT INTO system_status (key, value) VALUES ('started_at', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		log.Printf("DB: record start time: %v", err)
	}
}
