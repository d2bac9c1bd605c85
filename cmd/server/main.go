package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jared-cannon/homelab-launchpad/internal/config"
	"github.com/jared-cannon/homelab-launchpad/internal/docker"
	"github.com/jared-cannon/homelab-launchpad/internal/logging"
	"github.com/jared-cannon/homelab-launchpad/internal/middleware"
	"github.com/jared-cannon/homelab-launchpad/internal/models"
	"github.com/jared-cannon/homelab-launchpad/internal/process"
	"github.com/jared-cannon/homelab-launchpad/internal/services"
	"github.com/jared-cannon/homelab-launchpad/internal/store"
	"github.com/jared-cannon/homelab-launchpad/internal/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// "server token" prints a bearer token for the API and exits
	if len(os.Args) > 1 && os.Args[1] == "token" {
		token, err := middleware.GenerateToken(cfg.AppKey, "admin", middleware.DefaultTokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	if err := logging.Init(cfg.IsProduction(), cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer logging.Sync()

	if err := run(cfg); err != nil {
		logging.Named("main").Errorf("Server exited: %v", err)
		logging.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logging.Named("main")

	if err := os.MkdirAll(cfg.AppsDir, 0755); err != nil {
		return fmt.Errorf("failed to create apps directory: %w", err)
	}

	apps, err := store.OpenApplicationRegistry(cfg.AppsFile)
	if err != nil {
		return err
	}
	portRegistry, err := store.OpenPortRegistry(cfg.PortsFile, models.PortRange{Start: cfg.PortRangeStart, End: cfg.PortRangeEnd})
	if err != nil {
		return err
	}
	db, err := store.OpenDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	history := store.NewDeploymentStore(db)
	log.Infof("Data stores opened under %s", cfg.DataDir)

	creds, err := services.NewCredentialService(services.KeyringOptions{
		Backend:  cfg.KeyringBackend,
		Dir:      cfg.KeyringDir,
		Password: cfg.KeyringPassword,
	})
	if err != nil {
		return err
	}

	engineClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		return err
	}
	defer engineClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := services.NewMetrics(registry)

	ports := services.NewPortAllocator(portRegistry, services.ListenChecker{}, metrics)
	if n := ports.Reconcile(apps.IDs()); n > 0 {
		log.Infof("Released %d port allocations without an application", n)
	}

	hub := websocket.NewHub()
	go hub.Run()

	runner := process.NewExecRunner()
	git := services.NewGitSourceResolver(runner, cfg.GitBin, cfg.CloneTimeout)
	engine := services.NewDeploymentEngine(apps, history, ports, git, creds, runner, engineClient, hub, metrics, services.EngineOptions{
		DockerBin:    cfg.DockerBin,
		AppsDir:      cfg.AppsDir,
		HistoryLimit: cfg.DeploymentHistoryLimit,
	})
	if n, err := engine.MarkInterrupted(); err != nil {
		log.Warnf("Failed to mark interrupted deployments: %v", err)
	} else if n > 0 {
		log.Infof("Marked %d interrupted deployments as failed", n)
	}

	app := newApp(cfg, deps{
		applications: services.NewApplicationService(apps, ports, creds, engine, hub, cfg.AppsDir),
		deployments:  engine,
		containers:   services.NewContainerService(apps, engineClient),
		ports:        ports,
		hub:          hub,
		engine:       engineClient,
		metrics:      metrics,
		gatherer:     registry,
	})

	if cfg.AppKey == "" {
		log.Warn("APP_KEY is not set, API authentication is disabled")
	}

	listenErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on port %s", cfg.Port)
		listenErr <- app.Listen(":" + cfg.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-listenErr:
		return err
	case sig := <-quit:
		log.Infof("Received %s, shutting down", sig)
	}

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := engine.Shutdown(ctx); err != nil {
		log.Warnf("Deployment engine shutdown: %v", err)
	}
	hub.Shutdown()
	log.Info("Server stopped")
	return nil
}
