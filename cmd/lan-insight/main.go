package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/R8355H0755/lan-insight/internal/alerts"
	"github.com/R8355H0755/lan-insight/internal/api"
	"github.com/R8355H0755/lan-insight/internal/config"
	"github.com/R8355H0755/lan-insight/internal/events"
	"github.com/R8355H0755/lan-insight/internal/hostprobe"
	"github.com/R8355H0755/lan-insight/internal/logging"
	"github.com/R8355H0755/lan-insight/internal/monitoring"
	"github.com/R8355H0755/lan-insight/internal/remoteprobe"
	"github.com/R8355H0755/lan-insight/internal/scanner"
	"github.com/R8355H0755/lan-insight/internal/store"
	"github.com/R8355H0755/lan-insight/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const metricsPort = 9091

var rootCmd = &cobra.Command{
	Use:     "lan-insight",
	Short:   "lan-insight - LAN device telemetry collector",
	Long:    `lan-insight discovers devices on the local network, polls them over SNMP alongside the host it runs on, and serves live telemetry, alerts and history over HTTP and WebSocket.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lan-insight %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup messages.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "lan-insight",
	})

	// A .env beside the binary seeds the environment before config reads it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("Failed to load .env file")
	}

	cfg := config.Load()

	// Re-initialize logging with configuration-driven settings.
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "lan-insight",
	})

	log.Info().Str("version", Version).Msg("Starting lan-insight server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsAddr := fmt.Sprintf("%s:%d", cfg.ListenHost, metricsPort)
	startMetricsServer(ctx, metricsAddr)

	st, err := store.Open(cfg.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("data_path", cfg.DataPath).Msg("Failed to open database")
	}
	defer st.Close()

	bus := events.NewBroadcaster()
	defer bus.Close()

	alertManager := alerts.NewManager(st, bus)
	sweep := scanner.New(bus)
	remoteProbe := remoteprobe.New()
	defer remoteProbe.Close()

	engine := monitoring.New(monitoring.Deps{
		Config:      cfg,
		Store:       st,
		Bus:         bus,
		Alerts:      alertManager,
		Scanner:     sweep,
		HostProbe:   hostprobe.New(),
		RemoteProbe: remoteProbe,
	})
	defer engine.Close()

	if err := engine.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize monitoring engine")
	}
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start monitoring")
	}

	hub := websocket.NewHub(bus, func() any {
		return map[string]any{
			"devices":  engine.Devices(),
			"alerts":   alertManager.ActiveAlerts(),
			"overview": engine.MetricsOverview(),
		}
	})
	go hub.Run(ctx)

	router := api.NewRouter(api.Deps{
		Engine:  engine,
		Store:   st,
		Alerts:  alertManager,
		Hub:     hub,
		Version: Version,
	})

	// ReadHeaderTimeout rather than ReadTimeout: a read deadline on the
	// underlying connection would survive the WebSocket upgrade and kill
	// long-lived connections.
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	watcher, err := config.NewWatcher(cfg, ".env")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create config watcher; .env changes require a restart")
		watcher = nil
	} else {
		watcher.OnChange(func(level, format string) {
			logging.Init(logging.Config{
				Format:    format,
				Level:     level,
				Component: "lan-insight",
			})
			log.Info().Str("level", level).Str("format", format).Msg("Logging settings reloaded")
		})
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("Failed to start config watcher")
		}
	}

	go func() {
		log.Info().
			Str("host", cfg.ListenHost).
			Int("port", cfg.ListenPort).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	reloadChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	signal.Notify(reloadChan, syscall.SIGHUP)

	for {
		select {
		case <-reloadChan:
			log.Info().Msg("Received SIGHUP, reloading stored settings")
			if _, err := engine.ReloadSettings(); err != nil {
				log.Error().Err(err).Msg("Failed to reload settings")
			}

		case <-sigChan:
			log.Info().Msg("Shutting down server...")
			goto shutdown
		}
	}

shutdown:
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	engine.Stop()
	if watcher != nil {
		watcher.Stop()
	}

	log.Info().Msg("Server stopped")
}
