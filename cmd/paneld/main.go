package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/efm-project/paneld/internal/base36"
	"github.com/efm-project/paneld/internal/config"
	"github.com/efm-project/paneld/internal/flash/file"
	"github.com/efm-project/paneld/internal/flash/sqlite"
	"github.com/efm-project/paneld/internal/http/rest"
	"github.com/efm-project/paneld/internal/logctx"
	"github.com/efm-project/paneld/internal/mdns"
	"github.com/efm-project/paneld/internal/panel"
	"github.com/efm-project/paneld/internal/restart"
	"github.com/efm-project/paneld/internal/telemetry"
	"github.com/efm-project/paneld/internal/update"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "paneld"

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("paneld starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Boot Record Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedBootRecordRepository(database, tel)

	// =========================================================================
	// Start Firmware Store
	store, err := file.Open(ctx, cfg.DataDir, update.PartitionCapacity, repo)
	if err != nil {
		return fmt.Errorf("failed to open firmware store: %w", err)
	}

	running, err := store.RunningSlot(ctx)
	if err != nil {
		return fmt.Errorf("failed to read running slot: %w", err)
	}

	logger.Info("firmware state", "slot", running.ID, "version", running.Version)

	if last, err := repo.LastUpdate(ctx); err != nil {
		logger.Warn("failed to read update history", "err", err)
	} else if last != nil {
		logger.Info("last firmware update", "slot", last.Slot, "version", last.Version, "committed_at", last.CommittedAt)
	}

	// =========================================================================
	// Start mDNS Advertisement
	if cfg.MDNSEnabled {
		mac, err := hardwareAddr(cfg.NetworkInterface)
		if err != nil {
			return fmt.Errorf("failed to determine hardware address: %w", err)
		}

		suffix, err := base36.Encode(mac)
		if err != nil {
			return fmt.Errorf("failed to derive hostname: %w", err)
		}

		port, err := bindPort(cfg.Web.BindAddress)
		if err != nil {
			return fmt.Errorf("failed to parse bind address: %w", err)
		}

		service, err := mdns.Register(ctx, "panel-"+suffix, port, mac)
		if err != nil {
			return fmt.Errorf("failed to register mdns service: %w", err)
		}
		defer service.Shutdown()
	}

	// =========================================================================
	// Start Panel Client
	var panelClient *panel.Client

	if cfg.SerialDevice != "" {
		port, err := panel.OpenSerial(cfg.SerialDevice)
		if err != nil {
			return fmt.Errorf("failed to open panel serial line: %w", err)
		}

		panelClient = panel.NewClient(port, byte(cfg.PanelID), tel)
		defer panelClient.Close()

		if err := panelClient.Init(ctx); err != nil {
			logger.Warn("panel did not acknowledge init", "err", err)
		}
	} else {
		logger.Info("no serial device configured, display routes disabled")
	}

	// =========================================================================
	// Start Update Pipeline
	scheduler := restart.NewScheduler(logger, restart.Command(logger, cfg.RestartCommand))
	updater := update.NewUpdater(store, scheduler, tel)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cfg, updater, store, panelClient, tel)

	go func() {
		logger.Info("initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Main Loop
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cfg *config.Config,
	updater *update.Updater,
	store rest.SlotReader,
	panelClient *panel.Client,
	tel *telemetry.Telemetry,
) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", rest.NewUpdateHandler(updater, store).Routes())

	if panelClient != nil {
		r.Mount("/panel", rest.NewDisplayHandler(panelClient).Routes())
	}

	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      otelhttp.NewHandler(r, "paneld"),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// hardwareAddr picks the MAC the hostname is derived from: the named
// interface when configured, otherwise the first interface that has one.
func hardwareAddr(name string) (net.HardwareAddr, error) {
	if name != "" {
		iface, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("failed to find interface %s: %w", name, err)
		}

		if len(iface.HardwareAddr) == 0 {
			return nil, fmt.Errorf("interface %s has no hardware address", name)
		}

		return iface.HardwareAddr, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}

		return iface.HardwareAddr, nil
	}

	return nil, fmt.Errorf("no interface with a hardware address")
}

func bindPort(bindAddress string) (int, error) {
	_, portStr, err := net.SplitHostPort(bindAddress)
	if err != nil {
		return 0, err
	}

	return strconv.Atoi(portStr)
}
