// Command server runs the dispatch core: websocket gateway, HTTP surface,
// auction scheduler, and every ambient collaborator wired in from config.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/arbiter"
	"github.com/example/ride-dispatch/internal/auction"
	"github.com/example/ride-dispatch/internal/bus"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/drivers"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/transport"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-dispatch-server", cfg.LogLevel)

	var driverReg drivers.Registry
	var ready httpapi.ReadyChecker
	if cfg.RedisAddr != "" {
		r := drivers.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		driverReg = r
		ready = r
		logger.Info("driver registry backend: redis", "addr", cfg.RedisAddr)
	} else {
		driverReg = drivers.NewInMemory()
		logger.Info("driver registry backend: in-memory")
	}

	audit := wireAudit(cfg, logger)
	rideReg := rides.NewRegistry(audit, logger)
	roomHub := rooms.NewHub()

	t := transport.NewHub(nil, logger)
	b := bus.NewBroadcaster(t, roomHub)

	var fareHolder payments.FareHolder
	if cfg.StripeAPIKey != "" {
		fareHolder = payments.NewStripe()
		logger.Info("fare hold backend: stripe")
	} else {
		fareHolder = payments.Noop{}
		logger.Info("fare hold backend: noop (STRIPE_API_KEY unset)")
	}

	etaClient := wireETA(cfg, logger)
	scheduler := &auction.Scheduler{
		Config:   auction.Config{BatchSize: cfg.BatchSize, OfferTTL: cfg.OfferTTL, MaxRounds: cfg.MaxRounds, RetryInterval: cfg.RetryInterval},
		Selector: &auction.Selector{Drivers: driverReg, StaleAfterMs: cfg.DriverStaleMs, QuickTestMode: cfg.QuickTestMode, ETA: etaClient},
		Rides:    rideReg,
		Bus:      b,
		Logger:   logger,
	}
	arb := &arbiter.Arbiter{Rides: rideReg, Bus: b, Payments: fareHolder, Logger: logger}
	sessionRouter := &session.Router{Rides: rideReg, Rooms: roomHub, Bus: b, Drivers: driverReg, Payments: fareHolder, Logger: logger}

	gw := gateway.New(logger)
	gw.Drivers = driverReg
	gw.Rides = rideReg
	gw.Rooms = roomHub
	gw.Bus = b
	gw.Scheduler = scheduler
	gw.Arbiter = arb
	gw.Session = sessionRouter
	t.SetHandler(gw)

	var producer *ingest.Producer
	if len(cfg.KafkaBrokers) > 0 {
		producer = ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("driver telemetry ingest: kafka", "topic", cfg.KafkaTopic)
	} else {
		logger.Info("driver telemetry ingest: disabled (KAFKA_BROKERS unset)")
	}

	server := httpapi.NewServer(t, producer, ready, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	t.CloseAll()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

// wireAudit picks the ride-audit backend: Postgres when PG_DSN is set and
// reachable, falling back to an in-memory store that still lets handlers
// read back what they wrote.
func wireAudit(cfg config.ServerConfig, logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}) storage.AuditStore {
	if cfg.PGDSN == "" {
		logger.Info("ride audit backend: in-memory (PG_DSN unset)")
		return storage.NewMemory()
	}
	ps, err := storage.NewPostgres(cfg.PGDSN)
	if err != nil {
		logger.Warn("postgres audit store unavailable, falling back to in-memory", "error", err)
		return storage.NewMemory()
	}
	if b, err := os.ReadFile("migrations/001_create_ride_audit.sql"); err == nil {
		if db, openErr := sql.Open("postgres", cfg.PGDSN); openErr == nil {
			if _, execErr := db.Exec(string(b)); execErr != nil {
				logger.Warn("ride_audit migration failed", "error", execErr)
			}
			_ = db.Close()
		}
	}
	logger.Info("ride audit backend: postgres")
	return ps
}

// wireETA picks the selector's distance-tie-break estimator, if any.
// ETA_MODE unset leaves the selector ordering purely by great-circle
// distance, exactly as if this were never called.
func wireETA(cfg config.ServerConfig, logger interface {
	Info(msg string, args ...any)
}) eta.Client {
	switch cfg.ETAMode {
	case "naive":
		logger.Info("eta tie-break: naive", "speedMps", cfg.ETASpeedMps)
		return eta.NaiveClient{SpeedMps: cfg.ETASpeedMps}
	case "osrm":
		logger.Info("eta tie-break: osrm", "endpoint", cfg.ETAOSRMEndpoint)
		return &eta.CachedClient{Client: eta.NewOSRMClient(cfg.ETAOSRMEndpoint), Cache: eta.NewCache(cfg.ETACacheTTL)}
	default:
		logger.Info("eta tie-break: disabled (ETA_MODE unset)")
		return nil
	}
}
