package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/labfleet/repair-engine/internal/app"
	v1 "github.com/labfleet/repair-engine/pkg/api/v1"
	"github.com/labfleet/repair-engine/pkg/config"
	"github.com/labfleet/repair-engine/pkg/middleware"
)

var (
	// Version is set during build with -ldflags
	Version = "dev"
	// startTime records when the application started
	startTime time.Time
)

func main() {
	startTime = time.Now()

	cfg, err := config.Load()
	if err != nil {
		log := logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log := newLogger(cfg)
	log.WithFields(logrus.Fields{
		"version":          Version,
		"port":             cfg.Port,
		"inventory_source": cfg.InventorySource,
	}).Info("Starting lab repair engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize repair engine")
	}

	router := newRouter(engine, log)

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.MetricsPort).Info("Starting metrics server")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Metrics server failed")
		}
	}()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("API server failed")
		}
	}()

	sweepDone := make(chan struct{})
	if cfg.SweepInterval > 0 {
		go func() {
			defer close(sweepDone)
			engine.Sweeper().Run(ctx, cfg.SweepInterval)
		}()
		log.WithField("interval", cfg.SweepInterval.String()).Info("Periodic fleet sweep enabled")
	} else {
		close(sweepDone)
	}

	<-ctx.Done()
	log.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("API server shutdown error")
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Metrics server shutdown error")
	}

	<-sweepDone
	// Waits for in-flight repair jobs; repairs are not interrupted midway.
	if err := engine.Close(); err != nil {
		log.WithError(err).Error("Failed to close repair engine")
	}

	log.Info("Servers stopped")
}

func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

// newRouter wires the API handlers behind the request middleware
func newRouter(a *app.App, log *logrus.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.Recovery(log))

	var power v1.HealthChecker
	if a.Power != nil {
		power = a.Power
	}
	var access v1.AccessVerifier
	if a.Access != nil {
		access = a.Access
	}
	healthHandler := v1.NewHealthHandler(log, a.Coordinator, power, access, Version, startTime)
	router.Handle("/api/v1/health", healthHandler).Methods("GET")

	v1.NewRepairHandler(a.Coordinator, log).RegisterRoutes(router)
	v1.NewStrategyHandler(a.Coordinator, log).RegisterRoutes(router)

	return router
}
