package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/trapsight/trap-telemetry/pkg/alerts"
	"github.com/trapsight/trap-telemetry/pkg/anomaly"
	"github.com/trapsight/trap-telemetry/pkg/api"
	"github.com/trapsight/trap-telemetry/pkg/classifier"
	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/pipeline"
	"github.com/trapsight/trap-telemetry/pkg/profiles"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

// @title Trap Telemetry API
// @version 1.0
// @description API for honeypot attack classification, risk scoring and alerting
// @BasePath /api

func main() {
	// Configure Log Level from Environment Variable
	logLevelStr := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(logLevelStr) {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	case "fatal":
		logrus.SetLevel(logrus.FatalLevel)
	case "panic":
		logrus.SetLevel(logrus.PanicLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel) // Default to Info
	}
	logrus.Infof("Log level set to: %s", logrus.GetLevel().String())

	// Parse command line flags
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Set up the Timeplus client
	db, err := store.NewProtonClient(&cfg.Timeplus)
	if err != nil {
		logrus.Fatalf("Failed to create Timeplus client: %v", err)
	}

	// Set up required streams with proper schemas
	ctx := context.Background()
	if err := db.EnsureStreams(ctx); err != nil {
		logrus.Warnf("Failed to set up streams: %v", err)
	}

	// Load the anomaly model artifacts. The service cannot score without
	// them, so a missing or corrupt artifact is fatal.
	forest, err := anomaly.LoadForest(cfg.Anomaly.ForestArtifact)
	if err != nil {
		logrus.Fatalf("Failed to load forest artifact: %v", err)
	}
	reconstructor, err := anomaly.LoadReconstructor(cfg.Anomaly.ReconstructorArtifact)
	if err != nil {
		logrus.Fatalf("Failed to load reconstructor artifact: %v", err)
	}
	scorer := anomaly.NewScorer(forest, reconstructor,
		cfg.Anomaly.PartitioningWeight, cfg.Anomaly.ReconstructionWeight)

	// The supervised model is optional. Rules cover the known attack
	// families on their own.
	cls := classifier.New()
	if cfg.Classifier.ModelArtifact != "" {
		model, err := classifier.LoadLinearModel(cfg.Classifier.ModelArtifact)
		if err != nil {
			logrus.Warnf("Failed to load classifier model, running rules only: %v", err)
		} else {
			cls = classifier.NewWithModel(model)
		}
	}

	aggregator := profiles.NewAggregator(cfg.Profiles, db)

	// Alert fan-out over NATS is optional; an empty URL disables it
	var publisher alerts.Publisher
	if cfg.NATS.URL != "" {
		natsPublisher, err := alerts.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			logrus.Warnf("Failed to connect to NATS, alert publishing disabled: %v", err)
		} else {
			publisher = natsPublisher
			defer natsPublisher.Close()
		}
	}

	p, err := pipeline.New(cfg.Pipeline, scorer, cls, aggregator, nil, db)
	if err != nil {
		logrus.Fatalf("Failed to create pipeline: %v", err)
	}

	engine, err := alerts.NewEngine(cfg.Alerts, db, publisher, p.Recent())
	if err != nil {
		logrus.Fatalf("Failed to create alert engine: %v", err)
	}
	p.SetEngine(engine)

	p.Start()
	logrus.Infof("Pipeline started with %d workers", cfg.Pipeline.Workers)

	// Set up the Echo server
	e := echo.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// API routes
	apiHandler := api.NewAPIHandler(p, aggregator, engine)
	apiHandler.SetupRoutes(e)

	// Swagger documentation
	e.GET("/swagger/*", echo.WrapHandler(httpSwagger.Handler()))

	// Standalone Prometheus endpoint
	metricsServer := p.Metrics().Serve(cfg.Metrics.Port, cfg.Metrics.Path)
	logrus.Infof("Metrics served on :%d%s", cfg.Metrics.Port, cfg.Metrics.Path)

	// Create HTTP server
	// Use PORT environment variable if available, otherwise use config
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start the server in a goroutine
	go func() {
		logrus.Infof("Starting server on port %s", port)
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down server...")

	// Drain in-flight events before the API stops answering
	p.Stop()
	logrus.Info("Pipeline drained")

	// Create a deadline for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logrus.Warnf("Metrics server shutdown: %v", err)
	}

	// Shutdown the server
	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.Fatalf("Server forced to shutdown: %v", err)
	}

	if err := db.Close(); err != nil {
		logrus.Warnf("Failed to close Timeplus connection: %v", err)
	}

	logrus.Info("Server exited properly")
}
