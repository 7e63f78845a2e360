package main

import (
	"context"
	"flag"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

func main() {
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("Setting up telemetry streams")

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	db, err := store.NewProtonClient(&cfg.Timeplus)
	if err != nil {
		logrus.Fatalf("Failed to connect to Timeplus: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.EnsureStreams(ctx); err != nil {
		logrus.Fatalf("Failed to set up streams: %v", err)
	}

	logrus.Infof("Streams ready: %s, %s, %s",
		store.EventsStream, store.ProfilesStream, store.AlertsStream)
}
