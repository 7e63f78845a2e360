package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/trapsight/trap-telemetry/pkg/config"
	"github.com/trapsight/trap-telemetry/pkg/store"
)

// Drops the telemetry streams. Destructive, meant for dev environments.
func main() {
	logrus.SetLevel(logrus.InfoLevel)

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

	for _, stream := range []string{store.EventsStream, store.ProfilesStream, store.AlertsStream} {
		logrus.Infof("Dropping stream %s", stream)
		if _, err := db.ExecuteQuery(ctx, fmt.Sprintf("DROP STREAM IF EXISTS `%s`", stream)); err != nil {
			logrus.Errorf("Failed to drop stream %s: %v", stream, err)
		}
	}

	logrus.Info("Cleanup complete")
}
