package config

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Timeplus   TimeplusConfig   `mapstructure:"timeplus"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Profiles   ProfilesConfig   `mapstructure:"profiles"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Port            string `mapstructure:"port"`
	AllowedOrigins  string `mapstructure:"allowedOrigins"`
	ShutdownTimeout int    `mapstructure:"shutdownTimeout"`
}

// TimeplusConfig holds the Timeplus connection configuration
type TimeplusConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	Username  string `mapstructure:"username"`
	Workspace string `mapstructure:"workspace"`
}

// PipelineConfig holds the event processing pipeline configuration
type PipelineConfig struct {
	Workers           int `mapstructure:"workers"`
	QueueSize         int `mapstructure:"queueSize"`
	InferenceBudgetMs int `mapstructure:"inferenceBudgetMs"`
	SnapshotCapBytes  int `mapstructure:"snapshotCapBytes"`
	RecentEventsCap   int `mapstructure:"recentEventsCap"`
	GracePeriodSec    int `mapstructure:"gracePeriodSec"`
}

// InferenceBudget returns the per-event scoring deadline
func (p PipelineConfig) InferenceBudget() time.Duration {
	return time.Duration(p.InferenceBudgetMs) * time.Millisecond
}

// GracePeriod returns the shutdown grace period for in-flight events
func (p PipelineConfig) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodSec) * time.Second
}

// AnomalyConfig holds the ensemble scorer configuration
type AnomalyConfig struct {
	ForestArtifact        string  `mapstructure:"forestArtifact"`
	ReconstructorArtifact string  `mapstructure:"reconstructorArtifact"`
	PartitioningWeight    float64 `mapstructure:"partitioningWeight"`
	ReconstructionWeight  float64 `mapstructure:"reconstructionWeight"`
}

// ClassifierConfig holds the supervised classifier configuration.
// The model artifact is optional; the rule stage always runs.
type ClassifierConfig struct {
	ModelArtifact string `mapstructure:"modelArtifact"`
}

// ProfilesConfig holds the bot-likelihood heuristic weights. The weights are
// configuration on purpose: tuning them must not require a rebuild.
type ProfilesConfig struct {
	RateWindowSec       int     `mapstructure:"rateWindowSec"`
	HighRateThreshold   float64 `mapstructure:"highRateThreshold"`
	RateWeight          float64 `mapstructure:"rateWeight"`
	SignatureUAWeight   float64 `mapstructure:"signatureUaWeight"`
	UADiversityWeight   float64 `mapstructure:"uaDiversityWeight"`
	HumanPaceDiscount   float64 `mapstructure:"humanPaceDiscount"`
	UADiversityMinCount int     `mapstructure:"uaDiversityMinCount"`
}

// RateWindow returns the sliding window used for request-rate estimation
func (p ProfilesConfig) RateWindow() time.Duration {
	return time.Duration(p.RateWindowSec) * time.Second
}

// AlertsConfig holds the alert engine thresholds
type AlertsConfig struct {
	RiskThreshold  float64 `mapstructure:"riskThreshold"`
	DedupWindowMin int     `mapstructure:"dedupWindowMin"`
	DedupCacheSize int     `mapstructure:"dedupCacheSize"`
}

// DedupWindow returns the alert deduplication window
func (a AlertsConfig) DedupWindow() time.Duration {
	return time.Duration(a.DedupWindowMin) * time.Minute
}

// NATSConfig holds the optional alert fan-out configuration.
// An empty URL disables publishing.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Port int    `mapstructure:"port"`
	Path string `mapstructure:"path"`
}

// LoadConfig loads the application configuration from file or environment variables
func LoadConfig(configPath string) (*Config, error) {
	var config Config

	// Set default values
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowedOrigins", "*")
	viper.SetDefault("server.shutdownTimeout", 10)

	viper.SetDefault("pipeline.workers", 8)
	viper.SetDefault("pipeline.queueSize", 1024)
	viper.SetDefault("pipeline.inferenceBudgetMs", 50)
	viper.SetDefault("pipeline.snapshotCapBytes", 8192)
	viper.SetDefault("pipeline.recentEventsCap", 4096)
	viper.SetDefault("pipeline.gracePeriodSec", 10)

	viper.SetDefault("anomaly.forestArtifact", "models/forest.yaml")
	viper.SetDefault("anomaly.reconstructorArtifact", "models/reconstructor.yaml")
	viper.SetDefault("anomaly.partitioningWeight", 0.5)
	viper.SetDefault("anomaly.reconstructionWeight", 0.5)

	viper.SetDefault("classifier.modelArtifact", "")

	viper.SetDefault("profiles.rateWindowSec", 60)
	viper.SetDefault("profiles.highRateThreshold", 30)
	viper.SetDefault("profiles.rateWeight", 0.5)
	viper.SetDefault("profiles.signatureUaWeight", 0.3)
	viper.SetDefault("profiles.uaDiversityWeight", 0.2)
	viper.SetDefault("profiles.humanPaceDiscount", 0.3)
	viper.SetDefault("profiles.uaDiversityMinCount", 3)

	viper.SetDefault("alerts.riskThreshold", 70)
	viper.SetDefault("alerts.dedupWindowMin", 15)
	viper.SetDefault("alerts.dedupCacheSize", 8192)

	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.subject", "trap.alerts")

	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")

	// Allow environment variables to override config file
	viper.SetEnvPrefix("TRAP")
	viper.AutomaticEnv()

	// If config file is provided, read it
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			logrus.Warnf("Error reading config file: %v", err)
		}
	}

	// Unmarshal config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
