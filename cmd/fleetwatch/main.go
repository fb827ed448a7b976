package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fleetwatch/config"
	"fleetwatch/internal/correlate"
	"fleetwatch/internal/enrich"
	"fleetwatch/internal/ingest"
	inputredis "fleetwatch/internal/input/redis"
	"fleetwatch/internal/logger"
	"fleetwatch/internal/output/incidenthttp"
	"fleetwatch/internal/output/incidentjson"
	"fleetwatch/internal/output/incidentredis"
	"fleetwatch/internal/pipeline"
	"fleetwatch/internal/registry"
	"fleetwatch/internal/rules"
	"fleetwatch/internal/scoring"
	"fleetwatch/internal/suppress"
	"fleetwatch/internal/window"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("fleetwatch.yml"); err == nil {
		return "fleetwatch.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "fleetwatch.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "fleetwatch.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Fleetwatch.Input.Redis.Addr == "" {
		cfg.Fleetwatch.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Fleetwatch.Input.Redis.Key == "" {
		cfg.Fleetwatch.Input.Redis.Key = "anomaly_events"
	}
	if cfg.Fleetwatch.Input.Redis.BlockTimeout == 0 {
		cfg.Fleetwatch.Input.Redis.BlockTimeout = 5 * time.Second
	}
	if cfg.Fleetwatch.Control.Enabled && cfg.Fleetwatch.Control.Key == "" {
		cfg.Fleetwatch.Control.Key = "incident_commands"
	}

	if cfg.Fleetwatch.Pipeline.Workers <= 0 {
		cfg.Fleetwatch.Pipeline.Workers = 8
	}
	if cfg.Fleetwatch.Pipeline.BatchSize <= 0 {
		cfg.Fleetwatch.Pipeline.BatchSize = 100
	}
	if cfg.Fleetwatch.Pipeline.FlushInterval <= 0 {
		cfg.Fleetwatch.Pipeline.FlushInterval = time.Second
	}

	if cfg.Fleetwatch.Window.Size <= 0 {
		cfg.Fleetwatch.Window.Size = 60 * time.Second
	}
	if cfg.Fleetwatch.Window.Grace <= 0 {
		cfg.Fleetwatch.Window.Grace = 30 * time.Second
	}
	if cfg.Fleetwatch.Window.SweepInterval <= 0 {
		cfg.Fleetwatch.Window.SweepInterval = time.Second
	}

	if cfg.Fleetwatch.Correlator.AdmissionThreshold <= 0 {
		cfg.Fleetwatch.Correlator.AdmissionThreshold = 0.5
	}
	if cfg.Fleetwatch.Correlator.EscalationCount <= 0 {
		cfg.Fleetwatch.Correlator.EscalationCount = 3
	}

	if cfg.Fleetwatch.Suppression.Cooldown <= 0 {
		cfg.Fleetwatch.Suppression.Cooldown = 15 * time.Minute
	}
	if cfg.Fleetwatch.Suppression.TraceCooldown <= 0 {
		cfg.Fleetwatch.Suppression.TraceCooldown = 30 * time.Minute
	}

	if cfg.Fleetwatch.Output.Mode == "" {
		cfg.Fleetwatch.Output.Mode = "file"
	}
	if cfg.Fleetwatch.Output.File.Path == "" {
		cfg.Fleetwatch.Output.File.Path = "output/incidents.jsonl"
	}

	if cfg.Fleetwatch.Metrics.Listen == "" {
		cfg.Fleetwatch.Metrics.Listen = ":9290"
	}

	if cfg.Fleetwatch.Logging.Level == "" {
		cfg.Fleetwatch.Logging.Level = "info"
	}
}

func main() {
	configArg := ""
	if len(os.Args) > 1 {
		configArg = os.Args[1]
	}

	configPath := findConfigFile(configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Fleetwatch.Logging.Enabled, cfg.Fleetwatch.Logging.Level, cfg.Fleetwatch.Logging.File, cfg.Fleetwatch.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Fleetwatch starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Fleetwatch.Input.Redis.Addr,
		Password:     cfg.Fleetwatch.Input.Redis.Password,
		DB:           cfg.Fleetwatch.Input.Redis.DB,
		Key:          cfg.Fleetwatch.Input.Redis.Key,
		BlockTimeout: cfg.Fleetwatch.Input.Redis.BlockTimeout,
	})
	if err != nil {
		logger.Errorf("Failed to create Redis consumer: %v", err)
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	var control *inputredis.Consumer
	if cfg.Fleetwatch.Control.Enabled {
		control = consumer.WithKey(cfg.Fleetwatch.Control.Key)
		logger.Infof("Lifecycle control enabled: key=%s", cfg.Fleetwatch.Control.Key)
	}

	var resolver ingest.Resolver
	if cfg.Fleetwatch.Registry.URL != "" {
		client, err := registry.NewClient(registry.Config{
			URL:     cfg.Fleetwatch.Registry.URL,
			Timeout: cfg.Fleetwatch.Registry.Timeout,
		})
		if err != nil {
			logger.Errorf("Failed to create registry client: %v", err)
			log.Fatalf("Failed to create registry client: %v", err)
		}
		resolver = client
		logger.Infof("Asset registry: %s", cfg.Fleetwatch.Registry.URL)
	}
	parser := ingest.NewParser(resolver)

	var engine rules.Engine
	if cfg.Fleetwatch.Rules.Enabled {
		if strings.TrimSpace(cfg.Fleetwatch.Rules.Path) == "" {
			logger.Warnf("Rules enabled but rules.path is empty; correlation tagging disabled")
		} else {
			sigmaEngine, stats, err := rules.NewSigmaEngine(cfg.Fleetwatch.Rules.Path)
			if err != nil {
				logger.Errorf("Failed to load Sigma rules from %s: %v", cfg.Fleetwatch.Rules.Path, err)
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			engine = sigmaEngine
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded,
				stats.SkippedComplex,
				stats.SkippedInvalid,
				stats.TotalFiles,
			)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; correlation tagging is effectively disabled")
			}
		}
	}

	scorer := scoring.NewScorer(scoring.Config{
		Detector:     cfg.Fleetwatch.Scoring.Detector,
		ZCritical:    cfg.Fleetwatch.Scoring.ZCritical,
		EWMAAlpha:    cfg.Fleetwatch.Scoring.EWMAAlpha,
		EWMAK:        cfg.Fleetwatch.Scoring.EWMAK,
		MADK:         cfg.Fleetwatch.Scoring.MADK,
		MinBaseline:  cfg.Fleetwatch.Scoring.MinBaseline,
		BaselineSize: cfg.Fleetwatch.Scoring.BaselineSize,
		DefaultScore: cfg.Fleetwatch.Scoring.DefaultScore,
	})

	correlator := correlate.NewCorrelator(correlate.Config{
		AdmissionThreshold: cfg.Fleetwatch.Correlator.AdmissionThreshold,
		EscalationCount:    cfg.Fleetwatch.Correlator.EscalationCount,
	})

	suppressor := suppress.NewSuppressor(suppress.Config{
		Cooldown:          cfg.Fleetwatch.Suppression.Cooldown,
		TraceCooldown:     cfg.Fleetwatch.Suppression.TraceCooldown,
		TTL:               cfg.Fleetwatch.Suppression.TTL,
		SweepInterval:     cfg.Fleetwatch.Suppression.SweepInterval,
		CategoryCooldowns: cfg.Fleetwatch.Suppression.CategoryCooldowns,
	})

	var writer pipeline.IncidentWriter
	switch cfg.Fleetwatch.Output.Mode {
	case "file":
		w, err := incidentjson.NewWriter(cfg.Fleetwatch.Output.File.Path)
		if err != nil {
			logger.Errorf("Failed to create incident file writer: %v", err)
			log.Fatalf("Failed to create incident file writer: %v", err)
		}
		writer = w
		logger.Infof("Output mode: file (%s)", cfg.Fleetwatch.Output.File.Path)
	case "http":
		w, err := incidenthttp.NewWriter(incidenthttp.Config{
			URL:     cfg.Fleetwatch.Output.HTTP.URL,
			Timeout: cfg.Fleetwatch.Output.HTTP.Timeout,
			Headers: cfg.Fleetwatch.Output.HTTP.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create incident HTTP writer: %v", err)
			log.Fatalf("Failed to create incident HTTP writer: %v", err)
		}
		writer = w
		logger.Infof("Output mode: http (%s)", cfg.Fleetwatch.Output.HTTP.URL)
	case "redis":
		w, err := incidentredis.NewPublisher(incidentredis.Config{
			Addr:     cfg.Fleetwatch.Output.Redis.Addr,
			Password: cfg.Fleetwatch.Output.Redis.Password,
			DB:       cfg.Fleetwatch.Output.Redis.DB,
			Key:      cfg.Fleetwatch.Output.Redis.Key,
		})
		if err != nil {
			logger.Errorf("Failed to create incident Redis publisher: %v", err)
			log.Fatalf("Failed to create incident Redis publisher: %v", err)
		}
		writer = w
		logger.Infof("Output mode: redis (%s)", cfg.Fleetwatch.Output.Redis.Key)
	default:
		log.Fatalf("Unknown output mode: %s", cfg.Fleetwatch.Output.Mode)
	}

	var enricher *enrich.Client
	if cfg.Fleetwatch.Enrichment.Enabled {
		enricher, err = enrich.NewClient(enrich.Config{
			URL:     cfg.Fleetwatch.Enrichment.URL,
			Timeout: cfg.Fleetwatch.Enrichment.Timeout,
			Headers: cfg.Fleetwatch.Enrichment.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create enrichment client: %v", err)
			log.Fatalf("Failed to create enrichment client: %v", err)
		}
		logger.Infof("Enrichment enabled: %s", cfg.Fleetwatch.Enrichment.URL)
	}

	if cfg.Fleetwatch.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Infof("Metrics listening on %s", cfg.Fleetwatch.Metrics.Listen)
			if err := http.ListenAndServe(cfg.Fleetwatch.Metrics.Listen, mux); err != nil {
				logger.Errorf("Metrics listener failed: %v", err)
			}
		}()
	}

	pipe := pipeline.New(pipeline.Options{
		Consumer:   consumer,
		Control:    control,
		Parser:     parser,
		Engine:     engine,
		Scorer:     scorer,
		Correlator: correlator,
		Suppressor: suppressor,
		Writer:     writer,
		Enricher:   enricher,
		WindowConfig: window.Config{
			Size:          cfg.Fleetwatch.Window.Size,
			Grace:         cfg.Fleetwatch.Window.Grace,
			SweepInterval: cfg.Fleetwatch.Window.SweepInterval,
		},
		Workers:       cfg.Fleetwatch.Pipeline.Workers,
		BatchSize:     cfg.Fleetwatch.Pipeline.BatchSize,
		FlushInterval: cfg.Fleetwatch.Pipeline.FlushInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warnf("Pipeline did not drain within shutdown deadline")
	}

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("Fleetwatch stopped")
}
