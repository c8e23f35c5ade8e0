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

	"riskgraph/config"
	"riskgraph/internal/anomaly"
	"riskgraph/internal/api"
	"riskgraph/internal/correlate"
	"riskgraph/internal/features"
	"riskgraph/internal/ingest"
	"riskgraph/internal/ingest/redisqueue"
	"riskgraph/internal/logger"
	"riskgraph/internal/output/incidentch"
	"riskgraph/internal/output/incidenthttp"
	"riskgraph/internal/output/incidentjson"
	"riskgraph/internal/pipeline"
	"riskgraph/internal/playbook"
	"riskgraph/internal/risk"
	"riskgraph/internal/rules"
	"riskgraph/internal/store"
	"riskgraph/internal/ueba"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		path := configArg
		if _, err := os.Stat(path); err == nil {
			return path
		}
		log.Printf("Warning: config file not found at %s, trying default locations", path)
	}

	if _, err := os.Stat("riskgraph.yml"); err == nil {
		return "riskgraph.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		exeDir := filepath.Dir(exePath)
		path := filepath.Join(exeDir, "riskgraph.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "riskgraph.yml"
}

func applyDefaults(cfg *config.Config) {
	rg := &cfg.RiskGraph

	if rg.Input.Redis.Addr == "" {
		rg.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if rg.Input.Redis.Key == "" {
		rg.Input.Redis.Key = "security_events"
	}
	if rg.Input.Redis.BlockTimeout == 0 {
		rg.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if rg.API.Addr == "" {
		rg.API.Addr = ":8080"
	}

	if rg.Pipeline.Workers <= 0 {
		rg.Pipeline.Workers = 4
	}
	if rg.Pipeline.QueueSize <= 0 {
		rg.Pipeline.QueueSize = 1024
	}
	if rg.Pipeline.FlushInterval <= 0 {
		rg.Pipeline.FlushInterval = 2 * time.Second
	}

	if rg.Ingest.MaxLateness <= 0 {
		rg.Ingest.MaxLateness = 15 * time.Minute
	}
	if rg.Ingest.RetentionHorizon <= 0 {
		rg.Ingest.RetentionHorizon = 30 * 24 * time.Hour
	}

	if rg.Features.Window <= 0 {
		rg.Features.Window = 24 * time.Hour
	}

	if rg.UEBA.BaselineDecayHalfLife <= 0 {
		rg.UEBA.BaselineDecayHalfLife = 7 * 24 * time.Hour
	}
	if rg.UEBA.MinConfidenceSamples <= 0 {
		rg.UEBA.MinConfidenceSamples = 10
	}

	if rg.Correlation.Window <= 0 {
		rg.Correlation.Window = 30 * time.Minute
	}

	if rg.Playbook.EscalationRiskThreshold <= 0 {
		rg.Playbook.EscalationRiskThreshold = 70
	}
	if rg.Playbook.EscalationFidelityThresh <= 0 {
		rg.Playbook.EscalationFidelityThresh = 60
	}
	if rg.Playbook.AdvancedGenerationTimeout <= 0 {
		rg.Playbook.AdvancedGenerationTimeout = 20 * time.Second
	}

	if rg.Output.Mode == "" {
		rg.Output.Mode = "file"
	}
	if rg.Output.File.Path == "" {
		rg.Output.File.Path = "output/incidents.jsonl"
	}
	if rg.Output.ClickHouse.Database == "" {
		rg.Output.ClickHouse.Database = "riskgraph"
	}
	if rg.Output.ClickHouse.Table == "" {
		rg.Output.ClickHouse.Table = "incidents"
	}

	if rg.Logging.Level == "" {
		rg.Logging.Level = "info"
	}
}

func buildRuleEngine(cfg config.RulesConfig) rules.Engine {
	if !cfg.Enabled {
		return &rules.NoopEngine{}
	}
	if strings.TrimSpace(cfg.Path) == "" {
		logger.Warnf("Rules enabled but rules.path is empty; rule tagging disabled")
		return &rules.NoopEngine{}
	}

	engine, stats, err := rules.NewSigmaEngine(cfg.Path)
	if err != nil {
		logger.Errorf("Failed to load Sigma rules from %s: %v", cfg.Path, err)
		log.Fatalf("Failed to load Sigma rules: %v", err)
	}
	logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
		stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
	if stats.Loaded == 0 {
		logger.Warnf("No compatible Sigma rules loaded; rule tagging is effectively disabled")
	}
	return engine
}

func buildWriter(cfg config.OutputConfig) pipeline.IncidentWriter {
	switch cfg.Mode {
	case "none":
		return nil
	case "file":
		w, err := incidentjson.NewWriter(cfg.File.Path)
		if err != nil {
			logger.Errorf("Failed to create incident file writer: %v", err)
			log.Fatalf("Failed to create incident file writer: %v", err)
		}
		logger.Infof("Output mode: file (%s)", cfg.File.Path)
		return w
	case "http":
		w, err := incidenthttp.NewWriter(incidenthttp.Config{
			URL:     cfg.HTTP.URL,
			Timeout: cfg.HTTP.Timeout,
			Headers: cfg.HTTP.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create incident HTTP writer: %v", err)
			log.Fatalf("Failed to create incident HTTP writer: %v", err)
		}
		logger.Infof("Output mode: http (%s)", cfg.HTTP.URL)
		return w
	case "clickhouse":
		w, err := incidentch.NewWriter(incidentch.Config{
			URL:      cfg.ClickHouse.URL,
			Database: cfg.ClickHouse.Database,
			Table:    cfg.ClickHouse.Table,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
			Timeout:  cfg.ClickHouse.Timeout,
			Headers:  cfg.ClickHouse.Headers,
		})
		if err != nil {
			logger.Errorf("Failed to create incident ClickHouse writer: %v", err)
			log.Fatalf("Failed to create incident ClickHouse writer: %v", err)
		}
		logger.Infof("Output mode: clickhouse (%s/%s.%s)", cfg.ClickHouse.URL, cfg.ClickHouse.Database, cfg.ClickHouse.Table)
		return w
	default:
		log.Fatalf("Unknown output mode: %s", cfg.Mode)
		return nil
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
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	rg := cfg.RiskGraph

	if err := logger.Init(rg.Logging.Enabled, rg.Logging.Level, rg.Logging.File, rg.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("RiskGraph starting")
	logger.Infof("Config loaded from: %s", configPath)

	defs := features.DefaultDefinitions()
	if strings.TrimSpace(rg.Features.DefinitionsPath) != "" {
		defs, err = features.LoadDefinitions(rg.Features.DefinitionsPath)
		if err != nil {
			log.Fatalf("Failed to load feature definitions: %v", err)
		}
	}
	aggregator, err := features.NewAggregator(defs, rg.Features.Window)
	if err != nil {
		log.Fatalf("Failed to create feature aggregator: %v", err)
	}

	buffer := ingest.NewBuffer(ingest.Config{
		MaxLateness:      rg.Ingest.MaxLateness,
		RetentionHorizon: rg.Ingest.RetentionHorizon,
	})

	tracker := ueba.NewTracker(ueba.Config{
		BaselineDecayHalfLife: rg.UEBA.BaselineDecayHalfLife,
		MinConfidenceSamples:  rg.UEBA.MinConfidenceSamples,
	})

	anomalyScorer := anomaly.NewScorer(anomaly.Config{
		FlagThreshold:     rg.Anomaly.FlagThreshold,
		FeatureZThreshold: rg.Anomaly.FeatureZThreshold,
	})

	rarity, err := correlate.NewRarityTracker(rg.Correlation.RarityCacheSize, rg.Correlation.RarityThreshold)
	if err != nil {
		log.Fatalf("Failed to create rarity tracker: %v", err)
	}
	correlator := correlate.NewEngine(correlate.Config{
		Window:           rg.Correlation.Window,
		BridgeAttributes: rg.Correlation.BridgeAttributes,
	}, rarity)

	riskScorer := risk.NewScorer(rg.Risk, buffer)

	table := playbook.DefaultTable()
	if strings.TrimSpace(rg.Playbook.TablePath) != "" {
		table, err = playbook.LoadTable(rg.Playbook.TablePath)
		if err != nil {
			log.Fatalf("Failed to load playbook table: %v", err)
		}
	}
	var generator playbook.Generator
	if rg.Playbook.Advanced.Enabled {
		if strings.TrimSpace(rg.Playbook.Advanced.URL) == "" {
			logger.Warnf("Advanced generation enabled but advanced.url is empty; escalation disabled")
		} else {
			generator = playbook.NewHTTPGenerator(rg.Playbook.Advanced)
			logger.Infof("Advanced generation enabled: %s (timeout %s)",
				rg.Playbook.Advanced.URL, rg.Playbook.AdvancedGenerationTimeout)
		}
	}
	selector := playbook.NewSelector(rg.Playbook, table, generator)

	var consumer *redisqueue.Consumer
	if rg.Input.Redis.Enabled {
		consumer, err = redisqueue.NewConsumer(redisqueue.Config{
			Addr:         rg.Input.Redis.Addr,
			Password:     rg.Input.Redis.Password,
			DB:           rg.Input.Redis.DB,
			Key:          rg.Input.Redis.Key,
			BlockTimeout: rg.Input.Redis.BlockTimeout,
		})
		if err != nil {
			logger.Errorf("Failed to create Redis consumer: %v", err)
			log.Fatalf("Failed to create Redis consumer: %v", err)
		}
		logger.Infof("Redis input enabled: %s key=%s", rg.Input.Redis.Addr, rg.Input.Redis.Key)
	}

	incidents := store.NewMemory()

	pipe := pipeline.New(pipeline.Config{
		Workers:       rg.Pipeline.Workers,
		QueueSize:     rg.Pipeline.QueueSize,
		FlushInterval: rg.Pipeline.FlushInterval,
	}, pipeline.Options{
		Buffer:     buffer,
		Consumer:   consumer,
		Rules:      buildRuleEngine(rg.Rules),
		Features:   aggregator,
		Anomaly:    anomalyScorer,
		UEBA:       tracker,
		Correlator: correlator,
		Risk:       riskScorer,
		Selector:   selector,
		Store:      incidents,
		Writer:     buildWriter(rg.Output),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := pipe.Run(ctx); err != nil && err != context.Canceled {
			logger.Errorf("Pipeline error: %v", err)
		}
	}()

	server := api.NewServer(rg.API.Addr, pipe, incidents)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Infof("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error shutting down HTTP server: %v", err)
	}
	cancel()
	time.Sleep(1 * time.Second)

	if err := pipe.Close(); err != nil {
		logger.Errorf("Error closing pipeline: %v", err)
	}

	logger.Infof("RiskGraph stopped")
}
