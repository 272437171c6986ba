package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/anomaly"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/approval"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/brain"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/forecast"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/knowledge"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/patterns"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/remediation"
	"github.com/jarvis-fineops/kratos-ai/internal/ai/safety"
	"github.com/jarvis-fineops/kratos-ai/internal/config"
	"github.com/jarvis-fineops/kratos-ai/internal/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "kratos-ai",
	Short:   "kratos-ai is a self-healing intelligence layer for a Kubernetes cluster",
	Long:    `kratos-ai observes cluster state, predicts incidents before they happen, and plans (and where allowed, executes) remediations.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kratos-ai %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logging.Init(cfg.LogLevel, os.Getenv("KRATOS_LOG_PRETTY") == "true")

	log.Info().Str("version", Version).Str("mode", cfg.Mode).Msg("starting kratos-ai")

	watcher, err := config.NewWatcher(cfg)
	if err != nil {
		log.Warn().Err(err).Msg("failed to start config watcher, .env changes will require a restart")
	} else {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("failed to start config watcher")
		}
		defer watcher.Stop()
	}

	b, err := wireBrain(cfg)
	if err != nil {
		return fmt.Errorf("wire brain: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var ready atomic.Bool
	startHealthServer(ctx, fmt.Sprintf(":%d", cfg.HealthPort), &ready)

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start brain: %w", err)
	}
	ready.Store(true)

	<-ctx.Done()
	log.Info().Msg("shutting down")
	b.Stop()
	return nil
}

// wireBrain constructs one instance of every knowledge/prediction/
// remediation component and hands them to a new Brain. No production
// orchestrator.Client ships with this module (a real deployment backs it
// with client-go or controller-runtime and passes it in here); without
// one, the brain's observation and prediction loops idle and only
// HandleIncident/HandlePrediction driven from elsewhere do anything.
func wireBrain(cfg *config.Config) (*brain.Brain, error) {
	kb, err := knowledge.New(knowledge.Config{
		DataDir:                  cfg.DataDir + "/knowledge",
		MinOccurrencesForPattern: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("knowledge store: %w", err)
	}

	anomalyDetector := anomaly.New(anomaly.DefaultConfig())
	forecaster := forecast.New(forecast.DefaultConfig())
	patternDetector := patterns.New(patterns.Config{
		DataDir:        cfg.DataDir + "/patterns",
		MaxEvents:      patterns.DefaultConfig().MaxEvents,
		MinOccurrences: patterns.DefaultConfig().MinOccurrences,
		Window:         patterns.DefaultConfig().Window,
	})

	safetyCfg := safety.DefaultConfig()
	for _, ns := range cfg.ProtectedNamespaces {
		safetyCfg.ProtectedNamespaces[ns] = true
	}
	safetyCfg.MaxActionsPerHour = cfg.MaxActionsPerHour
	safetyCfg.CooldownSeconds = float64(cfg.CooldownSeconds)
	validator := safety.New(safetyCfg)

	approvals := approval.New(approval.Config{
		DataDir:        cfg.DataDir + "/approvals",
		DefaultTimeout: cfg.ApprovalTimeout,
	})

	engine := remediation.New(remediation.Config{
		DataDir:    cfg.DataDir + "/remediation",
		MinTimeout: remediation.DefaultConfig().MinTimeout,
	}, validator, approvals, kb)

	brainCfg := brain.DefaultConfig()
	brainCfg.Mode = brain.Mode(cfg.Mode)
	brainCfg.ObserveInterval = cfg.ObserveInterval
	brainCfg.PredictInterval = cfg.PredictInterval
	brainCfg.PredictionThreshold = cfg.PredictionThreshold
	brainCfg.AutoRemediateThreshold = cfg.AutoRemediateThreshold
	brainCfg.Namespaces = cfg.Namespaces

	return brain.New(brainCfg, nil, kb, anomalyDetector, forecaster, patternDetector, validator, approvals, engine), nil
}

func healthHandler(ready *atomic.Bool) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready.Load() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ok"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
		}
	})

	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func startHealthServer(ctx context.Context, addr string, ready *atomic.Bool) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      healthHandler(ready),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("failed to shut down health server")
		}
	}()

	go func() {
		log.Info().Str("addr", addr).Msg("health/metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("health server stopped unexpectedly")
		}
	}()
}
