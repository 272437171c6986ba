package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jarvis-fineops/kratos-ai/internal/ai/brain"
	"github.com/jarvis-fineops/kratos-ai/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Inspect and validate kratos-ai's configuration`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		fmt.Printf("mode:                      %s\n", cfg.Mode)
		fmt.Printf("data_dir:                  %s\n", cfg.DataDir)
		fmt.Printf("observe_interval:          %s\n", cfg.ObserveInterval)
		fmt.Printf("predict_interval:          %s\n", cfg.PredictInterval)
		fmt.Printf("prediction_threshold:      %.2f\n", cfg.PredictionThreshold)
		fmt.Printf("auto_remediate_threshold:  %.2f\n", cfg.AutoRemediateThreshold)
		fmt.Printf("namespaces:                %v\n", cfg.Namespaces)
		fmt.Printf("protected_namespaces:      %v\n", cfg.ProtectedNamespaces)
		fmt.Printf("max_actions_per_hour:      %d\n", cfg.MaxActionsPerHour)
		fmt.Printf("cooldown_seconds:          %d\n", cfg.CooldownSeconds)
		fmt.Printf("approval_timeout:          %s\n", cfg.ApprovalTimeout)
		fmt.Printf("metrics_port:              %d\n", cfg.MetricsPort)
		fmt.Printf("health_port:               %d\n", cfg.HealthPort)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Load the configuration and report whether it is well-formed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		if err := validateConfig(cfg); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		fmt.Println("configuration OK")
		return nil
	},
}

func validateConfig(cfg *config.Config) error {
	switch brain.Mode(cfg.Mode) {
	case brain.ModeObserve, brain.ModePredict, brain.ModeRecommend, brain.ModeSemiAuto, brain.ModeAuto:
	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	if cfg.PredictionThreshold < 0 || cfg.PredictionThreshold > 1 {
		return fmt.Errorf("prediction_threshold must be in [0,1], got %f", cfg.PredictionThreshold)
	}
	if cfg.AutoRemediateThreshold < 0 || cfg.AutoRemediateThreshold > 1 {
		return fmt.Errorf("auto_remediate_threshold must be in [0,1], got %f", cfg.AutoRemediateThreshold)
	}
	if cfg.ObserveInterval <= 0 {
		return fmt.Errorf("observe_interval must be positive")
	}
	if cfg.PredictInterval <= 0 {
		return fmt.Errorf("predict_interval must be positive")
	}
	return nil
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}
