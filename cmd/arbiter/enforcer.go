package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"fedlearn-hq/arbiter/pkg/fallback"
	"fedlearn-hq/arbiter/pkg/policy/engine"
	"fedlearn-hq/arbiter/pkg/telemetry/logging"
	"fedlearn-hq/arbiter/pkg/telemetry/metrics"
)

var enforcerFlags struct {
	storeURL string
}

var enforcerCmd = &cobra.Command{
	Use:   "enforcer",
	Short: "Run the edge-side fallback enforcer",
	Long: `Run the fallback enforcer at an edge enforcement point.

The enforcer mirrors the central policy set, heartbeats the service, and
keeps evaluating against the last known-good ruleset through network
partitions. Events recorded while disconnected are spooled locally and
uploaded when connectivity returns.

Examples:
  # Point at the central service
  arbiter enforcer --store-url http://policy.internal:8080

  # With a config file
  arbiter enforcer --config /etc/arbiter/edge.yaml`,
	RunE: runEnforcer,
}

func init() {
	rootCmd.AddCommand(enforcerCmd)

	enforcerCmd.Flags().StringVar(&enforcerFlags.storeURL, "store-url", "", "base URL of the central policy service")
}

func runEnforcer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if enforcerFlags.storeURL != "" {
		cfg.Fallback.StoreURL = enforcerFlags.storeURL
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging); err != nil {
		return err
	}

	engineCfg := engine.DefaultConfig()
	engineCfg.EvaluationTimeout = cfg.Engine.EvaluationTimeout
	for _, t := range cfg.Engine.DefaultDenyTypes {
		engineCfg.DefaultDeny[t] = true
	}

	registry := metrics.NewRegistry()
	fallbackMetrics := metrics.NewFallbackMetrics(registry)

	enforcer, err := fallback.NewEnforcer(&fallback.Config{
		StoreURL:          cfg.Fallback.StoreURL,
		HeartbeatInterval: cfg.Fallback.HeartbeatInterval,
		FailureThreshold:  cfg.Fallback.FailureThreshold,
		BackoffBase:       cfg.Fallback.BackoffBase,
		BackoffFactor:     cfg.Fallback.BackoffFactor,
		BackoffMax:        cfg.Fallback.BackoffMax,
		SyncInterval:      cfg.Fallback.SyncInterval,
		RequestTimeout:    cfg.Fallback.RequestTimeout,
		SpoolPath:         cfg.Fallback.SpoolPath,
		UploadBatchSize:   cfg.Fallback.UploadBatchSize,
		BufferCapacity:    cfg.Events.BufferCapacity,
		Engine:            engineCfg,
	}, fallback.WithStateListener(func(from, to fallback.State) {
		fallbackMetrics.RecordTransition(string(from), string(to))
		fallbackMetrics.SetState(string(to))
	}))
	if err != nil {
		return fmt.Errorf("failed to create enforcer: %w", err)
	}
	fallbackMetrics.SetState(string(enforcer.State()))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	slog.Info("enforcer starting", "version", Version, "store_url", cfg.Fallback.StoreURL)
	return enforcer.Run(ctx)
}
