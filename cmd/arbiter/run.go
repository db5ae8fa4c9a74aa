package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"fedlearn-hq/arbiter/pkg/compliance"
	"fedlearn-hq/arbiter/pkg/config"
	"fedlearn-hq/arbiter/pkg/events"
	"fedlearn-hq/arbiter/pkg/events/archive"
	"fedlearn-hq/arbiter/pkg/policy/engine"
	"fedlearn-hq/arbiter/pkg/policy/store"
	"fedlearn-hq/arbiter/pkg/policy/store/source"
	"fedlearn-hq/arbiter/pkg/server"
	"fedlearn-hq/arbiter/pkg/telemetry/health"
	"fedlearn-hq/arbiter/pkg/telemetry/logging"
	"fedlearn-hq/arbiter/pkg/telemetry/metrics"
	"fedlearn-hq/arbiter/pkg/telemetry/tracing"
	"fedlearn-hq/arbiter/pkg/trust"
)

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the central policy service",
	Long: `Start the central policy service with the specified configuration.

The service loads the policy set from disk and/or its database, serves
evaluation checks and policy management over HTTP, tracks trust scores,
and records the audit event trail.

Examples:
  # Start with default config
  arbiter run

  # Start with custom config
  arbiter run --config /etc/arbiter/config.yaml

  # Override listen address
  arbiter run --listen 0.0.0.0:8080

  # Validate config without starting
  arbiter run --dry-run`,
	RunE: runService,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the service")
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		// No config file; run on defaults plus environment overrides.
		cfg := config.Default()
		return cfg, config.Validate(cfg)
	}
	return config.LoadWithEnvOverrides(cfgFile)
}

func runService(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.Setup(cfg.Telemetry.Logging)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry.Tracing, "arbiter", Version)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer shutdownTracing(context.Background())

	// Metrics.
	registry := metrics.NewRegistry()
	policyMetrics := metrics.NewPolicyMetrics(registry)
	trustMetrics := metrics.NewTrustMetrics(registry)

	// Event buffer and archive.
	buffer := events.NewBuffer(cfg.Events.BufferCapacity)
	eventMetrics := metrics.NewEventMetrics(registry, buffer)

	var arch *archive.Archive
	if cfg.Events.Archive.Enabled {
		arch, err = archive.New(&archive.Config{
			Path:          cfg.Events.Archive.Path,
			RetentionDays: cfg.Events.Archive.RetentionDays,
			MaxRows:       cfg.Events.Archive.MaxRows,
			PruneSchedule: cfg.Events.Archive.PruneSchedule,
			WALMode:       true,
		})
		if err != nil {
			return fmt.Errorf("failed to open event archive: %w", err)
		}
		defer arch.Close()

		archiveHook := arch.EvictionHook()
		buffer.SetEvictionHook(func(ev *events.Event) {
			eventMetrics.RecordEviction()
			archiveHook(ev)
		})

		scheduler := archive.NewScheduler(arch)
		if err := scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start archive scheduler: %w", err)
		}
		defer scheduler.Stop()
	} else {
		buffer.SetEvictionHook(func(*events.Event) { eventMetrics.RecordEviction() })
	}

	// Policy store.
	storeOpts := []store.Option{store.WithRecorder(buffer)}
	if cfg.Policy.DatabasePath != "" {
		persister, err := store.NewSQLitePersister(&store.SQLiteConfig{
			Path:    cfg.Policy.DatabasePath,
			WALMode: true,
		})
		if err != nil {
			return fmt.Errorf("failed to open policy database: %w", err)
		}
		defer persister.Close()
		storeOpts = append(storeOpts, store.WithPersister(persister))
	}
	st := store.New(storeOpts...)

	if cfg.Policy.DatabasePath != "" {
		if err := st.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore policy set: %w", err)
		}
	}

	// File source: the on-disk set takes precedence over whatever the
	// database held, and can be hot-reloaded.
	if cfg.Policy.SourcePath != "" {
		fileSource := source.NewFileSource(cfg.Policy.SourcePath, logger)
		defs, err := fileSource.Load(ctx)
		if err != nil {
			return fmt.Errorf("failed to load policy source: %w", err)
		}
		if err := st.Load(ctx, defs); err != nil {
			return fmt.Errorf("failed to load policy set: %w", err)
		}

		if cfg.Policy.Watch {
			go func() {
				err := fileSource.Watch(ctx, cfg.Policy.WatchDebounce, func() error {
					defs, err := fileSource.Load(ctx)
					if err != nil {
						return err
					}
					return st.Load(ctx, defs)
				})
				if err != nil && ctx.Err() == nil {
					slog.Error("policy watcher stopped", "error", err)
				}
			}()
		}
	}
	policyMetrics.SetVersion(st.Version())

	// Engine.
	engineCfg := engine.DefaultConfig()
	engineCfg.EvaluationTimeout = cfg.Engine.EvaluationTimeout
	engineCfg.CacheEnabled = cfg.Engine.CacheEnabled
	engineCfg.CacheTTL = cfg.Engine.CacheTTL
	for _, t := range cfg.Engine.DefaultDenyTypes {
		engineCfg.DefaultDeny[t] = true
	}
	evaluator, err := engine.New(
		engine.SourceFunc(func() engine.Snapshot { return st.Snapshot() }),
		engineCfg,
		engine.WithRecorder(buffer),
		engine.WithObserver(policyMetrics),
	)
	if err != nil {
		return fmt.Errorf("failed to create evaluator: %w", err)
	}

	// Trust tracker.
	trustCfg := trust.DefaultConfig()
	trustCfg.Decay = cfg.Trust.Decay
	trustCfg.HistoryLimit = cfg.Trust.HistoryLimit
	trustCfg.HighThreshold = cfg.Trust.HighThreshold
	trustCfg.MediumThreshold = cfg.Trust.MediumThreshold
	if len(cfg.Trust.Weights) > 0 {
		trustCfg.Weights = cfg.Trust.Weights
	}
	tracker, err := trust.NewTracker(trustCfg, trust.WithRecorder(buffer))
	if err != nil {
		return fmt.Errorf("failed to create trust tracker: %w", err)
	}
	// Keep the trust histogram and the version gauge current by watching
	// the event stream the subsystems already emit.
	go observeEvents(ctx, buffer, tracker, trustMetrics, policyMetrics, st)

	reporter := compliance.NewReporter(buffer)

	// Health checks.
	checker := health.NewChecker()
	checker.Register("policy_store", func(ctx context.Context) error {
		if st.Snapshot() == nil {
			return fmt.Errorf("no policy snapshot")
		}
		return nil
	})
	if arch != nil {
		checker.Register("event_archive", func(ctx context.Context) error {
			_, err := arch.Count(ctx)
			return err
		})
	}

	srv := server.New(&cfg.Server, &cfg.Telemetry.Metrics, server.Deps{
		Store:     st,
		Evaluator: evaluator,
		Tracker:   tracker,
		Reporter:  reporter,
		Buffer:    buffer,
		Archive:   arch,
		Checker:   checker,
		Registry:  registry,
	})

	slog.Info("arbiter starting",
		"version", Version,
		"policies", st.Snapshot().Len(),
		"policy_version", st.Version(),
	)
	return srv.Start(ctx)
}

// observeEvents feeds metrics from the audit event stream so instrumented
// subsystems stay decoupled from Prometheus.
func observeEvents(ctx context.Context, buffer *events.Buffer, tracker *trust.Tracker, tm *metrics.TrustMetrics, pm *metrics.PolicyMetrics, st *store.Store) {
	ch, cancel := buffer.Subscribe(256)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case events.TypeTrustUpdate:
				if score, ok := ev.Metadata["new_score"].(float64); ok {
					tm.RecordUpdate(string(tracker.Band(ev.SubjectID)), score)
				}
			case events.TypePolicyMutation:
				if op, ok := ev.Metadata["operation"].(string); ok {
					pm.RecordMutation(op)
				}
				pm.SetVersion(st.Version())
			}
		}
	}
}
