package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/proctor/adapter"
	"github.com/pithecene-io/proctor/adapter/redis"
	"github.com/pithecene-io/proctor/adapter/webhook"
	"github.com/pithecene-io/proctor/archive"
	"github.com/pithecene-io/proctor/cli/config"
	"github.com/pithecene-io/proctor/cli/render"
	"github.com/pithecene-io/proctor/console"
	"github.com/pithecene-io/proctor/log"
	"github.com/pithecene-io/proctor/metrics"
	"github.com/pithecene-io/proctor/runtime"
	"github.com/pithecene-io/proctor/store"
	"github.com/pithecene-io/proctor/types"
)

// RunCommand returns the run command, the only command that executes work.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Execute the configured test phases against the application suite",
		Flags: append([]cli.Flag{
			ConfigFlag,
			&cli.StringSliceFlag{
				Name:  "phase",
				Usage: "Run only the named phases, in configured order (repeatable)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run ID (default: generated UUID)",
			},
			&cli.StringFlag{
				Name:  "artifacts-dir",
				Usage: "Override the artifacts root directory",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the summary (report.json is still written)",
			},
		}, OutputFlags()...),
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ProcessExitStartup)
	}
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), runtime.ProcessExitStartup)
	}

	phases, err := selectPhases(cfg, c.StringSlice("phase"))
	if err != nil {
		return cli.Exit(err.Error(), runtime.ProcessExitStartup)
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}

	artifactsRoot := cfg.Artifacts.Dir
	if dir := c.String("artifacts-dir"); dir != "" {
		artifactsRoot = dir
	}
	if artifactsRoot == "" {
		artifactsRoot = "artifacts"
	}

	logger := log.NewLogger(runID)

	// Interactive callers get the suite output mirrored; automated callers
	// read the run directory instead.
	var consoleOut io.Writer
	caller := console.ClassifyDefault()
	if caller.Interactive {
		consoleOut = os.Stdout
	}
	logger.Debug("classified caller", map[string]any{
		"interactive": caller.Interactive,
		"reason":      caller.Reason,
	})

	connector := &store.PgxConnector{Config: store.PgConfig{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Username: cfg.Postgres.Username,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
	}}
	stores, err := store.NewManager(store.Config{
		Prefix:            cfg.Store.Prefix,
		DefaultDatabase:   cfg.Store.DefaultDatabase,
		ReferenceDatabase: cfg.Store.ReferenceDatabase,
		FilestoreRoot:     cfg.Store.FilestoreRoot,
		InitStatements:    cfg.Store.InitStatements,
	}, connector, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("store manager: %v", err), runtime.ProcessExitStartup)
	}

	collector := metrics.NewCollector(runID, cfg.Suite.Name)

	orchestrator, err := runtime.NewRunOrchestrator(&runtime.RunConfig{
		RunID:             runID,
		SuiteCommand:      cfg.Suite.Command,
		Phases:            phases,
		Stores:            stores,
		ArtifactsRoot:     artifactsRoot,
		Console:           consoleOut,
		ExtraArgs:         cfg.Suite.ExtraArgs,
		PollInterval:      cfg.Supervisor.PollInterval.Duration,
		StallWarningLimit: cfg.Supervisor.StallWarningLimit,
		GracePeriod:       cfg.Supervisor.GracePeriod.Duration,
		Collector:         collector,
	}, logger)
	if err != nil {
		return cli.Exit(fmt.Sprintf("orchestrator: %v", err), runtime.ProcessExitStartup)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	agg, runErr := orchestrator.Execute(ctx)
	duration := time.Since(start)

	report := runtime.BuildRunReport(agg, collector.Snapshot(), duration, runErr)

	reportPath, err := runtime.WriteRunReport(report, orchestrator.RunDir())
	if err != nil {
		logger.Error("failed to write run report", map[string]any{"error": err.Error()})
	} else {
		logger.Info("run report written", map[string]any{"path": reportPath})
	}

	// Notification and archiving are best-effort and never change the exit
	// code. They run on a fresh context: the signal context may already be
	// canceled.
	event := adapter.NewRunCompletedEvent(agg, cfg.Suite.Name, orchestrator.RunDir(), report.ExitCode, duration)
	publishEvent(cfg.Adapter, event, logger)
	archiveRun(cfg.Archive, runID, orchestrator.RunDir(), logger, collector)

	if !c.Bool("quiet") {
		r, rerr := render.NewRenderer(c)
		if rerr != nil {
			return rerr
		}
		if rerr := r.Render(report); rerr != nil {
			return rerr
		}
	}

	if runErr != nil {
		return cli.Exit(fmt.Sprintf("run failed: %v", runErr), report.ExitCode)
	}
	return cli.Exit("", report.ExitCode)
}

// selectPhases returns the configured plan, restricted to the --phase subset
// when given. Order always follows the configuration.
func selectPhases(cfg *config.Config, names []string) ([]types.PhaseDescriptor, error) {
	all, err := cfg.Descriptors()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}

	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}

	var selected []types.PhaseDescriptor
	for _, desc := range all {
		if wanted[desc.Name] {
			selected = append(selected, desc)
			delete(wanted, desc.Name)
		}
	}
	for name := range wanted {
		return nil, fmt.Errorf("unknown phase %q", name)
	}
	return selected, nil
}

// publishEvent sends the completion event through the configured adapter.
func publishEvent(cfg config.AdapterConfig, event *adapter.RunCompletedEvent, logger *log.Logger) {
	if cfg.Type == "" {
		return
	}

	a, err := buildAdapter(cfg)
	if err != nil {
		logger.Error("adapter setup failed", map[string]any{"type": cfg.Type, "error": err.Error()})
		return
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("adapter close failed", map[string]any{"error": cerr.Error()})
		}
	}()

	if err := a.Publish(context.Background(), event); err != nil {
		logger.Error("failed to publish run event", map[string]any{"type": cfg.Type, "error": err.Error()})
		return
	}
	logger.Info("run event published", map[string]any{"type": cfg.Type})
}

func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "redis":
		rcfg := redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			rcfg.Retries = retries
		} else {
			rcfg.Retries = redis.DefaultRetries
		}
		return redis.New(rcfg)
	case "webhook":
		wcfg := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
		}
		if retries >= 0 {
			wcfg.Retries = retries
		} else {
			wcfg.Retries = webhook.DefaultRetries
		}
		return webhook.New(wcfg)
	default:
		return nil, fmt.Errorf("unknown adapter type %q (must be redis or webhook)", cfg.Type)
	}
}

// archiveRun uploads the run directory to S3 when archiving is configured.
func archiveRun(cfg config.ArchiveConfig, runID, dir string, logger *log.Logger, collector *metrics.Collector) {
	if cfg.Bucket == "" {
		return
	}

	ctx := context.Background()
	uploader, err := archive.New(ctx, archive.Config{
		Bucket:       cfg.Bucket,
		Prefix:       cfg.Prefix,
		Region:       cfg.Region,
		Endpoint:     cfg.Endpoint,
		UsePathStyle: cfg.S3PathStyle,
	}, logger, collector)
	if err != nil {
		logger.Error("archive setup failed", map[string]any{"error": err.Error()})
		return
	}

	if err := uploader.UploadRunDir(ctx, runID, dir); err != nil {
		logger.Error("archive upload failed", map[string]any{"error": err.Error()})
	}
}
