package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/config"
	stampedehttp "github.com/wesleyorama2/stampede/internal/http"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/performance/engine"
	"github.com/wesleyorama2/stampede/internal/performance/exporter"
	"github.com/wesleyorama2/stampede/internal/performance/metrics"
	"github.com/wesleyorama2/stampede/internal/performance/output"
	"github.com/wesleyorama2/stampede/internal/tracing"
	"github.com/wesleyorama2/stampede/pkg/dataset"
	"github.com/wesleyorama2/stampede/pkg/idgen"
)

var errThresholdsFailed = errors.New("thresholds failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a ramping load test.

Config file mode:
  stampede run --config employee.yaml

Quick CLI mode:
  stampede run --target localhost:8080 --dataset output-database.json \
    --select employees --stages "30s:10,1m:10,10s:0"

Exit codes: 0 when every threshold held, 99 when a threshold failed,
1 on a fatal error.`,
		Args: cobra.NoArgs,
		RunE: runLoadTest,
	}

	addOverlayFlags(cmd.Flags())
	cmd.Flags().StringP("output", "o", "", "Write the JSON report to this file")
	cmd.Flags().BoolP("quiet", "q", false, "Disable live progress output, show only the verdict")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runLoadTest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	outputPath, _ := cmd.Flags().GetString("output")
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")

	cfg, err := loadConfig(cmd, configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fatal("%w", err)
	}

	ds, err := dataset.LoadFile(cfg.Dataset.File, cfg.Dataset.LoadOptions())
	if err != nil {
		return fatal("load dataset: %w", err)
	}
	ids, err := idgen.New(cfg.Dataset.IDGenerator)
	if err != nil {
		return fatal("%w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, cfg.Tracing.TracingOptions())
	if err != nil {
		return fatal("init tracing: %w", err)
	}
	defer shutdownWithTimeout(logger, "tracing", tp.Shutdown)

	client := stampedehttp.NewClient(
		stampedehttp.WithTimeout(time.Duration(cfg.Target.Timeout)),
		stampedehttp.WithMethod(cfg.Target.Method),
		stampedehttp.WithMaxRPS(cfg.Target.MaxRPS),
		stampedehttp.WithRetries(cfg.Target.Retries, 0),
		stampedehttp.WithInsecureSkipVerify(cfg.Target.InsecureSkipVerify),
		stampedehttp.WithTracing(tp),
		stampedehttp.WithLogger(logger),
	)
	defer client.CloseIdleConnections()

	var observers []metrics.Observer
	if cfg.Metrics.Address != "" {
		exp := exporter.New(logger)
		if err := exp.Start(cfg.Metrics.Address); err != nil {
			return fatal("%w", err)
		}
		defer shutdownWithTimeout(logger, "metrics exporter", exp.Shutdown)
		observers = append(observers, exp)
	}

	eng, err := engine.New(engine.Options{
		Name:               cfg.Name,
		TargetURL:          cfg.Target.URL(),
		Headers:            cfg.Target.HTTPHeaders(),
		Dataset:            ds,
		StartIndex:         cfg.Dataset.StartIndex,
		IDField:            cfg.Dataset.IDField,
		Sender:             client,
		IDs:                ids,
		Executor:           cfg.Scenario.ExecutorConfig(),
		Thresholds:         cfg.ThresholdDefinitions(),
		EvaluationInterval: time.Duration(cfg.Evaluation.Interval),
		Observers:          observers,
		Logger:             logger,
	})
	if err != nil {
		return fatal("%w", err)
	}

	console := output.NewConsoleOutput(output.ConsoleOutputConfig{
		TestName:      cfg.Name,
		Target:        cfg.Target.URL(),
		TotalDuration: eng.TotalDuration(),
		Writer:        cmd.OutOrStdout(),
		Quiet:         quiet,
		NoColor:       noColor,
	})
	console.PrintHeader()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng, time.Second)
	}()

	report, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if runErr != nil {
		return fatal("run: %w", runErr)
	}

	console.PrintSummary(report)

	if outputPath != "" {
		if err := output.WriteJSONFile(outputPath, report); err != nil {
			return fatal("%w", err)
		}
		logger.Info().Str("path", outputPath).Msg("Report written")
	}

	if !report.Passed {
		return &ExitError{Code: ExitThresholds, Err: errThresholdsFailed}
	}
	return nil
}

// loadConfig reads the file, overlays env and flags, then validates.
func loadConfig(cmd *cobra.Command, path string) (*config.TestConfig, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, fatal("%w", err)
	}
	cfg, err := loader.Load(path)
	if err != nil {
		return nil, fatal("%w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fatal("invalid configuration: %w", err)
	}
	return cfg, nil
}

func shutdownWithTimeout(logger zerolog.Logger, name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Warn().Err(err).Str("component", name).Msg("Shutdown failed")
	}
}
