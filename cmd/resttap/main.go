package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/resttap/resttap/pkg/config"
	"github.com/resttap/resttap/pkg/engine"
	"github.com/resttap/resttap/pkg/logger"
	"github.com/resttap/resttap/pkg/sink"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "resttap",
		Short: "resttap - incremental REST API extraction engine",
		Long: `resttap extracts records from paginated REST APIs into JSONL, tracking a
per-stream replication cursor so repeated runs only fetch what changed.
Connector configuration is declarative YAML; no per-API code required.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("resttap v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	var configFile string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a connector configuration without running it",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			fmt.Printf("configuration OK: %d stream(s) against %s\n", len(cfg.Streams), cfg.APIURL)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to connector YAML configuration (required)")
	_ = validateCmd.MarkFlagRequired("config")
	root.AddCommand(validateCmd)

	var statePath, outputPath, logLevel string
	var timeout time.Duration
	var rateLimit float64

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run every configured stream to completion",
		Long: `Run extracts all configured streams sequentially, emitting RECORD and
STATE messages as JSON lines and persisting replication cursors to the
state file. A subsequent run with the same state file resumes from the
persisted cursors.

Example:
  resttap run --config connector.yaml --state state.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtraction(configFile, statePath, outputPath, logLevel, timeout, rateLimit)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to connector YAML configuration (required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().StringVarP(&statePath, "state", "s", "", "Path to the replication state file (created if missing)")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write JSONL output to this file instead of stdout")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	runCmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall run timeout (0 disables)")
	runCmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Maximum requests per second against the API (0 is unlimited)")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runExtraction(configFile, statePath, outputPath, logLevel string,
	timeout time.Duration, rateLimit float64) error {

	if err := logger.Init(logger.Config{Level: logLevel}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	out := os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	records := sink.NewJSONL(out)

	var snk sink.Sink = records
	opts := engine.Options{RateLimit: rateLimit}
	if statePath != "" {
		store, err := sink.OpenStateStore(statePath)
		if err != nil {
			return fmt.Errorf("state file error: %w", err)
		}
		snk = &sink.Composite{Records: records, Checkpoints: store}
		opts.Checkpoints = store
	}

	eng, err := engine.New(cfg, snk, opts)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	log := logger.Get().With(zap.String("component", "resttap-cli"))
	log.Info("starting extraction",
		zap.String("config", configFile),
		zap.Int("streams", len(cfg.Streams)))

	start := time.Now()
	result, err := eng.Run(ctx)
	if err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	var records64 int64
	for _, s := range result.Streams {
		records64 += s.Records
		log.Info("stream finished",
			zap.String("stream", s.Stream),
			zap.String("state", string(s.State)),
			zap.Int("pages", s.Pages),
			zap.Int64("records", s.Records),
			zap.Error(s.Err))
	}

	log.Info("extraction complete",
		zap.Duration("duration", time.Since(start)),
		zap.Int64("records", records64),
		zap.Bool("failed", result.Failed()))

	if result.Failed() {
		return fmt.Errorf("one or more streams failed")
	}
	return nil
}
