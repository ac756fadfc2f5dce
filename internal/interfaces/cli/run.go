package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	appintegration "github.com/erp/woosync/internal/application/integration"
	"github.com/erp/woosync/internal/infrastructure/config"
	"github.com/erp/woosync/internal/infrastructure/source"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Input             string
	Source            string
	SummaryFormat     string
	SummaryFile       string
	FailOnRecordError bool
}

// ValidSummaryFormats lists the accepted --summary-format values
var ValidSummaryFormats = []string{"text", "json", "yaml", "none"}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one stream of records and exit",
		Long: `Read Singer-style RECORD messages (or a Kafka topic), upsert them into the
store and exit when the input is exhausted.

After every batch the sync state is saved to the configured state backend
and written to stdout as a STATE message. Logs go to stderr. The export
summary is printed at the end, also when the run stops early.

Example:
  tap-unified | woosync run --config woosync.toml
  woosync run --input records.jsonl --summary-format json --summary-file summary.json`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if !isValidSummaryFormat(opts.SummaryFormat) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid summary format %q: must be one of %v", opts.SummaryFormat, ValidSummaryFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", `JSONL input file; "-" reads stdin (overrides source.path)`)
	cmd.Flags().StringVar(&opts.Source, "source", "", "record source: jsonl or kafka (overrides source.kind)")
	cmd.Flags().StringVar(&opts.SummaryFormat, "summary-format", "text", "summary format (text|json|yaml|none)")
	cmd.Flags().StringVar(&opts.SummaryFile, "summary-file", "", "write the summary to this file instead of stderr")
	cmd.Flags().BoolVar(&opts.FailOnRecordError, "fail-on-record-error", false, "exit with status 1 when any record failed")

	return cmd
}

func runSync(cmd *cobra.Command, opts *RunOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if opts.Input != "" {
		cfg.Source.Path = opts.Input
	}
	if opts.Source != "" {
		cfg.Source.Kind = strings.ToLower(opts.Source)
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, opts.Version)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start", err)
	}
	defer a.close(context.Background())

	if opts.Preflight {
		if err := a.client.Ping(ctx); err != nil {
			return WrapExitError(ExitCommandError, "store preflight failed", err)
		}
	}

	src, closeSource, err := openSource(cfg.Source, cmd.InOrStdin(), a.logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open record source", err)
	}
	defer func() {
		if err := closeSource(); err != nil {
			a.logger.Warn("Failed to close record source", zap.Error(err))
		}
	}()

	service := a.syncService(source.NewStateWriter(cmd.OutOrStdout()))
	report, runErr := service.Run(ctx, src)

	if report != nil {
		report.Log(a.logger)
		if err := writeSummary(cmd, opts, report); err != nil {
			a.logger.Error("Failed to write summary", zap.Error(err))
		}
	}

	switch {
	case runErr != nil && isCanceled(runErr):
		a.logger.Info("Run interrupted; state saved up to the last completed batch")
		return nil
	case runErr != nil:
		return WrapExitError(ExitFailure, "sync run failed", runErr)
	case opts.FailOnRecordError && report != nil && report.Failed() > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d record(s) failed", report.Failed()))
	}
	return nil
}

// openSource opens the configured record source. The returned func releases it.
func openSource(cfg config.SourceConfig, stdin io.Reader, log *zap.Logger) (appintegration.RecordSource, func() error, error) {
	switch cfg.Kind {
	case "", config.SourceJSONL:
		if cfg.Path == "" || cfg.Path == "-" {
			return source.NewJSONLSource(stdin, log), func() error { return nil }, nil
		}
		f, err := os.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open input: %w", err)
		}
		return source.NewJSONLSource(f, log), f.Close, nil
	case config.SourceKafka:
		kc := source.DefaultKafkaConfig()
		kc.Brokers = cfg.Kafka.Brokers
		kc.Topic = cfg.Kafka.Topic
		if cfg.Kafka.GroupID != "" {
			kc.GroupID = cfg.Kafka.GroupID
		}
		if cfg.Kafka.BatchWait > 0 {
			kc.BatchWait = cfg.Kafka.BatchWait
		}
		src, err := source.NewKafkaSource(kc, log)
		if err != nil {
			return nil, nil, err
		}
		return src, src.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown source kind %q (expected jsonl or kafka)", cfg.Kind)
	}
}

func writeSummary(cmd *cobra.Command, opts *RunOptions, report *appintegration.RunReport) error {
	if opts.SummaryFormat == "none" {
		return nil
	}
	out, err := report.Encode(opts.SummaryFormat)
	if err != nil {
		return err
	}
	if opts.SummaryFile != "" {
		return os.WriteFile(opts.SummaryFile, out, 0o644)
	}
	_, err = cmd.ErrOrStderr().Write(out)
	return err
}

func isValidSummaryFormat(format string) bool {
	for _, f := range ValidSummaryFormats {
		if f == format {
			return true
		}
	}
	return false
}
