package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/cdp"
	"github.com/roach88/appshot/internal/config"
	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/manifest"
	"github.com/roach88/appshot/internal/report"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
	Report   string // canonical JSON report path
	Filter   string // verification filter (glob pattern)
	FailFast bool
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run every verification in a manifest",
		Long: `Run the verifications listed in a manifest file, one after another.

Each verification gets its own application instance and is torn down
before the next one starts. A failing verification does not stop the
batch unless --fail-fast is given.

Exit codes:
  0 - All verifications passed
  1 - One or more verifications failed
  2 - Command error (invalid manifest, database not found, etc.)

Examples:
  appshot run appshot.manifest.yaml
  appshot run nightly.yaml --filter "electron-*" --report out/report.json
  appshot run nightly.yaml --db runs.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runManifest(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "record runs in this SQLite ledger")
	cmd.Flags().StringVar(&opts.Report, "report", "", "write a canonical JSON report to this path")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter verifications by glob pattern")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first failed verification")

	return cmd
}

func runManifest(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(path)
	if err != nil {
		_ = formatter.Error(ErrCodeManifest, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load manifest", err)
	}
	items, err := m.Filter(opts.Filter)
	if err != nil {
		_ = formatter.Error(ErrCodeUsage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid filter", err)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database == "" {
		opts.Database = cfg.DB
	}

	logger := opts.logger(cmd).With("batch", m.Name)

	led, err := openLedger(opts.Database, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer led.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	batch := report.NewBatch(m.Name)
	formatter.VerboseLog("Running %d of %d verification(s) from %s", len(items), len(m.Verifications), path)

	for _, it := range items {
		if ctx.Err() != nil {
			logger.Warn("batch interrupted", "remaining", len(items)-batch.Total)
			break
		}

		res := runItem(ctx, opts, it, cfg, cmd, led, m.Name)
		batch.Add(res)

		if formatter.Format != "json" {
			printItem(formatter, res)
		}
		if opts.FailFast && res.Status != harness.OutcomeOK {
			break
		}
	}

	if opts.Report != "" {
		if err := batch.WriteFile(opts.Report); err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
		formatter.VerboseLog("Report written to %s", opts.Report)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(batch); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Summary: %d passed, %d failed, %d total\n", batch.Passed, batch.Failed, batch.Total)
	}

	if !batch.OK() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d verification(s) failed", batch.Failed))
	}
	if formatter.Format != "json" {
		fmt.Fprintln(formatter.Writer, "✓ All verifications passed")
	}
	return nil
}

// runItem performs one manifest verification. Setup problems (bad
// viewport, unknown driver) fail the item, not the batch.
func runItem(ctx context.Context, opts *RunOptions, it manifest.Item, cfg *config.Config, cmd *cobra.Command, led *ledger, batchName string) report.Result {
	logger := opts.logger(cmd).With("batch", batchName, "verification", it.Name)

	spec := DriverSpec{
		Driver:   it.Driver,
		URL:      it.URL,
		FullPage: it.FullPage,
		Settle:   it.Settle,
	}
	req := it.Request
	if it.Driver == manifest.DriverBrowser {
		vpText := it.Viewport
		if vpText == "" {
			vpText = cfg.Browser.Viewport
		}
		vp, err := cdp.ParseViewport(vpText)
		if err != nil {
			return report.NewResult(it.Name, it.Driver, req.Output, nil, err, 0)
		}
		spec.Viewport = vp
		if req.Executable == "" {
			req.Executable = cfg.Browser.Bin
		}
	}

	h, err := opts.newHarness(spec, cfg, logger, it.Timeout)
	if err != nil {
		return report.NewResult(it.Name, it.Driver, req.Output, nil, err, 0)
	}

	started := time.Now()
	art, verr := h.Verify(ctx, req)
	res := report.NewResult(it.Name, it.Driver, req.Output, art, verr, time.Since(started))
	led.record(ctx, batchName, res, req, started)
	return res
}

func printItem(formatter *OutputFormatter, res report.Result) {
	w := formatter.Writer
	if res.Status == harness.OutcomeOK {
		fmt.Fprintf(w, "✓ %s: %s (%dx%d)\n", res.Name, res.Output, res.Width, res.Height)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", res.Name)
	fmt.Fprintf(w, "  - %s\n", res.Error)
}
