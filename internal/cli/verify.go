package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/manifest"
	"github.com/roach88/appshot/internal/report"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
	Output   string
	Headless bool
	Timeout  time.Duration
	Driver   string
	Database string
	Name     string
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify [flags] <executable> [args...]",
		Short: "Launch an application and capture its first window",
		Long: `Launch an application, wait for its first window to finish loading,
write a PNG screenshot to --output and shut the application down.

Flags must come before the executable; everything after it is passed to
the application unchanged.

Drivers:
  app      Chromium-based executables (Electron shells, browsers), over CDP
  display  any executable; captures the whole primary display

Exit codes:
  0  screenshot written
  1  verification failed (E_LAUNCH, E_NO_SURFACE, E_TIMEOUT, E_CAPTURE)
  2  command error

Example:
  appshot verify -o artifacts/shell.png ./node_modules/.bin/electron .
  appshot verify --driver display --headless=false -o desk.png xclock`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args, cmd)
		},
	}
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "path of the PNG to write (required)")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run the application without a visible window")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-step timeout (default from config, 30s)")
	cmd.Flags().StringVar(&opts.Driver, "driver", "", "driver: app or display (default from config, app)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite ledger")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name recorded in the ledger (default: executable base name)")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runVerify(opts *VerifyOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if !flags.Changed("headless") {
		opts.Headless = cfg.Headless
	}
	if opts.Driver == "" {
		opts.Driver = cfg.Driver
	}
	if opts.Database == "" {
		opts.Database = cfg.DB
	}
	if opts.Name == "" {
		opts.Name = filepath.Base(args[0])
	}
	if opts.Driver != manifest.DriverApp && opts.Driver != manifest.DriverDisplay {
		msg := fmt.Sprintf("invalid driver %q: must be app or display", opts.Driver)
		_ = formatter.Error(ErrCodeUsage, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	logger := opts.logger(cmd)

	led, err := openLedger(opts.Database, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer led.Close()

	h, err := opts.newHarness(DriverSpec{Driver: opts.Driver}, cfg, logger, opts.Timeout)
	if err != nil {
		_ = formatter.Error(ErrCodeUsage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to create driver", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	req := harness.Request{
		Executable: args[0],
		Args:       args[1:],
		Output:     opts.Output,
		Headless:   opts.Headless,
	}
	formatter.VerboseLog("Verifying %s with the %s driver (timeout %s)", req.Executable, opts.Driver, h.Timeout())

	started := time.Now()
	art, verr := h.Verify(ctx, req)
	res := report.NewResult(opts.Name, opts.Driver, opts.Output, art, verr, time.Since(started))
	led.record(ctx, "", res, req, started)

	return outputResult(formatter, res, verr)
}

// outputResult prints one verification outcome and maps failures to
// ExitFailure.
func outputResult(formatter *OutputFormatter, res report.Result, verr error) error {
	formatter.SessionID = res.SessionID
	if verr != nil {
		_ = formatter.Error(ErrorCode(verr), verr.Error(), res.Steps)
		return WrapExitError(ExitFailure, "verification failed", verr)
	}

	if formatter.Format == "json" {
		return formatter.Success(res)
	}
	fmt.Fprintf(formatter.Writer, "✓ %s: captured %s (%d bytes, %dx%d) in %s\n",
		res.Name, res.Output, res.Bytes, res.Width, res.Height,
		(time.Duration(res.ElapsedMS) * time.Millisecond).String())
	return nil
}
