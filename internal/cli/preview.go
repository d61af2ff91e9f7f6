package cli

import (
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/cdp"
	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/manifest"
	"github.com/roach88/appshot/internal/preview"
	"github.com/roach88/appshot/internal/report"
)

// PreviewOptions holds flags for the preview command.
type PreviewOptions struct {
	*RootOptions
	Output     string
	Build      string
	Serve      string
	Viewport   string
	FullPage   bool
	Settle     time.Duration
	Timeout    time.Duration
	Headless   bool
	BrowserBin string
	Database   string
	Name       string
}

// NewPreviewCommand creates the preview command.
func NewPreviewCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreviewOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preview [url]",
		Short: "Capture a page served by a local preview server",
		Long: `Open a URL in a browser and capture it.

With --build, the given command (for example "npm run build") runs to
completion first. With --serve, the given command is started next (for
example "npm run preview"), the URL is polled with HEAD requests until it
answers, and the server is stopped again when the capture is done, whether
or not it succeeded. Commands are split on whitespace; no shell is involved.

The page counts as loaded once the load event fired and the network has
been idle for browser.idle (500ms), followed by browser.settle (1s). The
full scrollable page is captured unless --full-page=false.

The URL defaults to preview.url from the config (http://localhost:4173).

Example:
  appshot preview --build "npm run build" --serve "npm run preview" -o artifacts/preview.png
  appshot preview http://localhost:8080/about -o about.png --viewport 1280x800`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreview(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "path of the PNG to write (required)")
	cmd.Flags().StringVar(&opts.Build, "build", "", "command run to completion before serving (default from config)")
	cmd.Flags().StringVar(&opts.Serve, "serve", "", "command that serves the URL; started before and stopped after the capture (default from config)")
	cmd.Flags().StringVar(&opts.Viewport, "viewport", "", "viewport as WIDTHxHEIGHT (default from config, 1365x768)")
	cmd.Flags().BoolVar(&opts.FullPage, "full-page", true, "capture the full scrollable page (default from config, true)")
	cmd.Flags().DurationVar(&opts.Settle, "settle", 0, "extra delay once the page is idle (default from config, 1s)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-step timeout (default from config, 30s)")
	cmd.Flags().BoolVar(&opts.Headless, "headless", true, "run the browser without a visible window")
	cmd.Flags().StringVar(&opts.BrowserBin, "browser", "", "browser executable (default: system browser)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "record the run in this SQLite ledger")
	cmd.Flags().StringVar(&opts.Name, "name", "preview", "name recorded in the ledger")
	_ = cmd.MarkFlagRequired("output")

	return cmd
}

func runPreview(opts *PreviewOptions, args []string, cmd *cobra.Command) error {
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

	url := cfg.Preview.URL
	if len(args) == 1 {
		url = args[0]
	}
	if !cmd.Flags().Changed("headless") {
		opts.Headless = cfg.Headless
	}
	if !cmd.Flags().Changed("full-page") {
		opts.FullPage = cfg.Preview.FullPage
	}
	if opts.Build == "" {
		opts.Build = cfg.Preview.Build
	}
	if opts.Serve == "" {
		opts.Serve = cfg.Preview.Serve
	}
	if opts.Viewport == "" {
		opts.Viewport = cfg.Browser.Viewport
	}
	if opts.BrowserBin == "" {
		opts.BrowserBin = cfg.Browser.Bin
	}
	if opts.Database == "" {
		opts.Database = cfg.DB
	}

	vp, err := cdp.ParseViewport(opts.Viewport)
	if err != nil {
		_ = formatter.Error(ErrCodeUsage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid viewport", err)
	}

	logger := opts.logger(cmd)

	led, err := openLedger(opts.Database, logger)
	if err != nil {
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer led.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	if opts.Build != "" {
		if err := preview.Build(ctx, strings.Fields(opts.Build), logger); err != nil {
			_ = formatter.Error(ErrCodeBuild, err.Error(), nil)
			return WrapExitError(ExitCommandError, "build failed", err)
		}
	}

	if opts.Serve != "" {
		server, err := preview.Start(ctx, strings.Fields(opts.Serve), logger)
		if err != nil {
			_ = formatter.Error(ErrCodeServe, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to start preview server", err)
		}
		defer func() {
			if err := server.Stop(cfg.Preview.Grace); err != nil {
				logger.Error("failed to stop preview server", "error", err)
			}
		}()

		formatter.VerboseLog("Waiting for %s (%d attempts, %s apart)", url, cfg.Preview.Attempts, cfg.Preview.Interval)
		if err := preview.WaitReady(ctx, url, preview.ReadyCheck{
			Attempts: cfg.Preview.Attempts,
			Interval: cfg.Preview.Interval,
			Exited:   server.Exited(),
		}); err != nil {
			_ = formatter.Error(ErrCodeServe, err.Error(), nil)
			return WrapExitError(ExitCommandError, "preview server not ready", err)
		}
	}

	spec := DriverSpec{
		Driver:   manifest.DriverBrowser,
		URL:      url,
		Viewport: vp,
		FullPage: opts.FullPage,
		Settle:   opts.Settle,
	}
	h, err := opts.newHarness(spec, cfg, logger, opts.Timeout)
	if err != nil {
		_ = formatter.Error(ErrCodeUsage, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to create driver", err)
	}

	req := harness.Request{
		Executable: opts.BrowserBin,
		Output:     opts.Output,
		Headless:   opts.Headless,
	}
	formatter.VerboseLog("Capturing %s at %s", url, vp)

	started := time.Now()
	art, verr := h.Verify(ctx, req)
	res := report.NewResult(opts.Name, manifest.DriverBrowser, opts.Output, art, verr, time.Since(started))
	led.record(ctx, "", res, req, started)

	return outputResult(formatter, res, verr)
}
