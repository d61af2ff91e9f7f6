package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/harness"
	"github.com/roach88/appshot/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Name     string
	Failed   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded verifications",
		Long: `Show verifications recorded in the run ledger, newest first.

With a run id, show that run including its lifecycle steps.

Examples:
  appshot history --db runs.db
  appshot history --db runs.db --name electron-shell --limit 5
  appshot history --db runs.db 0190c6f1-... --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite ledger (default from config)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to show (0 = all)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "only runs of this verification")
	cmd.Flags().BoolVar(&opts.Failed, "failed", false, "only failed runs")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Database == "" {
		cfg, err := opts.loadConfig()
		if err != nil {
			_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		opts.Database = cfg.DB
	}
	if opts.Database == "" {
		_ = formatter.Error(ErrCodeLedger, "no ledger configured: pass --db or set db in the config", nil)
		return NewExitError(ExitCommandError, "no ledger configured")
	}

	st, err := store.OpenExisting(opts.Database)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			msg := fmt.Sprintf("ledger not found: %s", opts.Database)
			_ = formatter.Error(ErrCodeNotFound, msg, nil)
			return WrapExitError(ExitCommandError, msg, err)
		}
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()

	if len(args) == 1 {
		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		if formatter.Format == "json" {
			return formatter.Success(run)
		}
		printRun(formatter, run)
		return nil
	}

	filter := store.Filter{Limit: opts.Limit, Name: opts.Name}
	if opts.Failed {
		filter.Status = harness.OutcomeFailed
	}
	runs, err := st.ListRuns(ctx, filter)
	if err != nil {
		_ = formatter.Error(ErrCodeLedger, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}

	if formatter.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(formatter.Writer, "No runs recorded.")
		return nil
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Driver", "Status", "Error", "Elapsed", "Output", "Started"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.Name,
			r.Driver,
			r.Status,
			r.ErrorKind,
			(time.Duration(r.ElapsedMS) * time.Millisecond).String(),
			r.Output,
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Fprintln(formatter.Writer, t.Render())
	return nil
}

func printRun(formatter *OutputFormatter, r store.Run) {
	w := formatter.Writer
	fmt.Fprintf(w, "Run %s\n", r.ID)
	if r.Batch != "" {
		fmt.Fprintf(w, "  batch:    %s\n", r.Batch)
	}
	fmt.Fprintf(w, "  name:     %s\n", r.Name)
	fmt.Fprintf(w, "  driver:   %s\n", r.Driver)
	fmt.Fprintf(w, "  target:   %s\n", r.Executable)
	fmt.Fprintf(w, "  output:   %s\n", r.Output)
	fmt.Fprintf(w, "  status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(w, "  error:    %s\n", r.Error)
	}
	if r.Status == harness.OutcomeOK {
		fmt.Fprintf(w, "  image:    %dx%d, %d bytes, sha256 %s\n", r.Width, r.Height, r.Bytes, r.SHA256)
	}
	fmt.Fprintf(w, "  started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Step", "Outcome", "Elapsed", "Error"})
	for _, s := range r.Steps {
		t.AppendRow(table.Row{s.Step, s.Outcome, fmt.Sprintf("%dms", s.ElapsedMS), s.Error})
	}
	fmt.Fprintln(w, t.Render())
}
