package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/appshot/internal/manifest"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid         bool     `json:"valid"`
	Name          string   `json:"name,omitempty"`
	Verifications []string `json:"verifications,omitempty"`
	Line          int      `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var printSchema bool

	cmd := &cobra.Command{
		Use:   "validate <manifest>",
		Short: "Validate a manifest without running it",
		Long: `Validate a manifest file without launching anything.

Checks YAML syntax, unknown keys, the manifest schema, and the rules the
schema cannot express (unique names, unique outputs, driver requirements).

Use --schema to print the CUE schema manifests are checked against.`,
		Args:          cobra.RangeArgs(0, 1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printSchema {
				fmt.Fprint(cmd.OutOrStdout(), manifest.Schema())
				return nil
			}
			if len(args) != 1 {
				return NewExitError(ExitCommandError, "validate requires a manifest path")
			}
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&printSchema, "schema", false, "print the manifest schema and exit")

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	m, err := manifest.Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return outputValidateError(formatter, ErrCodeNotFound, fmt.Sprintf("manifest not found: %s", path))
		}
		return outputValidationFailure(formatter, err)
	}

	names := make([]string, 0, len(m.Verifications))
	for _, v := range m.Verifications {
		names = append(names, v.Name)
		formatter.VerboseLog("Checked verification: %s", v.Name)
	}

	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true, Name: m.Name, Verifications: names})
	}
	fmt.Fprintf(formatter.Writer, "✓ Manifest valid: %s (%d verification(s))\n", m.Name, len(names))
	return nil
}

// outputValidateError outputs a command-level error (exit code 2).
func outputValidateError(formatter *OutputFormatter, code, message string) error {
	_ = formatter.Error(code, message, nil)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationFailure outputs an invalid manifest (exit code 1).
func outputValidationFailure(formatter *OutputFormatter, err error) error {
	result := ValidationResult{Valid: false}
	var se *manifest.SchemaError
	if errors.As(err, &se) && se.Pos.IsValid() {
		result.Line = se.Pos.Line()
	}

	if formatter.Format == "json" {
		_ = formatter.Error(ErrCodeManifest, err.Error(), result)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		if result.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", result.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", ErrCodeManifest, err.Error())
	}

	return WrapExitError(ExitFailure, "validation failed", err)
}
