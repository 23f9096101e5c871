package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowgate/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Hash     string                     `json:"hash,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [definition-file]",
		Short: "Validate a definition file",
		Long: `Decode, schema-check and compile a definition file, then check its
cross references: states, roles, properties and functions.

Every semantic error is reported, not just the first. Recursive named
functions are reported as warnings.

Exit codes:
  0 - Definition is valid
  1 - Definition is invalid
  2 - Command error (unreadable file, unknown extension)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
				}
				path = cfg.Definition
			}
			if path == "" {
				return f.Fail(ExitCommandError, ErrCodeDefinition, "no definition: pass a file or --definition", nil)
			}
			return runValidate(f, path)
		},
	}
	return cmd
}

func runValidate(f *OutputFormatter, path string) error {
	f.VerboseLog("Validating %s", path)

	def, err := compiler.LoadFile(path)
	if err != nil {
		var (
			verrs *compiler.ValidationErrors
			cerr  *compiler.CompileError
		)
		switch {
		case errors.As(err, &verrs):
			return outputValidationErrors(f, verrs.Errors)
		case errors.As(err, &cerr):
			return outputValidationErrors(f, []compiler.ValidationError{{
				Field:   cerr.Field,
				Message: cerr.Message,
				Code:    "COMPILE",
			}})
		}
		return f.Fail(ExitCommandError, ErrCodeDefinition, "loading definition", err)
	}

	f.VerboseLog("Definition hash: %s", def.Hash)
	result := ValidationResult{Valid: true, Hash: def.Hash, Warnings: compiler.AnalyzeFunctionCycles(def)}
	if f.Format == FormatJSON {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ %s is valid (%d resource types)\n", def.Name, len(def.Resources))
	for _, w := range result.Warnings {
		fmt.Fprintf(f.Writer, "  warning: %s\n", w.Message)
	}
	return nil
}

func outputValidationErrors(f *OutputFormatter, errs []compiler.ValidationError) error {
	if f.Format == FormatJSON {
		if err := f.encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    ErrCodeDefinition,
				Message: fmt.Sprintf("%d validation error(s)", len(errs)),
			},
		}); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(f.Writer, "✗ Validation failed")
		for _, e := range errs {
			fmt.Fprintf(f.Writer, "  [%s] %s: %s\n", e.Code, e.Field, e.Message)
		}
	}
	return NewExitError(ExitFailure, "validation failed")
}
