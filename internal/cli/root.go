package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands. Flags left empty fall
// back to the config file and FLOWGATE_* environment variables.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Definition string
	Store      string // store driver
	DB         string // SQLite database path
	As         string // uid:role1,role2
	Token      string // signed identity token
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON}

// NewRootCommand creates the root command for the flowgate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "flowgate",
		Short: "flowgate - declarative authorization and workflow engine",
		Long: `Run resources through the states, permissions and effects declared in a
definition file.

The definition, store and mail settings come from --config, FLOWGATE_*
environment variables and the flags below, in increasing order of
precedence. Operations run as the user given by --as uid:role1,role2 or
by a signed --token.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				msg := fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", msg)
				return NewExitError(ExitCommandError, msg)
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output and debug logging")
	pf.StringVar(&opts.Format, "format", FormatText, "output format (json|text)")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (YAML)")
	pf.StringVarP(&opts.Definition, "definition", "d", "", "definition file (.json, .jsonc, .yaml, .cue)")
	pf.StringVar(&opts.Store, "store", "", "store driver (sqlite|memory|redis)")
	pf.StringVar(&opts.DB, "db", "", "SQLite database path")
	pf.StringVar(&opts.As, "as", "", "act as uid:role1,role2")
	pf.StringVar(&opts.Token, "token", "", "act as the user named by a signed token")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewTypesCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewCreateCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewActionsCommand(opts))
	cmd.AddCommand(NewPerformCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewEvalCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewOutboxCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))

	return cmd
}

// formatter builds the output formatter for a command.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
