package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/flowgate/internal/expr"
	"github.com/roach88/flowgate/internal/ir"
)

// EvalOptions holds flags for the eval command.
type EvalOptions struct {
	*RootOptions
	Self  string
	Input string
}

// NewEvalCommand creates the eval command.
func NewEvalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EvalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "eval <expression-json>",
		Short: "Evaluate an expression",
		Long: `Evaluate a JSON expression against a resource snapshot, an action input
and, when --as or --token is given, a user.

When a definition is configured its named functions can be called.

Examples:
  flowgate eval '{"+": [1, 2]}'
  flowgate eval '{"stringLength": {"get": "title"}}' --self '{"title": "Plan"}'
  flowgate eval '{"contains": {"haystack": {"getUser": "roles"}, "needle": "admin"}}' --as ada:admin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEval(opts, args[0], rootOpts.formatter(cmd))
		},
	}

	cmd.Flags().StringVar(&opts.Self, "self", "", "resource snapshot as a JSON object")
	cmd.Flags().StringVar(&opts.Input, "input", "", "action input as a JSON object")

	return cmd
}

func runEval(opts *EvalOptions, raw string, f *OutputFormatter) error {
	node, err := expr.ParseJSON([]byte(raw))
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "parsing expression", err)
	}
	self, err := parseObject("self", opts.Self, f)
	if err != nil {
		return err
	}
	input, err := parseObject("input", opts.Input, f)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	ctxOpts := []expr.Option{expr.WithSelf(self), expr.WithInput(input)}
	if cfg.Definition != "" {
		def, err := loadDefinition(cfg)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDefinition, "loading definition", err)
		}
		ctxOpts = append(ctxOpts, expr.WithFunctions(def.Functions))
		f.VerboseLog("Loaded %d function(s) from %s", len(def.Functions), cfg.Definition)
	}
	if opts.As != "" || opts.Token != "" {
		user, err := resolveUser(opts.RootOptions, cfg)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeUser, "resolving user", err)
		}
		ctxOpts = append(ctxOpts, expr.WithUser(user))
	}

	v, err := expr.Eval(node, expr.NewContext(ctxOpts...))
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeEngine, "evaluation failed", err)
	}
	out, err := ir.MarshalValue(v)
	if err != nil {
		return err
	}
	if f.Format == FormatJSON {
		return f.Success(map[string]any{"value": json.RawMessage(out)})
	}
	fmt.Fprintln(f.Writer, string(out))
	return nil
}
