package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/flowgate/internal/engine"
	"github.com/roach88/flowgate/internal/ir"
)

// NewTypesCommand creates the types command.
func NewTypesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the resource types of the definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()

			types := app.Engine.ListResourceTypes()
			if f.Format == FormatJSON {
				return f.Success(map[string]any{"types": types})
			}
			for _, t := range types {
				fmt.Fprintln(f.Writer, t)
			}
			return nil
		},
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <type>",
		Short: "List the resources of a type the user may read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.ListResources(cmd.Context(), engine.ListResourcesParams{Type: args[0], AsUser: user})
			if err != nil {
				return engineError(f, err)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			for _, ref := range res.Resources {
				fmt.Fprintln(f.Writer, ref.String())
			}
			return nil
		},
	}
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "create <type>",
		Short: "Create a resource",
		Long: `Create a resource from a JSON object of property values.

The resource starts in the state given as "state", or in the type's
default state.

Example:
  flowgate create Document --as alice:author --data '{"title": "Plan", "text": "Draft"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			obj, err := parseObject("data", data, f)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.CreateResource(cmd.Context(), engine.CreateResourceParams{Type: args[0], AsUser: user, Data: obj})
			if err != nil {
				return engineError(f, err)
			}
			if !res.Success {
				return f.Rejected(res.Errors, res)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			fmt.Fprintf(f.Writer, "✓ created %s\n", res.Ref)
			return nil
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "property values as a JSON object")
	return cmd
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <type> <uid>",
		Short: "Show a resource as the user sees it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.GetResource(cmd.Context(), engine.GetResourceParams{Type: args[0], UID: args[1], AsUser: user})
			if err != nil {
				return engineError(f, err)
			}
			return reportResource(f, res)
		},
	}
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "update <type> <uid>",
		Short: "Write resource properties directly",
		Long: `Write properties outside of any action. Every property is checked
against its write permissions and nothing is written unless all pass.
The state can only be changed by performing an action.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			obj, err := parseObject("data", data, f)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.UpdateResource(cmd.Context(), engine.UpdateResourceParams{
				Type: args[0], UID: args[1], AsUser: user, Data: obj,
			})
			if err != nil {
				return engineError(f, err)
			}
			return reportResource(f, res)
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "property values as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

// NewActionsCommand creates the actions command.
func NewActionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actions <type> <uid>",
		Short: "Describe the actions available from the resource's state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.DescribeActions(cmd.Context(), engine.DescribeActionsParams{Type: args[0], UID: args[1], AsUser: user})
			if err != nil {
				return engineError(f, err)
			}
			if !res.Success {
				return f.Rejected(res.Errors, res)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			writeActions(f.Writer, res)
			return nil
		},
	}
}

// NewPerformCommand creates the perform command.
func NewPerformCommand(rootOpts *RootOptions) *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "perform <type> <uid> <action>",
		Short: "Perform an action on a resource",
		Long: `Perform an action: check that it is possible and allowed, validate the
input, move the resource to the action's target state and run its effects.

Example:
  flowgate perform Poll 0190... vote --as vic:voter --input '{"voteCount": 3}'`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			in, err := parseObject("input", input, f)
			if err != nil {
				return err
			}
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.PerformAction(cmd.Context(), engine.PerformActionParams{
				Type: args[0], UID: args[1], Action: args[2], AsUser: user, Input: in,
			})
			if err != nil {
				return engineError(f, err)
			}
			if !res.Success {
				return f.Rejected(res.Errors, res)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			ref := ir.ResourceRef{UID: args[1], Type: args[0]}
			fmt.Fprintf(f.Writer, "✓ %s performed on %s\n", args[2], ref)
			for _, e := range res.Effects {
				fmt.Fprintf(f.Writer, "  %s\n", describeEffect(e, ref))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "action input as a JSON object")
	return cmd
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <type> <uid>",
		Short: "Show the recorded history of a resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openApp(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()
			user, err := userFor(rootOpts, app, f)
			if err != nil {
				return err
			}

			res, err := app.Engine.GetHistory(cmd.Context(), engine.GetHistoryParams{Type: args[0], UID: args[1], AsUser: user})
			if err != nil {
				return engineError(f, err)
			}
			if !res.Success {
				return f.Rejected(res.Errors, res)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			if len(res.Events) == 0 {
				fmt.Fprintln(f.Writer, "No history.")
			}
			for _, ev := range res.Events {
				writeEvent(f.Writer, ev)
			}
			return nil
		},
	}
}

func reportResource(f *OutputFormatter, res engine.ResourceResult) error {
	if !res.Success {
		return f.Rejected(res.Errors, res)
	}
	if f.Format == FormatJSON {
		return f.Success(res)
	}
	r := res.Resource
	fmt.Fprintf(f.Writer, "%s (%s)\n", r.ResourceRef, r.State)
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, field := range r.Fields {
		switch {
		case field.Visible:
			fmt.Fprintf(tw, "  %s\t%s\n", field.Name, renderValue(field.Value))
		case f.Verbose:
			fmt.Fprintf(tw, "  %s\t(hidden: %s)\n", field.Name, strings.Join(field.Errors, " "))
		}
	}
	return tw.Flush()
}

func writeActions(w io.Writer, res engine.DescribeActionsResult) {
	if len(res.Actions) == 0 {
		fmt.Fprintf(w, "No actions from state %q.\n", res.State)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACTION\tTO\tALLOWED\tREASON")
	for _, a := range res.Actions {
		mark, reason := "yes", ""
		switch {
		case !a.Possible:
			mark, reason = "no", a.PossibleReason
		case !a.Allowed:
			mark, reason = "no", a.AllowedReason
		}
		to := a.To
		if to == "" {
			to = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.Name, to, mark, reason)
	}
	tw.Flush()
}

func writeEvent(w io.Writer, ev ir.HistoryEvent) {
	by := ev.User
	if by == "" {
		by = "-"
	}
	fmt.Fprintf(w, "%s  %s by %s", ev.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"), ev.Action, by)
	if ev.Resource != ev.Parent {
		fmt.Fprintf(w, " on %s", ev.Resource)
	}
	fmt.Fprintln(w)
	for _, c := range ev.Changes {
		if c.Previous != nil {
			fmt.Fprintf(w, "  %s: %s -> %s\n", c.Property, renderValue(c.Previous), renderValue(c.Value))
		} else {
			fmt.Fprintf(w, "  %s: %s\n", c.Property, renderValue(c.Value))
		}
	}
}

// describeEffect renders one executed effect; updates of the acted-on
// resource are shown as "self".
func describeEffect(e ir.EffectResult, self ir.ResourceRef) string {
	switch e.Kind {
	case ir.EffectEmail:
		return fmt.Sprintf("email %s to %s", e.Template, e.To)
	case ir.EffectUpdate:
		target := "self"
		if e.On != (ir.ResourceRef{}) && e.On != self {
			target = e.On.String()
		}
		return fmt.Sprintf("update %s %s", target, renderValue(e.Properties))
	}
	return string(e.Kind)
}

func renderValue(v ir.Value) string {
	b, err := ir.MarshalValue(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
