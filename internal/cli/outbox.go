package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowgate/internal/mail"
	"github.com/roach88/flowgate/internal/store"
)

// NewOutboxCommand creates the outbox command group.
func NewOutboxCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect and deliver queued emails",
		Long: `With mail.driver set to outbox, sendEmail effects are queued in the store
instead of being delivered. These commands list the pending messages and
deliver them.`,
	}
	cmd.AddCommand(newOutboxListCommand(rootOpts))
	cmd.AddCommand(newOutboxFlushCommand(rootOpts))
	return cmd
}

func newOutboxListCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending emails",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openOutbox(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()

			pending, err := app.Outbox.PendingEmails(cmd.Context(), limit)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeStore, "reading outbox", err)
			}
			if pending == nil {
				pending = []store.OutboxMessage{}
			}
			if f.Format == FormatJSON {
				return f.Success(map[string]any{"messages": pending})
			}
			if len(pending) == 0 {
				fmt.Fprintln(f.Writer, "Outbox is empty.")
				return nil
			}
			tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SEQ\tTO\tTEMPLATE\tQUEUED")
			for _, m := range pending {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Seq, m.To, m.Template, m.CreatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of messages")
	return cmd
}

func newOutboxFlushCommand(rootOpts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Deliver pending emails",
		Long: `Deliver up to --limit pending emails through the log sender, throttled by
mail.rate and mail.burst. Delivered messages are marked as sent; rejected
ones stay queued.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			app, err := openOutbox(cmd, rootOpts, f)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := mail.Flush(cmd.Context(), app.Outbox, deliverySender(app.Config, app.Logger), limit, time.Now)
			if err != nil {
				return f.Fail(ExitFailure, ErrCodeStore, "flushing outbox", err)
			}
			if f.Format == FormatJSON {
				return f.Success(res)
			}
			fmt.Fprintf(f.Writer, "✓ %d sent, %d rejected\n", res.Sent, res.Rejected)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of messages to deliver")
	return cmd
}

// openOutbox opens the app and requires a store that keeps an outbox.
func openOutbox(cmd *cobra.Command, opts *RootOptions, f *OutputFormatter) (*App, error) {
	app, err := openApp(cmd, opts, f)
	if err != nil {
		return nil, err
	}
	if app.Outbox == nil {
		_ = app.Close()
		return nil, f.Fail(ExitCommandError, ErrCodeStore, fmt.Sprintf("the %s store has no outbox", app.Config.Store.Driver), nil)
	}
	return app, nil
}
