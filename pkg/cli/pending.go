package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"notifywatch/pkg/pending"
)

func NewPendingCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Review the rule proposed by the browser extension",
	}
	cmd.AddCommand(
		newPendingShowCommand(opts),
		newPendingWatchCommand(opts),
		newPendingAcceptCommand(opts),
		newPendingDiscardCommand(opts),
	)
	return cmd
}

func newPendingShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the pending rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, ok, err := opts.client().Pending(cmd.Context())
			if err != nil {
				return requestError("fetch pending rule", err)
			}
			var data any
			if ok {
				data = p
			}
			return opts.formatter(cmd).Success(data, func(w io.Writer) {
				printPending(w, p, ok)
			})
		},
	}
}

func newPendingWatchCommand(opts *RootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the pending rule whenever it changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			out := opts.formatter(cmd)
			poller := pending.NewPoller(c.Pending, func(p pending.PendingRule, ok bool) {
				var data any
				if ok {
					data = p
				}
				if err := out.Success(data, func(w io.Writer) { printPending(w, p, ok) }); err != nil {
					out.Diag("write failed: %v", err)
				}
			}, nil)
			poller.Interval = interval
			poller.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", pending.PollInterval, "poll interval")
	return cmd
}

func newPendingAcceptCommand(opts *RootOptions) *cobra.Command {
	var id, name string

	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Add the pending rule to the rule list",
		Long: "Commits the pending rule. With --id the command fails instead of committing " +
			"a proposal that replaced the one you reviewed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()
			var edited map[string]any
			if name != "" {
				p, ok, err := c.Pending(cmd.Context())
				if err != nil {
					return requestError("fetch pending rule", err)
				}
				if !ok {
					return NewExitError(ExitFailure, "no pending rule")
				}
				if id == "" {
					id = p.ID
				}
				edited, err = ruleMap(p)
				if err != nil {
					return WrapExitError(ExitCommandError, "encode rule", err)
				}
				edited["name"] = name
			}
			rule, err := c.Accept(cmd.Context(), id, edited)
			if err != nil {
				return requestError("accept pending rule", err)
			}
			return opts.formatter(cmd).Success(rule, func(w io.Writer) {
				fmt.Fprintf(w, "added %s\n", rule)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "only accept the proposal with this id")
	cmd.Flags().StringVar(&name, "name", "", "rename the rule before adding it")
	return cmd
}

func newPendingDiscardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "discard",
		Short: "Drop the pending rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Discard(cmd.Context()); err != nil {
				return requestError("discard pending rule", err)
			}
			return opts.formatter(cmd).Success(nil, func(w io.Writer) {
				fmt.Fprintln(w, "pending rule discarded")
			})
		},
	}
}

func printPending(w io.Writer, p pending.PendingRule, ok bool) {
	if !ok {
		fmt.Fprintln(w, "no pending rule")
		return
	}
	fmt.Fprintf(w, "%s\n  id: %s\n", p.Summary(), p.ID)
}

// ruleMap turns the rule part of p into the loose payload the daemon
// re-sanitizes on accept.
func ruleMap(p pending.PendingRule) (map[string]any, error) {
	data, err := json.Marshal(p.Rule)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
