package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func NewConfigCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the rules, ignore list and pending rule served to the extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := opts.client().Config(cmd.Context())
			if err != nil {
				return requestError("fetch config", err)
			}
			return opts.formatter(cmd).Success(snap, func(w io.Writer) {
				fmt.Fprintf(w, "version: %d\n", snap.Version)
				fmt.Fprintf(w, "rules: %d\n", len(snap.Rules))
				for i, r := range snap.Rules {
					fmt.Fprintf(w, "  %d. %s\n", i, r)
				}
				fmt.Fprintf(w, "ignored apps: %d\n", len(snap.IgnoredApps))
				for _, app := range snap.IgnoredApps {
					fmt.Fprintf(w, "  %s\n", app)
				}
				if snap.PendingRule == nil {
					fmt.Fprintln(w, "pending rule: none")
					return
				}
				fmt.Fprintf(w, "pending rule: %s\n", snap.PendingRule.Summary())
			})
		},
	}
}
