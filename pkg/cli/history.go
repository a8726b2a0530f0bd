package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func NewHistoryCommand(opts *RootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently routed notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return NewExitError(ExitCommandError, "--limit must not be negative")
			}
			entries, err := opts.client().History(cmd.Context(), limit)
			if err != nil {
				return requestError("fetch history", err)
			}
			return opts.formatter(cmd).Success(entries, func(w io.Writer) {
				if len(entries) == 0 {
					fmt.Fprintln(w, "no entries")
					return
				}
				for _, e := range entries {
					line := fmt.Sprintf("%s %-4s %-9s %s", e.CreatedAt.Local().Format(time.DateTime), e.Source, e.Outcome, e.Message)
					if e.Error != "" {
						line += " (error: " + e.Error + ")"
					}
					fmt.Fprintln(w, line)
				}
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 0, "number of entries (default: server default)")
	return cmd
}
