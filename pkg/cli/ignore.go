package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func NewIgnoreCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignore",
		Short: "Manage applications whose notifications are dropped",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ignored applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			apps, err := opts.client().IgnoredApps(cmd.Context())
			if err != nil {
				return requestError("list ignored apps", err)
			}
			return opts.formatter(cmd).Success(apps, func(w io.Writer) {
				if len(apps) == 0 {
					fmt.Fprintln(w, "no ignored apps")
					return
				}
				for _, app := range apps {
					fmt.Fprintln(w, app)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <app>",
		Short: "Stop forwarding notifications from an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := args[0]
			if strings.TrimSpace(app) == "" {
				return NewExitError(ExitCommandError, "app name must not be empty")
			}
			changed, err := opts.client().Ignore(cmd.Context(), app)
			if err != nil {
				return requestError("ignore app", err)
			}
			return opts.formatter(cmd).Success(map[string]any{"app": app, "changed": changed}, func(w io.Writer) {
				if changed {
					fmt.Fprintf(w, "ignoring %s\n", app)
				} else {
					fmt.Fprintf(w, "%s was already ignored\n", app)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <app>",
		Aliases: []string{"rm"},
		Short:   "Forward an application's notifications again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := args[0]
			changed, err := opts.client().Unignore(cmd.Context(), app)
			if err != nil {
				return requestError("unignore app", err)
			}
			return opts.formatter(cmd).Success(map[string]any{"app": app, "changed": changed}, func(w io.Writer) {
				if changed {
					fmt.Fprintf(w, "forwarding %s again\n", app)
				} else {
					fmt.Fprintf(w, "%s was not ignored\n", app)
				}
			})
		},
	})

	return cmd
}
