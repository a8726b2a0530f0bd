package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"notifywatch/pkg/version"
)

func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := version.NotifywatchVersion
			return opts.formatter(cmd).Success(map[string]string{"version": v}, func(w io.Writer) {
				fmt.Fprintln(w, "notifywatch", v)
			})
		},
	}
}
