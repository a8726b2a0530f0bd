package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func NewRulesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the watch rules served to the extension",
	}
	cmd.AddCommand(newRulesListCommand(opts), newRulesAddCommand(opts), newRulesRemoveCommand(opts))
	return cmd
}

func newRulesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List rules in evaluation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := opts.client().Rules(cmd.Context())
			if err != nil {
				return requestError("list rules", err)
			}
			return opts.formatter(cmd).Success(list, func(w io.Writer) {
				if len(list) == 0 {
					fmt.Fprintln(w, "no rules")
					return
				}
				for i, r := range list {
					fmt.Fprintf(w, "%d. %s\n", i, r)
				}
			})
		},
	}
}

func newRulesAddCommand(opts *RootOptions) *cobra.Command {
	var (
		name, urlContains, ruleType, selector, condition, baseline string
		threshold                                                  int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a manual rule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := map[string]any{
				"name":         name,
				"url_contains": urlContains,
				"type":         ruleType,
				"selector":     selector,
				"condition":    condition,
			}
			if baseline != "" {
				payload["baseline_text"] = baseline
			}
			if cmd.Flags().Changed("length") {
				payload["length_threshold"] = threshold
			}
			index, rule, err := opts.client().AddRule(cmd.Context(), payload)
			if err != nil {
				return requestError("add rule", err)
			}
			return opts.formatter(cmd).Success(map[string]any{"index": index, "rule": rule}, func(w io.Writer) {
				fmt.Fprintf(w, "added %d. %s\n", index, rule)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "rule name")
	cmd.Flags().StringVar(&urlContains, "url", "", "substring the page URL must contain")
	cmd.Flags().StringVar(&ruleType, "type", "element", "rule type (element|element_text)")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector or watched text")
	cmd.Flags().StringVar(&condition, "condition", "", "condition (default: the type's default)")
	cmd.Flags().StringVar(&baseline, "baseline", "", "baseline text for text conditions")
	cmd.Flags().IntVar(&threshold, "length", 0, "length threshold for length conditions")
	_ = cmd.MarkFlagRequired("selector")
	return cmd
}

func newRulesRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <index>",
		Aliases: []string{"rm"},
		Short:   "Remove the rule at index",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil || index < 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid index %q", args[0]))
			}
			rule, err := opts.client().RemoveRule(cmd.Context(), index)
			if err != nil {
				return requestError("remove rule", err)
			}
			return opts.formatter(cmd).Success(rule, func(w io.Writer) {
				fmt.Fprintf(w, "removed %s\n", rule)
			})
		},
	}
}
