package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/FranksOps/keyhound/internal/language"
	"github.com/spf13/cobra"
)

func (a *app) newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages [file...]",
		Short: "List the extension table, or resolve file names against it",
		Long: `Without arguments, prints every known extension and its language,
including overrides from the languages section of the config file. With
arguments, prints the language key each file name would be counted under.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := language.NewTable(a.cfg.Languages)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if len(args) == 0 {
				for _, e := range table.Extensions() {
					fmt.Fprintf(tw, "%s\t%s\n", e[0], e[1])
				}
				return tw.Flush()
			}
			for _, name := range args {
				fmt.Fprintf(tw, "%s\t%s\n", name, language.Key(name, table))
			}
			return tw.Flush()
		},
	}
}
