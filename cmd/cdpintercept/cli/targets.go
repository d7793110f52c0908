package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cdpintercept/internal/cdp"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List page targets on the DevTools endpoint",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		targets, err := cdp.New(cfg.DevTools.URL, log).ListTargets(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTITLE\tURL")
		for _, t := range targets {
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Title, t.URL)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}
