package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"cdpintercept/internal/rules"
	"cdpintercept/pkg/rulespec"
)

var validateCmd = &cobra.Command{
	Use:   "validate <rules.yaml>...",
	Short: "Check rule files without attaching to a browser",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			rs, err := rulespec.Load(path)
			if err != nil {
				return err
			}
			engine, err := rules.New(rs, log)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules, %d enabled\n", path, len(rs.Rules), engine.Len())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
