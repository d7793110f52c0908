package cli

import (
	"github.com/spf13/cobra"

	"cdpintercept/internal/config"
	"cdpintercept/internal/logger"
)

var (
	cfgFile     string
	devtoolsURL string
	verbose     bool

	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:          "cdpintercept",
	Short:        "Intercept browser network traffic over the Chrome DevTools Protocol",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return err
			}
		} else {
			cfg = config.NewConfig()
		}
		if devtoolsURL != "" {
			cfg.DevTools.URL = devtoolsURL
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		log = logger.New(cfg.LoggerOptions())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&devtoolsURL, "devtools", "", "DevTools HTTP endpoint, overrides devtools.url")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
