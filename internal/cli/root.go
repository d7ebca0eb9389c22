package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"

	cfgFile      string
	outputFormat string
	noColor      bool
	verbose      bool
)

// NewRootCommand creates and returns the root command.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sentinelctl",
		Short: "Sentinel discovery-and-correlation engine operator CLI",
		Long: `sentinelctl drives the Sentinel discovery-and-correlation engine
directly against its own stores (graph, scan_history, keyring) — there
is no HTTP gateway in front of it.

Configuration precedence: flags > environment variables > config file > defaults

Environment Variables:
  SENTINEL_GRAPH_URL      Graph store URL
  SENTINEL_SCAN_DSN       scan_history/audit_log sqlite path
  SENTINEL_OUTPUT_FORMAT  Output format (json, yaml, table)`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := InitConfig(cfgFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cmd.Flags().Changed("output") {
				viper.Set("output.format", outputFormat)
			}
			if err := ValidateConfig(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if verbose {
				fmt.Fprintf(os.Stderr, "config file: %s\n", viper.ConfigFileUsed())
				fmt.Fprintf(os.Stderr, "scan dsn: %s\n", viper.GetString("scan.dsn"))
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sentinelctl.yaml, ~/.sentinel/sentinelctl.yaml, or /etc/sentinel/sentinelctl.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewHistoryCommand())
	rootCmd.AddCommand(NewNodesCommand())
	rootCmd.AddCommand(NewEngramCommand())
	rootCmd.AddCommand(NewSecretsCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

func currentOutputOptions() *OutputOptions {
	return NewOutputOptions(viper.GetString("output.format"), noColor || !viper.GetBool("output.color"))
}
