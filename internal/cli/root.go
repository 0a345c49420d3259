package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"netaccess/internal/app"
)

var (
	appInstance *app.App
	version     = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "netaccess",
	Short: "Keep this machine approved on the campus network access portal",
	Long: `netaccess - approve, revoke and monitor network access from your terminal

  Quick start:
    netaccess user add alice
    netaccess status
    netaccess approve --duration day
    netaccess monitor

  Credentials are read from NETACCESS_USERNAME / NETACCESS_PASSWORD, the OS
  keyring, or an interactive prompt, in that order.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return nil
		}
		var err error
		appInstance, err = app.New(appOptions(cmd))
		if err != nil {
			return fmt.Errorf("failed to initialize application: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if appInstance != nil {
			return appInstance.Close()
		}
		return nil
	},
}

func appOptions(cmd *cobra.Command) app.Options {
	configPath, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logFile, _ := cmd.Flags().GetString("log-file")
	return app.Options{ConfigPath: configPath, LogLevel: logLevel, LogFile: logFile}
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", `log file path ("-" for stderr)`)
	rootCmd.PersistentFlags().StringP("user", "u", "", "portal username")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Needs no config or database.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netaccess %s\n", version)
	},
}
