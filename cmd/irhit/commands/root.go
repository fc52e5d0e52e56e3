package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
	nodeID     string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "irhit",
	Short: "irhit - infrared hit detection and reporting node",
	Long: `irhit runs one node of a laser-tag style hit reporting system.

A reporter (helmet) decodes infrared shots, rejects them while its sensor is
covered and forwards them over a short-range link. A tracker (vehicle)
validates each hit against a geofence around the base station, logs it and
hands a fixed-layout payload to the uplink.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&nodeID, "id", "", "node ID (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides the config file)")

	rootCmd.AddCommand(reporterCmd, trackerCmd, decodeCmd, versionCmd)
}
