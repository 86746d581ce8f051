package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pmcored",
	Short: "Multi-process cohort supervisor",
	Long: `pmcored - Multi-process cohort supervisor

A PID-1-capable process supervisor that brings up a dependency cohort,
gates a main cohort on the dependencies' readiness checks, restarts crashed
main processes with a bounded retry policy, and runs an ordered cleanup
cohort on shutdown.

Examples:
  pmcored serve                  # Start the supervisor
  pmcored check-config           # Validate a config file without starting
  pmcored version                # Print the build version`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkConfigCmd)
}
