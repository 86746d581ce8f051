package main

import (
	"fmt"
	"os"

	"github.com/gophpeek/pmcore/internal/config"
	"github.com/spf13/cobra"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate configuration file",
	Long:  `Validate the pmcore configuration file and report any errors`,
	Run:   runCheckConfig,
}

func init() {
	checkConfigCmd.Flags().Bool("quiet", false, "Show only a pass/fail summary")
}

func runCheckConfig(cmd *cobra.Command, args []string) {
	quiet, _ := cmd.Flags().GetBool("quiet")
	cfgPath := getConfigPath()

	cfg, err := config.LoadFile(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}

	if quiet {
		fmt.Println("configuration is valid")
		return
	}

	fmt.Printf("configuration summary:\n")
	fmt.Printf("  path:         %s\n", cfgPath)
	fmt.Printf("  version:      %s\n", cfg.Version)
	fmt.Printf("  dependencies: %d\n", len(cfg.Dependencies))
	fmt.Printf("  main:         %d\n", len(cfg.Main))
	fmt.Printf("  cleanup:      %d\n", len(cfg.Cleanup))
	fmt.Printf("  max_retries:  %d\n", cfg.Supervisor.MaxRetries)
	fmt.Printf("  log level:    %s\n", cfg.Logging.Level)
	fmt.Println("configuration is valid")
}
