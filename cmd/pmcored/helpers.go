package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/gophpeek/pmcore/internal/config"
	"github.com/gophpeek/pmcore/internal/logger"
	"github.com/gophpeek/pmcore/internal/matcher"
	"github.com/gophpeek/pmcore/internal/process"
	"github.com/gophpeek/pmcore/internal/readiness"
	"github.com/gophpeek/pmcore/internal/supervisor"
)

// lookupUnit resolves a cohort+id pair emitted on the event stream back to
// the *process.Unit it came from, so ambient code that only hears about
// events by id (signal reaping, tracing) can still reach the unit itself.
func lookupUnit(sup *supervisor.Supervisor, cohort supervisor.Cohort, id string) (*process.Unit, bool) {
	switch cohort {
	case supervisor.CohortDependency:
		return sup.GetDependency(id)
	case supervisor.CohortCleanup:
		return sup.GetCleanup(id)
	default:
		return sup.GetMain(id)
	}
}

// getConfigPath determines the configuration file path with priority order:
// the --config flag, the PMCORE_CONFIG environment variable, then a small
// set of conventional default locations.
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}

	if envPath := os.Getenv("PMCORE_CONFIG"); envPath != "" {
		return envPath
	}

	defaultPaths := []string{
		"/etc/pmcore/pmcore.yaml",
		"/etc/pmcore/pmcore.yml",
		"pmcore.yaml",
		"pmcore.yml",
	}
	for _, path := range defaultPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "pmcore.yaml"
}

var signalsByName = map[string]syscall.Signal{
	"SIGINT":  syscall.SIGINT,
	"SIGTERM": syscall.SIGTERM,
	"SIGKILL": syscall.SIGKILL,
	"SIGQUIT": syscall.SIGQUIT,
	"SIGHUP":  syscall.SIGHUP,
	"SIGUSR1": syscall.SIGUSR1,
	"SIGUSR2": syscall.SIGUSR2,
}

// parseStopSignal resolves a configured stop signal name, defaulting to
// SIGINT for anything unrecognized or empty.
func parseStopSignal(name string) syscall.Signal {
	if sig, ok := signalsByName[strings.ToUpper(name)]; ok {
		return sig
	}
	return syscall.SIGINT
}

// buildPattern compiles a check/flag pattern as literal or regex text.
func buildPattern(pattern string, isRegex bool) (matcher.Pattern, error) {
	if isRegex {
		return matcher.Regex(pattern)
	}
	return matcher.Literal(pattern), nil
}

func buildChecks(checks []config.CheckConfig) ([]readiness.Check, error) {
	out := make([]readiness.Check, 0, len(checks))
	for _, cc := range checks {
		pat, err := buildPattern(cc.Pattern, cc.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid check pattern %q: %w", cc.Pattern, err)
		}
		out = append(out, readiness.Check{
			Pattern:        pat,
			Timeout:        time.Duration(cc.TimeoutMs) * time.Millisecond,
			PassIfNotFound: cc.PassIfNotFound,
		})
	}
	return out, nil
}

func buildFlagColor(name string) logger.FlagColor {
	switch strings.ToLower(name) {
	case "blue":
		return logger.ColorBlue
	case "red":
		return logger.ColorRed
	case "yellow":
		return logger.ColorYellow
	case "teal":
		return logger.ColorTeal
	case "purple":
		return logger.ColorPurple
	case "orange":
		return logger.ColorOrange
	default:
		return logger.ColorGreen
	}
}

func buildFlags(flags []config.FlagConfig) (map[string]logger.FlagDef, error) {
	out := make(map[string]logger.FlagDef, len(flags))
	for _, fc := range flags {
		pat, err := buildPattern(fc.Pattern, fc.Regex)
		if err != nil {
			return nil, fmt.Errorf("invalid flag pattern %q: %w", fc.Pattern, err)
		}
		out[fc.Name] = logger.FlagDef{
			Pattern:           pat,
			Color:             buildFlagColor(fc.Color),
			TargetCount:       fc.TargetCount,
			ContextWindowSize: fc.ContextWindowSize,
		}
	}
	return out, nil
}

// buildUnit translates a configured unit into a running-capable process.Unit.
func buildUnit(id string, uc *config.UnitConfig, baseLogger *slog.Logger) (*process.Unit, error) {
	if len(uc.Command) == 0 {
		return nil, fmt.Errorf("unit %q has no command", id)
	}

	checks, err := buildChecks(uc.Checks)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", id, err)
	}
	flags, err := buildFlags(uc.Flags)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", id, err)
	}

	opts := process.Options{
		Env:             uc.Env,
		WorkDir:         uc.WorkDir,
		Checks:          checks,
		MaxBufferSize:   uc.MaxBufferSize,
		MaxLogSize:      uc.MaxLogSize,
		Separator:       uc.Separator,
		Flags:           flags,
		LoggingPipeline: uc.Logging,
		BaseLogger:      baseLogger,
		StopSignal:      parseStopSignal(uc.StopSignal),
		StopTimeout:     time.Duration(uc.StopTimeoutMs) * time.Millisecond,
	}

	return process.NewUnit(id, uc.Command, opts)
}
