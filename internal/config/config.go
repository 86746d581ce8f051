package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and environment-variable
// expansions, applies defaults, and validates the result.
//
// The config path is PMCORE_CONFIG, falling back to /etc/pmcore/pmcore.yaml,
// falling back to ./pmcore.yaml.
func Load() (*Config, error) {
	configPath := os.Getenv("PMCORE_CONFIG")
	if configPath == "" {
		configPath = "/etc/pmcore/pmcore.yaml"
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "pmcore.yaml"
		}
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{
		Dependencies: make(map[string]*UnitConfig),
		Main:         make(map[string]*UnitConfig),
		Cleanup:      make(map[string]*UnitConfig),
	}

	if _, err := os.Stat(path); err == nil {
		if err := loadYAML(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load YAML config: %w", err)
		}
	} else {
		fmt.Fprintf(os.Stderr, "no config file found at %s, using environment variables only\n", path)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// loadYAML reads path, expands ${VAR} / ${VAR:-default} references against
// the process environment, and unmarshals the result into cfg.
func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	expanded := ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return err
	}

	return nil
}

// Validate checks structural and semantic correctness of the config.
func (c *Config) Validate() error {
	if c.Logging.Level != "debug" && c.Logging.Level != "info" &&
		c.Logging.Level != "warn" && c.Logging.Level != "error" {
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	if c.Supervisor.MaxRetries < 0 {
		return fmt.Errorf("supervisor.max_retries must not be negative")
	}
	if c.Supervisor.CleanupTimeoutMs < 0 {
		return fmt.Errorf("supervisor.cleanup_timeout_ms must not be negative")
	}

	if len(c.Main) == 0 {
		return fmt.Errorf("no main processes defined")
	}

	for name, units := range map[string]map[string]*UnitConfig{
		"dependencies": c.Dependencies,
		"main":         c.Main,
		"cleanup":      c.Cleanup,
	} {
		for id, unit := range units {
			if err := validateUnit(name, id, unit); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateUnit(cohort, id string, u *UnitConfig) error {
	if len(u.Command) == 0 {
		return fmt.Errorf("%s.%s has no command", cohort, id)
	}
	for i, c := range u.Checks {
		if c.Pattern == "" {
			return fmt.Errorf("%s.%s check[%d] has empty pattern", cohort, id, i)
		}
		if c.TimeoutMs < 0 {
			return fmt.Errorf("%s.%s check[%d] has negative timeout_ms", cohort, id, i)
		}
	}
	for _, f := range u.Flags {
		if f.Name == "" {
			return fmt.Errorf("%s.%s has a flag with no name", cohort, id)
		}
		if f.Pattern == "" {
			return fmt.Errorf("%s.%s flag %s has empty pattern", cohort, id, f.Name)
		}
	}
	return nil
}
