package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	OutputRoot  string `toml:"output_root"`
	LogDir      string `toml:"log_dir"`
	RegistryDir string `toml:"registry_dir"`
}

// Run contains execution policy for pipeline runs.
type Run struct {
	Parallelism     int  `toml:"parallelism"`
	FailFast        bool `toml:"fail_fast"`
	SkipDone        bool `toml:"skip_done"`
	Mock            bool `toml:"mock"`
	ContinueOnError bool `toml:"continue_on_error"`
}

// Converge contains bounds for detect/validate/escalate loops.
type Converge struct {
	MaxAttempts int `toml:"max_attempts"`
}

// Sessions contains gap thresholds for the progress session analyzer.
type Sessions struct {
	RestartGapSeconds int `toml:"restart_gap_seconds"`
	StallGapHours     int `toml:"stall_gap_hours"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for bindery.
type Config struct {
	Paths    Paths    `toml:"paths"`
	Run      Run      `toml:"run"`
	Converge Converge `toml:"converge"`
	Sessions Sessions `toml:"sessions"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/bindery/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded. A missing file yields defaults.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, fmt.Errorf("config file not found: %s", expanded)
			}
			return expanded, false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(defaultPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultPath, false, nil
		}
		return defaultPath, false, fmt.Errorf("stat config: %w", err)
	}
	return defaultPath, true, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.OutputRoot, err = ExpandPath(c.Paths.OutputRoot); err != nil {
		return err
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Paths.RegistryDir, err = ExpandPath(c.Paths.RegistryDir); err != nil {
		return err
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// EnsureDirectories creates the directories bindery writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.OutputRoot, c.Paths.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the embedded sample configuration to path, refusing to
// overwrite an existing file.
func WriteSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists: %s", expanded)
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves ~ prefixes and makes the path absolute.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
