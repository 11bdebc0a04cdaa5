package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateRun(); err != nil {
		return err
	}
	if err := c.validateConverge(); err != nil {
		return err
	}
	if err := c.validateSessions(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.OutputRoot == "" {
		return errors.New("paths.output_root must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateRun() error {
	if c.Run.Parallelism < 1 {
		return errors.New("run.parallelism must be at least 1")
	}
	if c.Run.FailFast && c.Run.ContinueOnError {
		return errors.New("run.fail_fast and run.continue_on_error are mutually exclusive")
	}
	return nil
}

func (c *Config) validateConverge() error {
	if c.Converge.MaxAttempts < 1 {
		return errors.New("converge.max_attempts must be at least 1")
	}
	return nil
}

func (c *Config) validateSessions() error {
	if c.Sessions.RestartGapSeconds < 1 {
		return errors.New("sessions.restart_gap_seconds must be at least 1")
	}
	if c.Sessions.StallGapHours < 1 {
		return errors.New("sessions.stall_gap_hours must be at least 1")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
