package config

const (
	defaultOutputRoot     = "~/.local/share/bindery/runs"
	defaultLogDir         = "~/.local/share/bindery/logs"
	defaultRegistryDir    = "~/.local/share/bindery/modules"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultParallelism    = 4
	defaultMaxAttempts    = 3
	defaultRestartGapSecs = 30
	defaultStallGapHours  = 4
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputRoot:  defaultOutputRoot,
			LogDir:      defaultLogDir,
			RegistryDir: defaultRegistryDir,
		},
		Run: Run{
			Parallelism: defaultParallelism,
			FailFast:    true,
		},
		Converge: Converge{
			MaxAttempts: defaultMaxAttempts,
		},
		Sessions: Sessions{
			RestartGapSeconds: defaultRestartGapSecs,
			StallGapHours:     defaultStallGapHours,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
