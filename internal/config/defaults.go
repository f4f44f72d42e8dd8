package config

const (
	defaultLogDir                 = "~/.local/share/spool/logs"
	defaultStateDir               = "~/.local/share/spool/state"
	defaultEngineBinary           = "HandBrakeCLI"
	defaultPreset                 = "Fast 1080p30"
	defaultCancelGraceSeconds     = 10
	defaultListTimeoutSeconds     = 60
	defaultMaxConcurrent          = 2
	defaultShutdownTimeoutSeconds = 30
	defaultRequestTimeout         = 10
	defaultMaxAttempts            = 5
	defaultRetryBaseMillis        = 1000
	defaultRetryMaxSeconds        = 30
	defaultRatePerSecond          = 5
	defaultSMTPPort               = 587
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultHistoryRetentionDays   = 30
	defaultWatchDebounceMillis    = 2000
	defaultOutputSuffix           = "_converted"
	defaultOutputExtension        = ".mkv"
	defaultPostPolicy             = "keep"
)

var (
	defaultListPresetsArgs = []string{"--preset-list"}
	defaultFatalMarkers    = []string{"ERROR:", "Invalid preset", "No title found", "scan: unrecognized file type"}
	defaultWatchPatterns   = []string{"*.mp4", "*.mkv", "*.avi", "*.mov", "*.m4v"}
	defaultNotifyEvents    = []string{"job_started", "job_completed", "job_failed", "job_cancelled"}
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Engine: Engine{
			Binary:             defaultEngineBinary,
			DefaultPreset:      defaultPreset,
			ListPresetsArgs:    append([]string(nil), defaultListPresetsArgs...),
			FatalMarkers:       append([]string(nil), defaultFatalMarkers...),
			CancelGraceSeconds: defaultCancelGraceSeconds,
			ListTimeoutSeconds: defaultListTimeoutSeconds,
		},
		Workers: Workers{
			MaxConcurrent:          defaultMaxConcurrent,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Notifications: Notifications{
			Events:          append([]string(nil), defaultNotifyEvents...),
			RequestTimeout:  defaultRequestTimeout,
			MaxAttempts:     defaultMaxAttempts,
			RetryBaseMillis: defaultRetryBaseMillis,
			RetryMaxSeconds: defaultRetryMaxSeconds,
			RatePerSecond:   defaultRatePerSecond,
			SMTP: SMTP{
				Port:   defaultSMTPPort,
				UseTLS: true,
			},
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		History: History{
			Enabled:       true,
			RetentionDays: defaultHistoryRetentionDays,
		},
	}
}
