package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	c.normalizeWorkers()
	c.normalizeNotifications()
	c.normalizeLogging()
	c.normalizeHistory()
	return c.normalizeWatch()
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	if value, ok := os.LookupEnv("SPOOL_ENGINE"); ok && strings.TrimSpace(value) != "" {
		c.Engine.Binary = value
	}
	c.Engine.Binary = strings.TrimSpace(c.Engine.Binary)
	if c.Engine.Binary == "" {
		c.Engine.Binary = defaultEngineBinary
	}
	if strings.HasPrefix(c.Engine.Binary, "~") {
		if expanded, err := expandPath(c.Engine.Binary); err == nil {
			c.Engine.Binary = expanded
		}
	}
	c.Engine.DefaultPreset = strings.TrimSpace(c.Engine.DefaultPreset)
	if len(c.Engine.ListPresetsArgs) == 0 {
		c.Engine.ListPresetsArgs = append([]string(nil), defaultListPresetsArgs...)
	}
	c.Engine.FatalMarkers = compactStrings(c.Engine.FatalMarkers)
	if len(c.Engine.FatalMarkers) == 0 {
		c.Engine.FatalMarkers = append([]string(nil), defaultFatalMarkers...)
	}
	c.Engine.StaticPresets = compactStrings(c.Engine.StaticPresets)
	if c.Engine.CancelGraceSeconds <= 0 {
		c.Engine.CancelGraceSeconds = defaultCancelGraceSeconds
	}
	if c.Engine.ListTimeoutSeconds <= 0 {
		c.Engine.ListTimeoutSeconds = defaultListTimeoutSeconds
	}
}

func (c *Config) normalizeWorkers() {
	if c.Workers.ShutdownTimeoutSeconds <= 0 {
		c.Workers.ShutdownTimeoutSeconds = defaultShutdownTimeoutSeconds
	}
}

func (c *Config) normalizeNotifications() {
	n := &c.Notifications
	if value, ok := os.LookupEnv("SPOOL_WEBHOOK_URL"); ok && strings.TrimSpace(value) != "" {
		n.WebhookURLs = append(n.WebhookURLs, value)
	}
	n.WebhookURLs = compactStrings(n.WebhookURLs)
	n.EmailRecipients = compactStrings(n.EmailRecipients)
	events := make([]string, 0, len(n.Events))
	for _, event := range compactStrings(n.Events) {
		events = append(events, strings.ToLower(event))
	}
	n.Events = events
	if n.RequestTimeout <= 0 {
		n.RequestTimeout = defaultRequestTimeout
	}
	if n.RetryBaseMillis <= 0 {
		n.RetryBaseMillis = defaultRetryBaseMillis
	}
	if n.RetryMaxSeconds <= 0 {
		n.RetryMaxSeconds = defaultRetryMaxSeconds
	}
	n.SMTP.Server = strings.TrimSpace(n.SMTP.Server)
	n.SMTP.Username = strings.TrimSpace(n.SMTP.Username)
	n.SMTP.Sender = strings.TrimSpace(n.SMTP.Sender)
	if n.SMTP.Password == "" {
		if value, ok := os.LookupEnv("SMTP_PASSWORD"); ok {
			n.SMTP.Password = value
		}
	}
	if n.SMTP.Port == 0 {
		n.SMTP.Port = defaultSMTPPort
	}
	if n.SMTP.Sender == "" {
		n.SMTP.Sender = n.SMTP.Username
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeHistory() {
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
}

func (c *Config) normalizeWatch() error {
	for i := range c.Watch {
		rule := &c.Watch[i]
		var err error
		if rule.Directory, err = expandPath(strings.TrimSpace(rule.Directory)); err != nil {
			return fmt.Errorf("watch[%d].directory: %w", i, err)
		}
		if rule.ProcessedDir, err = expandPath(strings.TrimSpace(rule.ProcessedDir)); err != nil {
			return fmt.Errorf("watch[%d].processed_dir: %w", i, err)
		}
		if rule.OutputDir, err = expandPath(strings.TrimSpace(rule.OutputDir)); err != nil {
			return fmt.Errorf("watch[%d].output_dir: %w", i, err)
		}
		rule.Patterns = compactStrings(rule.Patterns)
		if len(rule.Patterns) == 0 {
			rule.Patterns = append([]string(nil), defaultWatchPatterns...)
		}
		rule.Preset = strings.TrimSpace(rule.Preset)
		rule.PostPolicy = strings.ToLower(strings.TrimSpace(rule.PostPolicy))
		if rule.PostPolicy == "" {
			rule.PostPolicy = defaultPostPolicy
		}
		if rule.OutputSuffix == "" {
			rule.OutputSuffix = defaultOutputSuffix
		}
		rule.OutputExtension = strings.TrimSpace(rule.OutputExtension)
		if rule.OutputExtension == "" {
			rule.OutputExtension = defaultOutputExtension
		}
		if !strings.HasPrefix(rule.OutputExtension, ".") {
			rule.OutputExtension = "." + rule.OutputExtension
		}
		if rule.DebounceMillis <= 0 {
			rule.DebounceMillis = defaultWatchDebounceMillis
		}
	}
	return nil
}

func compactStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
