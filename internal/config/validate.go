package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Event names accepted in notifications.events.
var knownEvents = map[string]struct{}{
	"job_queued":    {},
	"job_started":   {},
	"job_completed": {},
	"job_failed":    {},
	"job_cancelled": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if strings.TrimSpace(c.Engine.Binary) == "" {
		return errors.New("engine.binary must be set (or set SPOOL_ENGINE)")
	}
	return ensurePositiveMap(map[string]int{
		"engine.cancel_grace_seconds": c.Engine.CancelGraceSeconds,
		"engine.list_timeout_seconds": c.Engine.ListTimeoutSeconds,
	})
}

func (c *Config) validateWorkers() error {
	if c.Workers.MaxConcurrent < 1 {
		return errors.New("workers.max_concurrent must be >= 1")
	}
	if c.Workers.QueueLimit < 0 {
		return errors.New("workers.queue_limit must be >= 0")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	n := c.Notifications
	if n.MaxAttempts < 1 {
		return errors.New("notifications.max_attempts must be >= 1")
	}
	if n.RatePerSecond < 0 {
		return errors.New("notifications.rate_per_second must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"notifications.request_timeout":   n.RequestTimeout,
		"notifications.retry_base_ms":     n.RetryBaseMillis,
		"notifications.retry_max_seconds": n.RetryMaxSeconds,
	}); err != nil {
		return err
	}
	for _, event := range n.Events {
		if _, ok := knownEvents[event]; !ok {
			return fmt.Errorf("notifications.events: unknown event %q", event)
		}
	}
	for _, raw := range n.WebhookURLs {
		parsed, err := url.Parse(raw)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("notifications.webhook_urls: %q is not an http(s) URL", raw)
		}
	}
	if len(n.EmailRecipients) > 0 {
		if n.SMTP.Server == "" {
			return errors.New("notifications.smtp.server must be set when notifications.email_recipients is not empty")
		}
		if n.SMTP.Sender == "" {
			return errors.New("notifications.smtp.sender must be set when notifications.email_recipients is not empty")
		}
		if n.SMTP.Port <= 0 || n.SMTP.Port > 65535 {
			return errors.New("notifications.smtp.port must be between 1 and 65535")
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}

func (c *Config) validateWatch() error {
	seen := make(map[string]int, len(c.Watch))
	for i, rule := range c.Watch {
		if rule.Directory == "" {
			return fmt.Errorf("watch[%d].directory must be set", i)
		}
		if prev, dup := seen[rule.Directory]; dup {
			return fmt.Errorf("watch[%d].directory duplicates watch[%d]", i, prev)
		}
		seen[rule.Directory] = i
		for _, pattern := range rule.Patterns {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("watch[%d].patterns: invalid pattern %q", i, pattern)
			}
		}
		switch rule.PostPolicy {
		case "keep", "delete":
		case "move":
			if rule.ProcessedDir == "" {
				return fmt.Errorf("watch[%d].processed_dir must be set when post_policy is move", i)
			}
		default:
			return fmt.Errorf("watch[%d].post_policy must be keep, move, or delete", i)
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
