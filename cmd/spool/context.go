package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"spool/internal/config"
	"spool/internal/daemon"
	"spool/internal/logging"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, resolved, _, err := config.Load(path)
		if err != nil {
			c.configErr = fmt.Errorf("load config: %w", err)
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = resolved
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// cliLogger keeps one-shot commands quiet: warnings and errors only, on
// stderr, in the configured format.
func (c *commandContext) cliLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.New(logging.Options{
		Level:       "warn",
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return logging.NewNop()
	}
	return logger
}

// oneShotDaemon builds an in-process daemon for transcode and batch. Watch
// folders belong to `spool run` and are left out.
func (c *commandContext) oneShotDaemon(cmd *cobra.Command) (*daemon.Daemon, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	local := *cfg
	local.Watch = nil
	d, err := daemon.New(&local, c.cliLogger(cfg))
	if err != nil {
		return nil, err
	}
	if err := d.Start(cmd.Context()); err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			return nil, fmt.Errorf("%w (stop `spool run` or use a different paths.state_dir)", err)
		}
		return nil, err
	}
	return d, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
