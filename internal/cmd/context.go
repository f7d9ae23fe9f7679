package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webpilot-org/webpilot/internal/config"
	"github.com/webpilot-org/webpilot/internal/logger"
)

// Context carries the loaded configuration and a logger-bearing
// context through a command run.
type Context struct {
	context.Context
	Command *cobra.Command
	Config  *config.Config
}

// setup loads configuration and binds a logger into the command
// context. The --config flag takes precedence over the default file.
func setup(cmd *cobra.Command) (*Context, error) {
	var opts []config.LoaderOption
	if cfgFile, _ := cmd.Flags().GetString("config"); cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.Load(opts...)
	if err != nil {
		return nil, err
	}

	var logOpts []logger.Option
	if cfg.Log.Level == "debug" {
		logOpts = append(logOpts, logger.WithDebug())
	}
	if cfg.Log.Format != "" {
		logOpts = append(logOpts, logger.WithFormat(cfg.Log.Format))
	}
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", cfg.Log.File, err)
		}
		logOpts = append(logOpts, logger.WithWriter(f))
	}
	ctx := logger.WithLogger(cmd.Context(), logger.NewLogger(logOpts...))

	return &Context{Context: ctx, Command: cmd, Config: cfg}, nil
}

// StringParam returns a required string flag value.
func (c *Context) StringParam(name string) (string, error) {
	v, err := c.Command.Flags().GetString(name)
	if err != nil {
		return "", fmt.Errorf("flag %s: %w", name, err)
	}
	return v, nil
}
