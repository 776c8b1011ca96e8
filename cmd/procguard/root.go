package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/procguard/config"
	"github.com/vinayprograms/procguard/logging"
)

type cliContext struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *logging.Logger
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCommand() (*cobra.Command, *cliContext) {
	ctx := &cliContext{}

	cmd := &cobra.Command{
		Use:   "procguard",
		Short: "Supervise a process tree and tear it down on shutdown",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return ctx.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&ctx.configPath, "config", "c", "", "Path to a TOML or YAML config file")
	cmd.PersistentFlags().StringVar(&ctx.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd(ctx))
	cmd.AddCommand(newTreeCmd())
	cmd.AddCommand(newKillTreeCmd(ctx))
	cmd.AddCommand(newVersionCmd())

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	return cmd, ctx
}

// load reads the configuration and builds the logger.
func (c *cliContext) load() error {
	var (
		cfg *config.Config
		err error
	)
	if c.configPath != "" {
		cfg, err = config.LoadFile(c.configPath)
	} else {
		cfg, _, err = config.Load()
	}
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	c.cfg = cfg
	c.logger = logging.New()
	c.logger.SetLevel(cfg.LogLevel())
	return nil
}

// Execute runs the procguard CLI.
func Execute() {
	root, _ := newRootCommand()
	// Signals are owned by the supervisor inside `run`, so the command
	// context is never tied to them.
	if err := root.ExecuteContext(context.Background()); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
