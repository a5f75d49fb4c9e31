package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/egorkaBurkenya/resilient-api/config"
)

type app struct {
	cfg config.Config
	log *slog.Logger
}

func newRootCmd() *cobra.Command {
	var (
		configFile string
		envFiles   []string
		logLevel   string
		a          = &app{}
	)

	root := &cobra.Command{
		Use:   "resilientctl",
		Short: "Call an API through a rate-limited, retrying client",
		Long: `resilientctl sends requests through the resilient client: token-bucket
admission, adaptive throttling and retries with exponential backoff.

Settings come from RESILIENT_* environment variables (and .env), or from a
YAML file given with --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if configFile != "" {
				a.cfg, err = config.LoadFile(configFile)
			} else {
				a.cfg, err = config.Load(envFiles...)
			}
			if err != nil {
				return err
			}
			if logLevel != "" {
				a.cfg.LogLevel = logLevel
			}
			a.log, err = newLogger(cmd.ErrOrStderr(), a.cfg.LogLevel)
			return err
		},
	}

	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides environment)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, ".env files to load (default ./.env if present)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(newGetCmd(a), newPostCmd(a), newSoakCmd(a))
	return root
}

// newLogger writes JSON logs to w.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	if w == nil {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
