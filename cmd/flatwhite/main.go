package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goliatone/go-flatwhite/cache"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v: error: %v\n", os.Args[0], err)
		os.Exit(1)
	}
}

type globalFlags struct {
	logLevel  string
	logFormat string
}

func newRootCommand() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "flatwhite {[flags]|SUBCOMMAND}",
		Short: "Method output cache with stale-while-revalidate refreshes",

		SilenceErrors: true,
		SilenceUsage:  true,

		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override FLATWHITE_LOG_LEVEL")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "", "override FLATWHITE_LOG_FORMAT (json or console)")

	root.AddCommand(newServeCommand(flags))
	root.AddCommand(newConfigCommand(flags))
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (f *globalFlags) loadConfig() (cache.Config, error) {
	cfg, err := cache.LoadConfig()
	if err != nil {
		return cache.Config{}, err
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	if f.logFormat != "" {
		cfg.LogFormat = f.logFormat
	}
	return cfg, cfg.Validate()
}
