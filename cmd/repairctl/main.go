// Command repairctl runs lab host verify/repair strategies from a shell,
// without the HTTP service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labfleet/repair-engine/internal/app"
	"github.com/labfleet/repair-engine/pkg/config"
)

// Exit codes
const (
	exitSuccess   = 0
	exitError     = 1
	exitUnhealthy = 2
)

// appFactory assembles the engine; tests replace it
type appFactory func(ctx context.Context, log *logrus.Logger) (*app.App, error)

func loadApp(ctx context.Context, log *logrus.Logger) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, log)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(loadApp)
	err := root.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var unhealthy *unhealthyError
	if errors.As(err, &unhealthy) {
		return exitUnhealthy
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitError
}

type rootOptions struct {
	logLevel string
	json     bool
}

func newRootCmd(newApp appFactory) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "repairctl",
		Short:         "Verify and repair lab hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "print results as JSON")

	root.AddCommand(
		newRunCmd(opts, newApp),
		newSweepCmd(opts, newApp),
		newGraphCmd(opts, newApp),
	)
	return root
}

func (o *rootOptions) logger(cmd *cobra.Command) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to warn", o.logLevel)
		level = logrus.WarnLevel
	}
	log.SetLevel(level)
	return log
}

// withApp builds the engine, runs fn and closes the engine
func withApp(cmd *cobra.Command, opts *rootOptions, newApp appFactory, fn func(*app.App) error) error {
	a, err := newApp(cmd.Context(), opts.logger(cmd))
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
		}
	}()
	return fn(a)
}
