package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stevedev/verifetch/internal/config"
	"github.com/stevedev/verifetch/internal/logctx"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd().ExecuteContext(ctx)

	stop()

	if err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// app carries what every subcommand shares once the root has initialised.
type app struct {
	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "verifetch",
		Short:         "Concurrent HTTP downloader with integrity verification",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}

			logger := logctx.New(cmd.ErrOrStderr(), cfg.SlogLevel())
			slog.SetDefault(logger)

			a.cfg = cfg
			cmd.SetContext(logctx.WithLogger(cmd.Context(), logger))

			return nil
		},
	}

	root.AddCommand(newServeCmd(a), newGetCmd(a))

	return root
}
