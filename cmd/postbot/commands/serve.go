package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"postbot/internal/app"
)

// ServeCmd runs postbot until SIGINT/SIGTERM or a fatal error.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler and the mini app API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		grace, _ := cmd.Flags().GetDuration("shutdown-timeout")
		return runServe(cmd.Context(), cfgPath, grace)
	},
}

func init() {
	ServeCmd.Flags().Duration("shutdown-timeout", 15*time.Second, "upper bound for graceful shutdown")
}

func runServe(parent context.Context, cfgPath string, grace time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
		defer stopCancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return err
	}

	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	reason := app.StopSignal
	if a.Err() != nil {
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), grace)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}
