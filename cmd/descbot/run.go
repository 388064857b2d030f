package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"descbot/internal/app"
)

const stopTimeout = 10 * time.Second

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bot (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(f.configPath, app.Options{Version: Version})
			if err != nil {
				printErr(cmd.ErrOrStderr(), "%v", err)
				return err
			}
			// Signals only trigger Stop below; the app's own context stays
			// live so Stop can drain in-flight updates in order.
			if err := a.Start(context.WithoutCancel(ctx)); err != nil {
				printErr(cmd.ErrOrStderr(), "start: %v", err)
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, reason)

			if err := a.Err(); err != nil {
				printErr(cmd.ErrOrStderr(), "fatal: %v", err)
				return fmt.Errorf("fatal: %w", err)
			}
			return nil
		},
	}
}
