package commands

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"noticebot/internal/app"
)

func serveCmd() *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Authenticate the session and relay notices until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			var got atomic.Value
			go func() {
				select {
				case sig := <-sigCh:
					got.Store(sig)
					cancel()
				case <-ctx.Done():
				}
			}()

			stop := func(reason app.StopReason) {
				sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
				defer scancel()
				_ = a.Stop(sctx, reason)
			}

			// A signal during bring-up aborts the QR flow and fails Start.
			if err := a.Start(ctx); err != nil {
				stop(app.StopFatalError)
				return err
			}

			<-a.Done()
			if sig, ok := got.Load().(os.Signal); ok {
				reason := app.StopSIGTERM
				if sig == os.Interrupt {
					reason = app.StopSIGINT
				}
				stop(reason)
				return nil
			}
			if err := a.Err(); err != nil {
				stop(app.StopFatalError)
				return err
			}
			stop(app.StopAppStop)
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 45*time.Second, "upper bound for graceful shutdown")
	return cmd
}
