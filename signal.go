package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// shutdownContext returns a context that cancels on the first
// SIGINT/SIGTERM so in-flight uploads can finish their verification and
// cleanup, and force-exits on the second. inflight reports how many uploads
// are still draining when the first signal arrives; nil means the command
// has no upload pipeline to drain.
func shutdownContext(parent context.Context, logger *slog.Logger, inflight func() int) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			draining := 0
			if inflight != nil {
				draining = inflight()
			}

			logger.Info("shutdown requested, draining in-flight uploads",
				slog.String("signal", sig.String()),
				slog.Int("in_flight", draining),
			)
			cancel()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal received, abandoning drain",
				slog.String("signal", sig.String()),
			)
			os.Exit(1)
		case <-parent.Done():
			return
		}
	}()

	return ctx
}
