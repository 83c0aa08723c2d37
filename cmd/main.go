package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"shopetl/internal/runstatus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()

	switch code := runstatus.ExitCode(err); code {
	case runstatus.ExitOK:
	case runstatus.ExitInterrupted:
		slog.Warn("🛑 Interrupted")
		closeLog()
		os.Exit(code)
	default:
		slog.Error("❌ Run failed", "error", err)
		closeLog()
		os.Exit(code)
	}
	closeLog()
}
