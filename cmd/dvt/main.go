package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Exit codes
const (
	ExitSuccess = 0
	ExitError   = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	// Ctrl-C cancels the context; in-flight backup/restore steps observe it.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		return ExitError
	}
	return ExitSuccess
}
