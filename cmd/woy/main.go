// File: cmd/woy/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/zacharyisnthere/who-owns-you/cmd"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"go.uber.org/zap"
)

// Allows mocking os.Exit in tests.
var osExit = os.Exit

func main() {
	defer handlePanic()

	// SIGINT and SIGTERM cancel the context; agents release their overlays on the way out.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		osExit(0)
	default:
		osExit(1)
	}
}

// handlePanic flushes the logs and reports the crash before exiting.
func handlePanic() {
	if r := recover(); r != nil {
		observability.GetLogger().Error("Unrecovered panic.", panicField(r))
		observability.Sync()
		fmt.Fprintf(os.Stderr, "panic: %v\n\n%s", r, debug.Stack())
		osExit(2)
	}
}

func panicField(r interface{}) zap.Field {
	if err, ok := r.(error); ok {
		return zap.Error(err)
	}
	return zap.String("panic", fmt.Sprint(r))
}
