// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/service"
)

func newRunCmd(a *app) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Attach to the browser and overlay ownership info on every matching tab",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgents(cmd.Context(), a)
		},
	}

	flags := runCmd.Flags()
	flags.Bool("headless", false, "run the launched browser headless")
	flags.String("remote-url", "", "attach to a running browser at this DevTools websocket URL")
	flags.String("control-addr", "", "serve the control endpoint on this address (e.g. 127.0.0.1:7777)")
	_ = a.v.BindPFlag("browser.headless", flags.Lookup("headless"))
	_ = a.v.BindPFlag("browser.remote_url", flags.Lookup("remote-url"))
	_ = a.v.BindPFlag("control.addr", flags.Lookup("control-addr"))

	// A remote URL implies the remote allocator.
	runCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if flags.Changed("remote-url") {
			a.cfg.Browser.Allocator = config.AllocatorRemote
		}
	}
	return runCmd
}

func runAgents(ctx context.Context, a *app) error {
	logger := observability.GetLogger()
	logger.Info("Starting Who Owns You.",
		zap.String("allocator", a.cfg.Browser.Allocator),
		zap.String("backend", a.cfg.Preference.Backend),
		zap.String("dataset", a.cfg.Agent.Dataset),
	)

	components, err := a.factory.Create(ctx, a.cfg, service.Options{Browser: true, Control: true}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer components.Shutdown()

	if err := components.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Shutting down.")
	return nil
}
