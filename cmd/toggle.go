// File: cmd/toggle.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zacharyisnthere/who-owns-you/internal/control"
	"github.com/zacharyisnthere/who-owns-you/internal/observability"
	"github.com/zacharyisnthere/who-owns-you/internal/preference"
	"github.com/zacharyisnthere/who-owns-you/internal/service"
)

// stateController is implemented by control.Surface (direct store access)
// and control.Client (a running control endpoint).
type stateController interface {
	State(ctx context.Context) (preference.State, error)
	Set(ctx context.Context, enabled bool) (preference.State, error)
	Toggle(ctx context.Context) (preference.State, error)
}

func newToggleCmd(a *app) *cobra.Command {
	var addr string
	toggleCmd := &cobra.Command{
		Use:       "toggle [on|off]",
		Short:     "Turn the overlay on or off everywhere, or flip it",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), a, addr, func(ctx context.Context, c stateController) error {
				var (
					st  preference.State
					err error
				)
				if len(args) == 0 {
					st, err = c.Toggle(ctx)
				} else {
					st, err = c.Set(ctx, strings.EqualFold(args[0], "on"))
				}
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
	toggleCmd.Flags().StringVar(&addr, "addr", "", "control endpoint of a running woy (default: write the store directly)")
	return toggleCmd
}

func newStatusCmd(a *app) *cobra.Command {
	var addr string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether the overlay is on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withController(cmd.Context(), a, addr, func(ctx context.Context, c stateController) error {
				st, err := c.State(ctx)
				if err != nil {
					return err
				}
				printState(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}
	statusCmd.Flags().StringVar(&addr, "addr", "", "control endpoint of a running woy (default: read the store directly)")
	return statusCmd
}

// withController hands fn a client for addr, or a surface over the
// configured store when addr is empty.
func withController(ctx context.Context, a *app, addr string, fn func(context.Context, stateController) error) error {
	if addr != "" {
		return fn(ctx, control.NewClient(addr, nil))
	}

	components, err := a.factory.Create(ctx, a.cfg, service.Options{}, observability.GetLogger())
	if err != nil {
		return fmt.Errorf("failed to open preference store: %w", err)
	}
	defer components.Shutdown()
	return fn(ctx, components.Surface)
}

func printState(w io.Writer, st preference.State) {
	state := "off"
	if st.Enabled {
		state = "on"
	}
	fmt.Fprintf(w, "Who Owns You is %s (sequence %d)\n", state, st.Sequence)
}
