// internal/peer/deliver.go
package peer

import (
	"context"
	"fmt"
)

// Reinit makes one attempt at getting target ready to receive, such as
// re-attaching the agent to its tab.
type Reinit func(ctx context.Context, target string) error

// Deliver sends msg once. If that fails it calls reinit once and tries one
// more time. The final error is returned for logging only; callers drop the
// message rather than retry further.
func Deliver(ctx context.Context, s Sender, target string, msg Message, reinit Reinit) error {
	err := s.Send(ctx, target, msg)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || reinit == nil {
		return err
	}
	if rerr := reinit(ctx, target); rerr != nil {
		return fmt.Errorf("reinit %q after %v: %w", target, err, rerr)
	}
	if err := s.Send(ctx, target, msg); err != nil {
		return fmt.Errorf("retry to %q: %w", target, err)
	}
	return nil
}
