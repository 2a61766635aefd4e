// internal/page/context.go
package page

import (
	"context"
	"time"
)

// CombineContext derives from primary, keeping its values (chromedp stores
// the target session there), and cancels when either context is done.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach keeps ctx's values but drops its cancellation and deadline. Teardown
// that must reach the page after the agent's context ended runs on it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
