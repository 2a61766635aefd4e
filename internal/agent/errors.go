// internal/agent/errors.go
package agent

import "errors"

// ErrStopped is returned by calls that need the agent's task loop after Run
// has returned.
var ErrStopped = errors.New("agent: stopped")
