// internal/browser/allocator.go
package browser

import (
	"context"
	"sort"
	"strings"

	"github.com/chromedp/chromedp"

	"github.com/zacharyisnthere/who-owns-you/internal/config"
)

// Flags returns the command line switches passed to an exec allocated
// browser on top of chromedp's defaults, keyed without the leading dashes.
// Boolean switches map to true.
func Flags(cfg config.BrowserConfig) map[string]interface{} {
	flags := map[string]interface{}{
		// Required on hardened hosts and in containers.
		"no-sandbox":            true,
		"disable-dev-shm-usage": true,
		"headless":              cfg.Headless,
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(strings.TrimSpace(arg), "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags[key] = value
			continue
		}
		flags[arg] = true
	}
	return flags
}

// AllocatorOptions translates the browser config into chromedp exec
// allocator options.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)

	flags := Flags(cfg)
	keys := make([]string, 0, len(flags))
	for k := range flags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		opts = append(opts, chromedp.Flag(k, flags[k]))
	}
	return opts
}

// NewAllocator creates the exec or remote allocator named by cfg.
func NewAllocator(ctx context.Context, cfg config.BrowserConfig) (context.Context, context.CancelFunc) {
	if strings.EqualFold(cfg.Allocator, config.AllocatorRemote) {
		return chromedp.NewRemoteAllocator(ctx, cfg.RemoteURL)
	}
	return chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg)...)
}
