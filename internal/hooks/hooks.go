// Package hooks runs user scripts on migration lifecycle events.
// Hooks are executables in <data-dir>/hooks/ named after the event.
package hooks

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/untoldecay/fieldmerge/internal/notify"
)

// Hook file names
const (
	HookOnStart    = "on_start"
	HookOnComplete = "on_complete"
	HookOnError    = "on_error"
)

// DefaultTimeout bounds a single hook run.
const DefaultTimeout = 10 * time.Second

// Runner executes hooks. It satisfies notify.Publisher so it can sit next
// to the broker publisher.
type Runner struct {
	hooksDir string
	timeout  time.Duration
}

// NewRunner creates a runner for hooksDir.
func NewRunner(hooksDir string) *Runner {
	return &Runner{hooksDir: hooksDir, timeout: DefaultTimeout}
}

// NewRunnerFromDataDir creates a runner for <dataDir>/hooks.
func NewRunnerFromDataDir(dataDir string) *Runner {
	return NewRunner(filepath.Join(dataDir, "hooks"))
}

// Publish runs the hook for ev, if one is installed, and waits for it.
// The script is invoked as `hook <migration-id> <event-type>` with the event
// JSON on stdin.
func (r *Runner) Publish(ctx context.Context, ev notify.Event) error {
	hookPath, ok := r.lookup(ev.Type)
	if !ok {
		return nil
	}
	return r.runHook(ctx, hookPath, ev)
}

// Close does nothing.
func (r *Runner) Close() {}

// HookExists reports whether an executable hook is installed for an event type.
func (r *Runner) HookExists(eventType string) bool {
	_, ok := r.lookup(eventType)
	return ok
}

func (r *Runner) lookup(eventType string) (string, bool) {
	name := eventToHook(eventType)
	if name == "" {
		return "", false
	}
	hookPath := filepath.Join(r.hooksDir, name)
	info, err := os.Stat(hookPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	if info.Mode()&0o111 == 0 {
		return "", false
	}
	return hookPath, true
}

// eventToHook maps event types to hook names. Progress events have no hook.
func eventToHook(eventType string) string {
	switch eventType {
	case notify.EventStarted:
		return HookOnStart
	case notify.EventCompleted:
		return HookOnComplete
	case notify.EventFailed:
		return HookOnError
	default:
		return ""
	}
}
