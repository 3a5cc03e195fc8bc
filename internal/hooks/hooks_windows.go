//go:build windows

package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/untoldecay/fieldmerge/internal/notify"
)

// runHook executes the hook. Windows has no process groups; on timeout only
// the hook process itself is killed.
func (r *Runner) runHook(ctx context.Context, hookPath string, ev notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := notify.Encode(ev)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, hookPath, ev.MigrationID, ev.Type)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("hook %s failed: %w: %s", hookPath, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
