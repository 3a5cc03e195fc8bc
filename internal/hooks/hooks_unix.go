//go:build unix

package hooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"syscall"

	"github.com/untoldecay/fieldmerge/internal/notify"
)

// runHook executes the hook and kills its whole process group on timeout so
// scripts that spawn children cannot outlive it.
func (r *Runner) runHook(ctx context.Context, hookPath string, ev notify.Event) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := notify.Encode(ev)
	if err != nil {
		return err
	}

	// #nosec G204 -- hookPath is from the controlled hooks directory
	cmd := exec.Command(hookPath, ev.MigrationID, ev.Type)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("kill process group: %w", err)
		}
		<-done
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("hook %s failed: %w: %s", hookPath, err, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil
	}
}
