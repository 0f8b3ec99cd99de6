package installer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/beamapp/autoupdate/internal/logging"
)

// Relauncher schedules a relaunch of the updated application once the
// calling process has exited.
type Relauncher interface {
	Schedule(appPID int, bundlePath string) error
}

// WatcherRelauncher spawns a detached copy of the helper binary in
// watch mode. The watcher outlives the install call, so a helper
// shutdown right after replying cannot cancel the relaunch.
type WatcherRelauncher struct{}

func (WatcherRelauncher) Schedule(appPID int, bundlePath string) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve helper binary: %w", err)
	}

	cmd := exec.Command(exe, "watch",
		"--pid", fmt.Sprint(appPID),
		"--bundle", bundlePath,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn relaunch watcher: %w", err)
	}
	// Detach; the watcher is on its own from here.
	return cmd.Process.Release()
}

// WatchAndRelaunch polls until pid has exited, then launches the
// bundle. It gives up if the process is still alive after the grace
// period; relaunching beside a live instance would race it.
func WatchAndRelaunch(ctx context.Context, pid int, bundlePath string, grace time.Duration) error {
	log := logging.L("relaunch")

	deadline := time.Now().Add(grace)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		alive, err := process.PidExistsWithContext(ctx, int32(pid))
		if err != nil {
			return fmt.Errorf("poll pid %d: %w", pid, err)
		}
		if !alive {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("pid %d still alive after %s, not relaunching", pid, grace)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	log.Info("caller exited, relaunching", "bundle", bundlePath)
	return launchBundle(bundlePath)
}

func launchBundle(bundlePath string) error {
	var cmd *exec.Cmd
	if runtime.GOOS == "darwin" {
		cmd = exec.Command("open", bundlePath)
	} else {
		cmd = exec.Command(bundlePath)
		cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch %s: %w", bundlePath, err)
	}
	return cmd.Process.Release()
}
