package checker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/logging"
	"github.com/beamapp/autoupdate/internal/release"
)

// PerformInstallation hands the downloaded release to the privileged
// helper and, on success, schedules the relaunch teardown. It requires
// the downloaded state.
func (c *Checker) PerformInstallation(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Kind != StateDownloaded || c.state.Pending == nil {
		kind := c.state.Kind
		c.mu.Unlock()
		return fmt.Errorf("nothing to install while %s", kind)
	}
	pending := *c.state.Pending
	c.mu.Unlock()

	return c.processInstallation(ctx, pending, true)
}

// processInstallation performs the cross-process install round trip.
// The staging area is released on every exit path; the helper channel
// lives only for the duration of the call.
func (c *Checker) processInstallation(ctx context.Context, pending release.Downloaded, autoRelaunch bool) error {
	c.setState(State{Kind: StateInstalling})

	if c.PreInstall != nil {
		c.PreInstall()
	}

	defer c.staging.Cleanup()

	resp, err := c.helper.Install(ctx, &ipc.InstallRequest{
		ArchiveURL:         pending.ArchiveURL,
		BinaryToReplaceURL: c.host.BundlePath(),
		AppPID:             os.Getpid(),
	})
	if err != nil {
		c.setState(State{Kind: StateError, Message: fmt.Sprintf("installation failed: %v", err)})
		return err
	}
	if !resp.Success {
		msg := installErrorMessage(resp.ErrorCode, resp.RecoveredPath)
		c.setState(State{Kind: StateError, Message: msg})
		return fmt.Errorf("installer: %s", msg)
	}

	log.Info("update installed",
		logging.KeyVersion, pending.AppRelease.Version,
		logging.KeyBuild, pending.AppRelease.BuildNumber,
	)
	c.setState(State{Kind: StateUpdateInstalled})

	if c.PostInstall != nil {
		c.PostInstall()
	}

	if autoRelaunch && c.Quit != nil {
		// Give the reply's side effects a moment to settle, then let
		// the helper's watcher bring the new version up.
		time.AfterFunc(c.QuitDelay, c.Quit)
	}
	return nil
}

// PerformUpdateIfAvailable chains check, download and install into one
// unattended pass. With forceInstall the install runs even when
// auto-install is disabled.
func (c *Checker) PerformUpdateIfAvailable(ctx context.Context, forceInstall bool) error {
	if err := c.CheckForUpdates(ctx); err != nil {
		return err
	}

	switch c.State().Kind {
	case StateUpdateAvailable:
		return c.download(ctx, forceInstall || c.AllowAutoInstall)
	case StateDownloaded:
		if forceInstall || c.AllowAutoInstall {
			c.mu.Lock()
			pending := c.state.Pending
			c.mu.Unlock()
			if pending != nil {
				// The download finished on an earlier pass; installing it
				// now also brings the new version up.
				return c.processInstallation(ctx, *pending, true)
			}
		}
	}
	return nil
}

// installErrorMessage maps a stable installer error code to the
// message shown to the user.
func installErrorMessage(code, recoveredPath string) string {
	var msg string
	switch code {
	case ipc.CodeGenericUnzipError:
		msg = "the update archive could not be unpacked"
	case ipc.CodeUnzippedContentNotFound:
		msg = "the update archive does not contain an application"
	case ipc.CodeArchiveContentNotCoherent:
		msg = "the update archive content is not coherent"
	case ipc.CodeFailedToUnquarantine:
		msg = "the update could not be released from quarantine"
	case ipc.CodeSignatureFailed:
		msg = "the update is not signed by the expected developer"
	case ipc.CodeAppReplacementFailed:
		msg = "the application could not be replaced"
	case ipc.CodeExistingAppAtDestination:
		msg = "another application already occupies the install location"
	case ipc.CodeDiskPermissionError:
		msg = "the install location is not writable"
	case "":
		msg = "the installation failed unexpectedly"
	default:
		msg = fmt.Sprintf("the installation failed (%s)", code)
	}
	if recoveredPath != "" {
		msg += fmt.Sprintf("; the update was moved to %s", recoveredPath)
	}
	return msg
}
