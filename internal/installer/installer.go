// Package installer implements the privileged side of the update: it
// unpacks a downloaded archive, verifies signing continuity against
// the installed application and swaps the bundles. It runs inside the
// helper process, which has the filesystem rights the application
// itself lacks while running.
package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/logging"
)

var log = logging.L("installer")

// Installer performs install calls. The collaborators that touch the
// OS (codesign, xattr stripping, relaunch) are injectable.
type Installer struct {
	Signatures SignatureInspector
	Relauncher Relauncher

	// DownloadsDir receives the update when a recoverable failure
	// blocks the normal destination. Defaults to ~/Downloads.
	DownloadsDir string

	stripQuarantine func(string) error
}

// New creates an Installer with the real OS collaborators.
func New() *Installer {
	downloads := ""
	if home, err := os.UserHomeDir(); err == nil {
		downloads = filepath.Join(home, "Downloads")
	}
	return &Installer{
		Signatures:      CodesignInspector{},
		Relauncher:      WatcherRelauncher{},
		DownloadsDir:    downloads,
		stripQuarantine: stripQuarantine,
	}
}

// Install runs the full install sequence for one request. Every
// failure mode maps to a stable error code; the two recoverable ones
// additionally carry the path the update was moved to.
func (ins *Installer) Install(ctx context.Context, req *ipc.InstallRequest) *ipc.InstallResponse {
	recovered, err := ins.run(ctx, req)
	if err != nil {
		resp := &ipc.InstallResponse{Success: false, RecoveredPath: recovered}
		var ce *CodeError
		if errors.As(err, &ce) {
			resp.ErrorCode = ce.Code
		}
		log.Error("install failed",
			"archive", req.ArchiveURL,
			"code", resp.ErrorCode,
			logging.KeyError, err,
		)
		return resp
	}

	log.Info("install complete", "target", req.BinaryToReplaceURL)
	return &ipc.InstallResponse{Success: true}
}

// run executes the ordered install steps. The returned string is the
// recovery path when a fallback relocation happened, empty otherwise.
func (ins *Installer) run(ctx context.Context, req *ipc.InstallRequest) (string, error) {
	bundle, err := extractBundle(req.ArchiveURL)
	if err != nil {
		return "", err
	}

	strip := ins.stripQuarantine
	if strip == nil {
		strip = stripQuarantine
	}
	if err := strip(bundle); err != nil {
		return "", codeErr(ipc.CodeFailedToUnquarantine, err)
	}

	// Trust boundary: the update must be signed by the same team as
	// the application it replaces.
	currentTeam, err := ins.Signatures.TeamIdentifier(ctx, req.BinaryToReplaceURL)
	if err != nil {
		return "", codeErr(ipc.CodeSignatureFailed, err)
	}
	newTeam, err := ins.Signatures.TeamIdentifier(ctx, bundle)
	if err != nil {
		return "", codeErr(ipc.CodeSignatureFailed, err)
	}
	if currentTeam != newTeam {
		return "", codeErrf(ipc.CodeSignatureFailed,
			"team identifier mismatch: installed %q, update %q", currentTeam, newTeam)
	}

	oldPath := req.BinaryToReplaceURL
	destDir := filepath.Dir(oldPath)
	dest := filepath.Join(destDir, filepath.Base(bundle))

	if filepath.Base(bundle) != filepath.Base(oldPath) {
		if _, err := os.Lstat(dest); err == nil {
			recovered := ins.fallbackToDownloads(bundle, req.ArchiveURL)
			return recovered, codeErrf(ipc.CodeExistingAppAtDestination, "destination occupied: %s", dest)
		}
	}

	if err := unix.Access(destDir, unix.W_OK); err != nil {
		recovered := ins.fallbackToDownloads(bundle, req.ArchiveURL)
		return recovered, codeErrf(ipc.CodeDiskPermissionError, "%s not writable: %v", destDir, err)
	}

	if err := ins.swap(oldPath, bundle, dest); err != nil {
		return "", err
	}

	if ins.Relauncher != nil {
		if err := ins.Relauncher.Schedule(req.AppPID, dest); err != nil {
			// The swap already succeeded; the user can relaunch by hand.
			log.Warn("relaunch watcher not started", logging.KeyError, err)
		}
	}
	return "", nil
}

// swap retires the installed bundle under a PID-suffixed name, moves
// the update into place and trashes the old copy. A crash mid-swap
// leaves the retired copy recognizable on disk.
func (ins *Installer) swap(oldPath, bundle, dest string) error {
	retired := fmt.Sprintf("%s_%d", oldPath, os.Getpid())

	if err := os.Rename(oldPath, retired); err != nil {
		return codeErr(ipc.CodeAppReplacementFailed, err)
	}
	if err := os.Rename(bundle, dest); err != nil {
		// Put the old bundle back; better a stale app than none.
		if restoreErr := os.Rename(retired, oldPath); restoreErr != nil {
			log.Error("could not restore retired bundle", "path", retired, logging.KeyError, restoreErr)
		}
		return codeErr(ipc.CodeAppReplacementFailed, err)
	}

	if err := trash(retired); err != nil {
		log.Warn("old bundle left on disk", "path", retired, logging.KeyError, err)
	}
	return nil
}

// fallbackToDownloads moves the extracted bundle, or failing that the
// raw archive, into the Downloads folder and returns the resulting
// path. Nothing is left behind in the staging area.
func (ins *Installer) fallbackToDownloads(bundle, archivePath string) string {
	if ins.DownloadsDir == "" {
		os.RemoveAll(bundle)
		return ""
	}

	target := filepath.Join(ins.DownloadsDir, filepath.Base(bundle))
	if err := os.Rename(bundle, target); err == nil {
		log.Info("update moved to downloads", "path", target)
		return target
	}
	os.RemoveAll(bundle)

	target = filepath.Join(ins.DownloadsDir, filepath.Base(archivePath))
	if err := os.Rename(archivePath, target); err == nil {
		log.Info("archive moved to downloads", "path", target)
		return target
	}
	return ""
}
