// Package staging owns the on-disk staging directory that holds
// downloaded update archives and their sidecar metadata. Sidecar files
// are the only durable cross-restart state of the update engine:
// pending installs are reconstructed from them on every check.
package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beamapp/autoupdate/internal/logging"
	"github.com/beamapp/autoupdate/internal/release"
)

var log = logging.L("staging")

// ErrCantCreateRequiredFolders indicates the staging directory could not
// be created. This is never swallowed; the checker surfaces it as an
// error state.
var ErrCantCreateRequiredFolders = errors.New("can't create required folders")

// Store manages pending-install records under a per-app staging
// directory.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. The directory is created lazily,
// on the first write.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// DefaultDir returns the conventional staging location for appName
// under the user's application-support directory.
func DefaultDir(appName string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCantCreateRequiredFolders, err)
	}
	return filepath.Join(base, appName, "Updates"), nil
}

// Dir returns the staging directory path.
func (s *Store) Dir() string { return s.dir }

// ensureDir creates the staging directory tree on demand.
func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrCantCreateRequiredFolders, err)
	}
	return nil
}

// DecomposeFilename splits the last path component of a URL or file
// path into base name and extension (without the dot). A component
// with no extension yields the full component and an empty extension.
func DecomposeFilename(location string) (base, ext string) {
	name := location
	if u, err := url.Parse(location); err == nil && u.Path != "" {
		name = u.Path
	}
	name = path.Base(name)

	ext = path.Ext(name)
	base = strings.TrimSuffix(name, ext)
	ext = strings.TrimPrefix(ext, ".")
	return base, ext
}

// ArchiveFilename builds the versioned archive name for a release:
// <name>_<version>.<buildNumber>.<ext>.
func ArchiveFilename(rel release.Release, ext string) string {
	name := fmt.Sprintf("%s_%s.%s", rel.VersionName, rel.Version, rel.BuildNumber)
	if ext != "" {
		name += "." + ext
	}
	return name
}

// SaveDownloaded moves the downloaded archive from its temporary
// location into the staging directory under its versioned name and
// writes the JSON sidecar beside it. The sidecar is written only after
// the archive move has succeeded, so a sidecar never references a
// missing archive.
func (s *Store) SaveDownloaded(tempPath string, rel release.Release) (release.Downloaded, error) {
	if err := s.ensureDir(); err != nil {
		return release.Downloaded{}, err
	}

	_, ext := DecomposeFilename(rel.DownloadURL)
	archivePath := filepath.Join(s.dir, ArchiveFilename(rel, ext))

	if err := moveFile(tempPath, archivePath); err != nil {
		return release.Downloaded{}, fmt.Errorf("move archive into staging: %w", err)
	}

	downloaded := release.Downloaded{
		AppRelease: rel,
		ArchiveURL: archivePath,
	}

	data, err := json.Marshal(downloaded)
	if err != nil {
		return release.Downloaded{}, fmt.Errorf("encode pending install: %w", err)
	}

	sidecarPath := filepath.Join(s.dir, ArchiveFilename(rel, "json"))
	if err := os.WriteFile(sidecarPath, data, 0o644); err != nil {
		return release.Downloaded{}, fmt.Errorf("write pending install record: %w", err)
	}

	log.Info("persisted pending install",
		logging.KeyVersion, rel.Version,
		logging.KeyBuild, rel.BuildNumber,
		"archive", archivePath,
	)
	return downloaded, nil
}

// FindPendingReleases enumerates the sidecar files in the staging
// directory and returns the decoded records sorted ascending, so the
// last element is the newest release. Undecodable sidecars are skipped.
func (s *Store) FindPendingReleases() ([]release.Downloaded, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read staging directory: %w", err)
	}

	var pending []release.Downloaded
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			log.Warn("skipping unreadable pending record", "file", entry.Name(), logging.KeyError, err)
			continue
		}
		var d release.Downloaded
		if err := json.Unmarshal(data, &d); err != nil {
			log.Warn("skipping malformed pending record", "file", entry.Name(), logging.KeyError, err)
			continue
		}
		pending = append(pending, d)
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Less(pending[j])
	})
	return pending, nil
}

// CheckForPending returns the newest pending install that is strictly
// newer than current, or nil when every record on disk is stale.
func (s *Store) CheckForPending(current release.Release) (*release.Downloaded, error) {
	pending, err := s.FindPendingReleases()
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	newest := pending[len(pending)-1]
	if newest.AppRelease.Compare(current) <= 0 {
		log.Debug("ignoring stale pending install",
			logging.KeyVersion, newest.AppRelease.Version,
			"current", current.Version,
		)
		return nil, nil
	}
	return &newest, nil
}

// Cleanup removes the whole staging directory tree, orphaned partial
// downloads included. Called after every terminal state transition.
func (s *Store) Cleanup() {
	if err := os.RemoveAll(s.dir); err != nil {
		log.Warn("staging cleanup failed", "dir", s.dir, logging.KeyError, err)
	}
}

// moveFile renames src to dst, falling back to copy-and-remove when the
// paths are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}
