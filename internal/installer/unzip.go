package installer

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/beamapp/autoupdate/internal/ipc"
)

// extractBundle extracts archivePath into its enclosing directory and
// returns the path of the single top-level .app bundle it contains.
// Zero candidates is unzippedContentNotFound, more than one is
// archiveContentNotCoherent, anything wrong with the archive itself is
// genericUnzipError.
func extractBundle(archivePath string) (string, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", codeErr(ipc.CodeGenericUnzipError, err)
	}
	defer reader.Close()

	destDir := filepath.Dir(archivePath)

	bundles := map[string]bool{}
	for _, f := range reader.File {
		top := topComponent(f.Name)
		if strings.HasSuffix(top, ".app") {
			bundles[top] = true
		}
		if err := extractFile(f, destDir); err != nil {
			return "", codeErr(ipc.CodeGenericUnzipError, err)
		}
	}

	switch len(bundles) {
	case 0:
		return "", codeErrf(ipc.CodeUnzippedContentNotFound, "no application bundle in %s", filepath.Base(archivePath))
	case 1:
		for name := range bundles {
			return filepath.Join(destDir, name), nil
		}
	}
	return "", codeErrf(ipc.CodeArchiveContentNotCoherent, "%d application bundles in %s", len(bundles), filepath.Base(archivePath))
}

func topComponent(name string) string {
	name = strings.TrimPrefix(name, "./")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

func extractFile(f *zip.File, destDir string) error {
	// Reject entries escaping the destination (zip slip).
	path := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(path, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(path, f.Mode().Perm()|0o700)
	}

	if f.Mode()&os.ModeSymlink != 0 {
		rc, err := f.Open()
		if err != nil {
			return err
		}
		target, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		os.Remove(path)
		return os.Symlink(string(target), path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return err
	}
	return nil
}
