//go:build darwin

package installer

import (
	"fmt"
	"io/fs"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const quarantineAttr = "com.apple.quarantine"

// stripQuarantine removes the download-quarantine attribute from every
// entry under bundlePath. Files without the attribute are skipped.
func stripQuarantine(bundlePath string) error {
	return filepath.WalkDir(bundlePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := unix.Removexattr(path, quarantineAttr); err != nil {
			if err == unix.ENOATTR {
				return nil
			}
			return fmt.Errorf("removexattr %s: %w", path, err)
		}
		return nil
	})
}
