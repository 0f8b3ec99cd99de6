//go:build darwin

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// trash moves path into the user's trash. When a same-named entry is
// already there, a timestamp keeps the names unique.
func trash(path string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	target := filepath.Join(home, ".Trash", filepath.Base(path))
	if _, err := os.Lstat(target); err == nil {
		target = fmt.Sprintf("%s %s", target, time.Now().Format("15.04.05"))
	}
	return os.Rename(path, target)
}
