//go:build !windows

// Package privilege answers whether the current process has the
// filesystem rights the installer helper needs.
package privilege

import "os"

// IsRunningAsRoot returns true if the process runs with UID 0.
func IsRunningAsRoot() bool {
	return os.Getuid() == 0
}
