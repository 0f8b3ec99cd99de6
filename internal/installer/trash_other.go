//go:build !darwin

package installer

import "os"

// trash removes the retired bundle outright; only macOS has a
// conventional per-user trash the helper can reach.
func trash(path string) error {
	return os.RemoveAll(path)
}
