//go:build !darwin

package installer

// stripQuarantine is a no-op outside macOS; only macOS quarantines
// downloaded bundles.
func stripQuarantine(string) error { return nil }
