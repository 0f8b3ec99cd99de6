package release

// Downloaded pairs a release with the locally persisted archive it was
// fetched into. It is the payload of the sidecar JSON file written next
// to the archive in the staging directory.
type Downloaded struct {
	AppRelease Release `json:"appRelease"`
	ArchiveURL string  `json:"archiveURL"`
}

// Equal delegates to the wrapped release identity.
func (d Downloaded) Equal(o Downloaded) bool {
	return d.AppRelease.Equal(o.AppRelease)
}

// Less delegates to the wrapped release ordering.
func (d Downloaded) Less(o Downloaded) bool {
	return d.AppRelease.Less(o.AppRelease)
}
