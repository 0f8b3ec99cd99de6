// Package hostinfo describes the application the update engine runs
// inside of: its marketing name, version and build number, plus the
// on-disk locations the installer needs.
package hostinfo

import (
	"os"
	"path/filepath"
)

// Info identifies the host application.
type Info interface {
	// Name is the application's display name, e.g. "Beam".
	Name() string
	// Version is the semantic marketing version, e.g. "2.3.1".
	Version() string
	// Build is the build number string, e.g. "20220127.164156".
	Build() string
	// BundlePath is the absolute path of the installed application on
	// disk, the thing the installer replaces.
	BundlePath() string
}

// App is the standard Info implementation, populated from build-time
// version variables and the running executable's location.
type App struct {
	AppName    string
	AppVersion string
	AppBuild   string
	Path       string
}

// New creates an App. When path is empty the running executable's
// enclosing bundle is used.
func New(name, version, build, path string) *App {
	if path == "" {
		path = executableBundle()
	}
	return &App{
		AppName:    name,
		AppVersion: version,
		AppBuild:   build,
		Path:       path,
	}
}

func (a *App) Name() string       { return a.AppName }
func (a *App) Version() string    { return a.AppVersion }
func (a *App) Build() string      { return a.AppBuild }
func (a *App) BundlePath() string { return a.Path }

// executableBundle walks up from the running executable looking for the
// enclosing .app directory. Falls back to the executable path itself
// when the binary does not live inside a bundle.
func executableBundle() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	for dir := filepath.Dir(exe); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if filepath.Ext(dir) == ".app" {
			return dir
		}
	}
	return exe
}
