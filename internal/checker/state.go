package checker

import (
	"fmt"

	"github.com/beamapp/autoupdate/internal/release"
)

// StateKind enumerates the lifecycle phases of the update engine.
// Exactly one is active at a time.
type StateKind int

const (
	StateNoUpdate StateKind = iota
	StateChecking
	StateUpdateAvailable
	StateDownloading
	StateDownloaded
	StateInstalling
	StateUpdateInstalled
	StateError
)

func (k StateKind) String() string {
	switch k {
	case StateNoUpdate:
		return "noUpdate"
	case StateChecking:
		return "checking"
	case StateUpdateAvailable:
		return "updateAvailable"
	case StateDownloading:
		return "downloading"
	case StateDownloaded:
		return "downloaded"
	case StateInstalling:
		return "installing"
	case StateUpdateInstalled:
		return "updateInstalled"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("StateKind(%d)", int(k))
}

// State is the externally observable status of the engine plus the
// payload of the active variant.
type State struct {
	Kind     StateKind
	Release  *release.Release    // set for updateAvailable
	Progress float64             // set for downloading, 0..1 (negative when unknown)
	Pending  *release.Downloaded // set for downloaded
	Message  string              // set for error
}

// CanPerformCheck reports whether a new check may start in this state.
// Every in-progress phase rejects concurrent checks.
func (s State) CanPerformCheck() bool {
	switch s.Kind {
	case StateNoUpdate, StateUpdateAvailable, StateError, StateDownloaded:
		return true
	}
	return false
}

// Description renders the state for status displays and logs.
func (s State) Description() string {
	switch s.Kind {
	case StateUpdateAvailable:
		if s.Release != nil {
			return fmt.Sprintf("update available: %s", s.Release)
		}
	case StateDownloading:
		if s.Progress >= 0 {
			return fmt.Sprintf("downloading: %.0f%%", s.Progress*100)
		}
		return "downloading"
	case StateDownloaded:
		if s.Pending != nil {
			return fmt.Sprintf("ready to install: %s", s.Pending.AppRelease)
		}
	case StateError:
		return fmt.Sprintf("error: %s", s.Message)
	}
	return s.Kind.String()
}
