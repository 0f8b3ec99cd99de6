// Package checker implements the update lifecycle state machine: it
// owns the observable UpdateState, runs checks against the release
// feed, downloads archives into the staging area and drives the
// privileged installer.
package checker

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/beamapp/autoupdate/internal/feedstore"
	"github.com/beamapp/autoupdate/internal/hostinfo"
	"github.com/beamapp/autoupdate/internal/httputil"
	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/logging"
	"github.com/beamapp/autoupdate/internal/release"
	"github.com/beamapp/autoupdate/internal/staging"
)

var log = logging.L("checker")

// InstallerClient performs one privileged install round trip.
type InstallerClient interface {
	Install(ctx context.Context, req *ipc.InstallRequest) (*ipc.InstallResponse, error)
}

// Checker is the single owner of the update state. All state mutation
// is serialized through its mutex; the CanPerformCheck gate plus the
// explicit in-progress states guarantee at most one check, download or
// install pipeline is active.
type Checker struct {
	feed    feedstore.Store
	host    hostinfo.Info
	staging *staging.Store
	helper  InstallerClient

	// Client downloads archives. Replaceable in tests.
	Client *http.Client
	Retry  httputil.RetryConfig

	AllowAutoDownload bool
	AllowAutoInstall  bool

	// Optional hooks around the privileged install call.
	PreInstall  func()
	PostInstall func()

	// Quit terminates the host process after a successful install
	// with auto-relaunch; the delay lets the installer reply settle.
	Quit      func()
	QuitDelay time.Duration

	mu             sync.Mutex
	state          State
	history        []release.Release
	newRelease     *release.Release
	currentRelease *release.Release
	lastCheck      time.Time

	obsMu     sync.Mutex
	observers map[int]func(State)
	obsNext   int

	autocheckMu     sync.Mutex
	autocheckCancel context.CancelFunc
}

// New creates a Checker. The feed store, host identity, staging store
// and installer client are the four external collaborators.
func New(feed feedstore.Store, host hostinfo.Info, store *staging.Store, helper InstallerClient) *Checker {
	return &Checker{
		feed:      feed,
		host:      host,
		staging:   store,
		helper:    helper,
		Client:    &http.Client{Timeout: 30 * time.Minute},
		Retry:     httputil.DefaultRetryConfig(),
		Quit:      func() { os.Exit(0) },
		QuitDelay: 2 * time.Second,
		state:     State{Kind: StateNoUpdate},
		observers: map[int]func(State){},
	}
}

// State returns the current state snapshot.
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NewRelease returns the highest remote release found by the last
// successful check, nil when up to date.
func (c *Checker) NewRelease() *release.Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.newRelease
}

// CurrentRelease returns the synthetic release describing the running
// application, enriched from the feed when possible.
func (c *Checker) CurrentRelease() *release.Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRelease
}

// LastCheck returns the completion time of the most recent check.
func (c *Checker) LastCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck
}

// MissedReleases returns every feed entry strictly newer than the
// running release, newest last.
func (c *Checker) MissedReleases() []release.Release {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentRelease == nil {
		return nil
	}
	return release.ReleasesAfter(c.history, *c.currentRelease)
}

// Subscribe registers fn to be called on every state change. The
// returned function cancels the subscription. fn runs on the mutating
// goroutine and must not block.
func (c *Checker) Subscribe(fn func(State)) (cancel func()) {
	c.obsMu.Lock()
	id := c.obsNext
	c.obsNext++
	c.observers[id] = fn
	c.obsMu.Unlock()

	return func() {
		c.obsMu.Lock()
		delete(c.observers, id)
		c.obsMu.Unlock()
	}
}

// setState publishes a new state.
func (c *Checker) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Checker) notify(s State) {
	log.Debug("state changed", "state", s.Kind.String())
	c.obsMu.Lock()
	fns := make([]func(State), 0, len(c.observers))
	for _, fn := range c.observers {
		fns = append(fns, fn)
	}
	c.obsMu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// fail transitions to the error state and clears the staging area.
func (c *Checker) fail(message string) {
	log.Error("update pipeline failed", logging.KeyError, message)
	c.staging.Cleanup()
	c.setState(State{Kind: StateError, Message: message})
}
