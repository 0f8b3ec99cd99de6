package checker

import (
	"context"
	"fmt"
	"time"

	"github.com/beamapp/autoupdate/internal/release"
)

// CheckForUpdates runs one full check against the feed and resolves to
// exactly one of updateAvailable, downloaded, noUpdate or error before
// returning. With auto-download enabled it continues straight into the
// download (and possibly install) pipeline.
func (c *Checker) CheckForUpdates(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.CanPerformCheck() {
		kind := c.state.Kind
		c.mu.Unlock()
		return fmt.Errorf("check rejected while %s", kind)
	}
	// A pending install surfaced by an earlier check survives this one.
	var held *release.Downloaded
	if c.state.Kind == StateDownloaded {
		held = c.state.Pending
	}
	c.state = State{Kind: StateChecking}
	c.mu.Unlock()
	c.notify(State{Kind: StateChecking})

	current := release.NewCurrent(c.host.Name(), c.host.Version(), c.host.Build())

	data, err := c.feed.Fetch(ctx)
	if err != nil {
		c.failCheck(current, held, fmt.Sprintf("update check failed: %v", err))
		return err
	}
	releases, err := release.DecodeFeed(data)
	if err != nil {
		c.failCheck(current, held, fmt.Sprintf("update check failed: %v", err))
		return err
	}
	release.SortDescending(releases)

	// Enrich the synthetic current release with the feed entry that
	// describes the running build, when there is one.
	for _, r := range releases {
		if r.Equal(current) {
			current.ReleaseNotesMarkdown = r.ReleaseNotesMarkdown
			current.ReleaseNoteURL = r.ReleaseNoteURL
			current.PublicationDate = r.PublicationDate
			break
		}
	}

	pending := held
	if pending == nil {
		pending, err = c.staging.CheckForPending(current)
		if err != nil {
			log.Warn("pending install lookup failed", "error", err)
		}
	}

	if len(releases) == 0 || releases[0].Compare(current) <= 0 {
		// No newer release. Completed work is resurfaced, not lost.
		c.finishCheck(releases, &current)
		c.setNewRelease(nil)
		if pending != nil {
			c.setState(State{Kind: StateDownloaded, Pending: pending})
		} else {
			c.setState(State{Kind: StateNoUpdate})
		}
		return nil
	}

	highest := releases[0]
	log.Info("update available",
		"current", current.String(),
		"available", highest.String(),
	)

	if pending != nil && pending.AppRelease.Equal(highest) {
		// Already downloaded; no redundant download.
		c.finishCheck(releases, &current)
		c.setNewRelease(&highest)
		c.setState(State{Kind: StateDownloaded, Pending: pending})
		return nil
	}

	// Anything staged is for an older release now.
	c.staging.Cleanup()
	c.finishCheck(releases, &current)
	c.setNewRelease(&highest)
	c.setState(State{Kind: StateUpdateAvailable, Release: &highest})

	if c.AllowAutoDownload {
		return c.download(ctx, c.AllowAutoInstall)
	}
	return nil
}

func (c *Checker) finishCheck(history []release.Release, current *release.Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastCheck = time.Now()
	if history != nil {
		c.history = history
	}
	if current != nil {
		c.currentRelease = current
	}
}

func (c *Checker) setNewRelease(r *release.Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.newRelease = r
}

// failCheck resolves a check that never produced a usable feed. A
// completed download survives it: the feed being unreachable says
// nothing about the archive already staged on disk, so a pending
// install is resurfaced rather than discarded. The staging tree is
// only purged when no pending install exists.
func (c *Checker) failCheck(current release.Release, held *release.Downloaded, message string) {
	c.finishCheck(nil, nil)
	c.setNewRelease(nil)

	pending := held
	if pending == nil {
		if p, err := c.staging.CheckForPending(current); err == nil {
			pending = p
		}
	}
	if pending != nil {
		log.Warn("check failed, resurfacing pending install",
			"message", message,
			"pending", pending.AppRelease.String(),
		)
		c.setState(State{Kind: StateDownloaded, Pending: pending})
		return
	}
	c.fail(message)
}
