package checker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/beamapp/autoupdate/internal/httputil"
	"github.com/beamapp/autoupdate/internal/release"
)

// DownloadNewestRelease streams the archive of the release found by
// the last check into the staging area and transitions to downloaded.
// It requires a preceding check that ended in updateAvailable.
func (c *Checker) DownloadNewestRelease(ctx context.Context) error {
	return c.download(ctx, c.AllowAutoInstall)
}

func (c *Checker) download(ctx context.Context, autoInstall bool) error {
	c.mu.Lock()
	rel := c.newRelease
	if rel == nil || c.state.Kind != StateUpdateAvailable {
		kind := c.state.Kind
		c.mu.Unlock()
		return fmt.Errorf("no release to download while %s", kind)
	}
	c.state = State{Kind: StateDownloading, Progress: 0}
	c.mu.Unlock()
	c.notify(State{Kind: StateDownloading, Progress: 0})

	tempPath, err := c.fetchArchive(ctx, *rel)
	if err != nil {
		c.fail(fmt.Sprintf("download failed: %v", err))
		return err
	}

	pending, err := c.staging.SaveDownloaded(tempPath, *rel)
	if err != nil {
		os.Remove(tempPath)
		c.fail(fmt.Sprintf("could not persist download: %v", err))
		return err
	}

	c.setState(State{Kind: StateDownloaded, Pending: &pending})

	if autoInstall {
		// Unattended path: install now, leave relaunch to the user.
		return c.processInstallation(ctx, pending, false)
	}
	return nil
}

// fetchArchive downloads the release archive to a temp file, reporting
// progress through the downloading state.
func (c *Checker) fetchArchive(ctx context.Context, rel release.Release) (string, error) {
	resp, err := httputil.Get(ctx, c.Client, rel.DownloadURL, c.Retry)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("archive request returned status %d", resp.StatusCode)
	}

	temp, err := os.CreateTemp("", "autoupdate-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer temp.Close()

	counter := &progressWriter{
		total:  resp.ContentLength,
		report: func(p float64) { c.setState(State{Kind: StateDownloading, Progress: p}) },
	}
	if _, err := io.Copy(io.MultiWriter(temp, counter), resp.Body); err != nil {
		os.Remove(temp.Name())
		return "", fmt.Errorf("stream archive: %w", err)
	}
	return temp.Name(), nil
}

// progressWriter reports download progress in whole-percent steps, or
// -1 throughout when the size is unknown.
type progressWriter struct {
	total    int64
	written  int64
	lastPct  int
	reported bool
	report   func(float64)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total <= 0 {
		if !w.reported {
			w.reported = true
			w.report(-1)
		}
		return len(p), nil
	}
	pct := int(float64(w.written) / float64(w.total) * 100)
	if pct > w.lastPct {
		w.lastPct = pct
		w.report(float64(w.written) / float64(w.total))
	}
	return len(p), nil
}
