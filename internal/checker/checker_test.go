package checker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beamapp/autoupdate/internal/feedstore"
	"github.com/beamapp/autoupdate/internal/hostinfo"
	"github.com/beamapp/autoupdate/internal/ipc"
	"github.com/beamapp/autoupdate/internal/release"
	"github.com/beamapp/autoupdate/internal/staging"
)

type fakeHelper struct {
	mu    sync.Mutex
	resp  *ipc.InstallResponse
	err   error
	calls int
	last  *ipc.InstallRequest
}

func (f *fakeHelper) Install(_ context.Context, req *ipc.InstallRequest) (*ipc.InstallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeHelper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func feedJSON(t *testing.T, releases ...release.Release) []byte {
	t.Helper()
	data, err := release.EncodeFeed(releases)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func rel(version, build, downloadURL string) release.Release {
	return release.Release{
		VersionName:          "App",
		Version:              version,
		BuildNumber:          release.BuildNumber(build),
		ReleaseNotesMarkdown: "notes for " + version,
		PublicationDate:      time.Date(2022, 1, 27, 16, 41, 56, 0, time.UTC),
		DownloadURL:          downloadURL,
	}
}

func newTestChecker(t *testing.T, feed feedstore.Store, hostVersion string) (*Checker, *fakeHelper) {
	t.Helper()
	host := &hostinfo.Fake{
		FakeName:    "App",
		FakeVersion: hostVersion,
		FakeBuild:   "1",
		FakePath:    "/Applications/App.app",
	}
	helper := &fakeHelper{resp: &ipc.InstallResponse{Success: true}}
	store := staging.New(filepath.Join(t.TempDir(), "Updates"))
	c := New(feed, host, store, helper)
	c.Quit = func() {}
	return c, helper
}

func seedPending(t *testing.T, c *Checker, r release.Release) release.Downloaded {
	t.Helper()
	temp := filepath.Join(t.TempDir(), "seed.tmp")
	if err := os.WriteFile(temp, []byte("archive"), 0o644); err != nil {
		t.Fatal(err)
	}
	pending, err := c.staging.SaveDownloaded(temp, r)
	if err != nil {
		t.Fatal(err)
	}
	return pending
}

func TestCheckNoUpdates(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t,
		rel("0.1", "1", "https://example.com/a.zip"),
		rel("0.2", "1", "https://example.com/b.zip"),
	)}
	c, _ := newTestChecker(t, feed, "0.2")

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.State().Kind; got != StateNoUpdate {
		t.Fatalf("state = %s, want noUpdate", got)
	}
	if c.NewRelease() != nil {
		t.Fatal("newRelease should be nil when up to date")
	}
	if c.LastCheck().IsZero() {
		t.Fatal("lastCheck not recorded")
	}
}

func TestCheckFindsUpdate(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t,
		rel("0.2", "1", "https://example.com/b.zip"),
		rel("0.3", "1", "https://example.com/c.zip"),
		rel("0.4", "1", "https://example.com/d.zip"),
	)}
	c, _ := newTestChecker(t, feed, "0.2")

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := c.State()
	if st.Kind != StateUpdateAvailable {
		t.Fatalf("state = %s, want updateAvailable", st.Kind)
	}
	if st.Release == nil || st.Release.Version != "0.4" {
		t.Fatalf("available release = %v, want 0.4", st.Release)
	}
	if missed := c.MissedReleases(); len(missed) != 2 {
		t.Fatalf("missed releases = %d, want 2", len(missed))
	}

	// The current release picks up metadata from its feed entry.
	current := c.CurrentRelease()
	if current == nil || current.ReleaseNotesMarkdown != "notes for 0.2" {
		t.Fatalf("current release not enriched from feed: %v", current)
	}
}

func TestCheckRejectedDuringPipeline(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t, rel("0.3", "1", "https://example.com/c.zip"))}
	c, _ := newTestChecker(t, feed, "0.2")

	for _, kind := range []StateKind{StateChecking, StateDownloading, StateInstalling, StateUpdateInstalled} {
		c.setState(State{Kind: kind})
		if err := c.CheckForUpdates(context.Background()); err == nil {
			t.Errorf("check must be rejected while %s", kind)
		}
	}
}

func TestCheckFailureEntersErrorState(t *testing.T) {
	c, _ := newTestChecker(t, feedstore.Static{Err: errors.New("feed unreachable")}, "0.2")

	if err := c.CheckForUpdates(context.Background()); err == nil {
		t.Fatal("expected check error")
	}
	st := c.State()
	if st.Kind != StateError {
		t.Fatalf("state = %s, want error", st.Kind)
	}
	if !strings.Contains(st.Message, "feed unreachable") {
		t.Fatalf("error message lost the cause: %q", st.Message)
	}

	// An error state permits another check.
	if !st.CanPerformCheck() {
		t.Fatal("error state must allow a new check")
	}
}

func TestCheckFailureKeepsPendingInstall(t *testing.T) {
	c, _ := newTestChecker(t, feedstore.Static{Err: errors.New("feed unreachable")}, "0.2")
	pending := seedPending(t, c, rel("0.3", "1", "https://example.com/c.zip"))

	if err := c.CheckForUpdates(context.Background()); err == nil {
		t.Fatal("expected check error")
	}

	st := c.State()
	if st.Kind != StateDownloaded || st.Pending == nil {
		t.Fatalf("state = %s, completed download was lost to a failed check", st.Kind)
	}
	if !st.Pending.AppRelease.Equal(pending.AppRelease) {
		t.Fatalf("pending = %v, want release 0.3", st.Pending)
	}
	// The staged archive is untouched.
	if _, err := os.Stat(pending.ArchiveURL); err != nil {
		t.Fatalf("staged archive was removed by the failed check: %v", err)
	}
	if c.NewRelease() != nil {
		t.Fatal("newRelease must be cleared by a failed check")
	}
}

func TestRedundantDownloadIsIdempotent(t *testing.T) {
	newest := rel("0.3", "1", "https://example.com/c.zip")
	feed := feedstore.Static{Data: feedJSON(t, rel("0.2", "1", "https://example.com/b.zip"), newest)}
	c, _ := newTestChecker(t, feed, "0.2")

	seedPending(t, c, newest)

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := c.State()
	if st.Kind != StateDownloaded {
		t.Fatalf("state = %s, want downloaded", st.Kind)
	}
	if st.Pending == nil || !st.Pending.AppRelease.Equal(newest) {
		t.Fatalf("pending = %v, want release 0.3", st.Pending)
	}
	// The archive seeded on disk must still be there: no re-download.
	if _, err := os.Stat(st.Pending.ArchiveURL); err != nil {
		t.Fatalf("staged archive was disturbed: %v", err)
	}
}

func TestNoUpdatesResurfacesPending(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t, rel("0.2", "1", "https://example.com/b.zip"))}
	c, _ := newTestChecker(t, feed, "0.2")

	// A newer build was downloaded earlier but never installed, and
	// has since vanished from the feed.
	seedPending(t, c, rel("0.3", "1", "https://example.com/c.zip"))

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := c.State()
	if st.Kind != StateDownloaded || st.Pending == nil {
		t.Fatalf("state = %s, completed work was lost", st.Kind)
	}
}

func TestStaleDownloadIgnored(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t, rel("0.2", "1", "https://example.com/b.zip"))}
	c, _ := newTestChecker(t, feed, "0.2")

	// A leftover download for the version we are already running.
	seedPending(t, c, rel("0.2", "1", "https://example.com/b.zip"))

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.State().Kind; got != StateNoUpdate {
		t.Fatalf("state = %s, want noUpdate", got)
	}
}

// archiveServer serves a fake archive and returns the checker wired to
// a feed advertising it.
func archiveServer(t *testing.T) (*Checker, *fakeHelper, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("archive-bytes"))
	}))
	t.Cleanup(server.Close)

	feed := feedstore.Static{Data: feedJSON(t,
		rel("0.2", "1", server.URL+"/App_0.2.zip"),
		rel("0.3", "1", server.URL+"/App_0.3.zip"),
	)}
	c, helper := newTestChecker(t, feed, "0.2")
	c.Client = server.Client()
	return c, helper, server
}

func TestDownloadTransitionsToDownloaded(t *testing.T) {
	c, _, _ := archiveServer(t)

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.DownloadNewestRelease(context.Background()); err != nil {
		t.Fatal(err)
	}

	st := c.State()
	if st.Kind != StateDownloaded || st.Pending == nil {
		t.Fatalf("state = %s, want downloaded", st.Kind)
	}
	data, err := os.ReadFile(st.Pending.ArchiveURL)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "archive-bytes" {
		t.Fatalf("staged archive content = %q", data)
	}
	// The sidecar makes the download durable.
	if _, err := os.Stat(filepath.Join(c.staging.Dir(), "App_0.3.1.json")); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}
}

func TestDownloadRequiresAvailableUpdate(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t, rel("0.2", "1", "https://example.com/b.zip"))}
	c, _ := newTestChecker(t, feed, "0.2")

	if err := c.DownloadNewestRelease(context.Background()); err == nil {
		t.Fatal("download without a preceding successful check must fail")
	}
}

func TestAutoDownloadRunsFromCheck(t *testing.T) {
	c, _, _ := archiveServer(t)
	c.AllowAutoDownload = true

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := c.State().Kind; got != StateDownloaded {
		t.Fatalf("state = %s, want downloaded after auto-download", got)
	}
}

func TestInstallSuccess(t *testing.T) {
	c, helper, _ := archiveServer(t)

	var hookOrder []string
	c.PreInstall = func() { hookOrder = append(hookOrder, "pre") }
	c.PostInstall = func() { hookOrder = append(hookOrder, "post") }

	quit := make(chan struct{})
	c.Quit = func() { close(quit) }
	c.QuitDelay = 10 * time.Millisecond

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.DownloadNewestRelease(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.PerformInstallation(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := c.State().Kind; got != StateUpdateInstalled {
		t.Fatalf("state = %s, want updateInstalled", got)
	}
	if helper.calls != 1 {
		t.Fatalf("helper called %d times, want 1", helper.calls)
	}
	if helper.last.BinaryToReplaceURL != "/Applications/App.app" {
		t.Fatalf("helper got target %q", helper.last.BinaryToReplaceURL)
	}
	if helper.last.AppPID != os.Getpid() {
		t.Fatalf("helper got pid %d, want %d", helper.last.AppPID, os.Getpid())
	}
	if len(hookOrder) != 2 || hookOrder[0] != "pre" || hookOrder[1] != "post" {
		t.Fatalf("hooks ran as %v", hookOrder)
	}

	// Staging is released after the install.
	if _, err := os.Stat(c.staging.Dir()); !os.IsNotExist(err) {
		t.Fatal("staging area not cleaned after install")
	}

	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("relaunch teardown never ran")
	}
}

func TestInstallFailureMapsErrorCode(t *testing.T) {
	c, helper, _ := archiveServer(t)
	helper.resp = &ipc.InstallResponse{
		Success:       false,
		ErrorCode:     ipc.CodeSignatureFailed,
		RecoveredPath: "",
	}

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.DownloadNewestRelease(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.PerformInstallation(context.Background()); err == nil {
		t.Fatal("expected install error")
	}

	st := c.State()
	if st.Kind != StateError {
		t.Fatalf("state = %s, want error", st.Kind)
	}
	if !strings.Contains(st.Message, "not signed") {
		t.Fatalf("message = %q, want signature explanation", st.Message)
	}
	// Cleanup runs on the failure path too.
	if _, err := os.Stat(c.staging.Dir()); !os.IsNotExist(err) {
		t.Fatal("staging area not cleaned after failed install")
	}
}

func TestInstallErrorSurfacesRecoveredPath(t *testing.T) {
	msg := installErrorMessage(ipc.CodeExistingAppAtDestination, "/Users/me/Downloads/App.app")
	if !strings.Contains(msg, "/Users/me/Downloads/App.app") {
		t.Fatalf("recovered path not surfaced: %q", msg)
	}
}

func TestSubscribeObservesTransitions(t *testing.T) {
	feed := feedstore.Static{Data: feedJSON(t, rel("0.3", "1", "https://example.com/c.zip"))}
	c, _ := newTestChecker(t, feed, "0.2")

	var mu sync.Mutex
	var seen []StateKind
	cancel := c.Subscribe(func(s State) {
		mu.Lock()
		seen = append(seen, s.Kind)
		mu.Unlock()
	})
	defer cancel()

	if err := c.CheckForUpdates(context.Background()); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != StateChecking || seen[len(seen)-1] != StateUpdateAvailable {
		t.Fatalf("observed transitions %v", seen)
	}
}

func TestPerformUpdateIfAvailable(t *testing.T) {
	c, helper, _ := archiveServer(t)

	if err := c.PerformUpdateIfAvailable(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if got := c.State().Kind; got != StateUpdateInstalled {
		t.Fatalf("state = %s, want updateInstalled", got)
	}
	if helper.calls != 1 {
		t.Fatalf("helper called %d times, want 1", helper.calls)
	}
}

func TestPerformUpdateIfAvailableRelaunchesPendingInstall(t *testing.T) {
	newest := rel("0.3", "1", "https://example.com/c.zip")
	feed := feedstore.Static{Data: feedJSON(t, rel("0.2", "1", "https://example.com/b.zip"), newest)}
	c, helper := newTestChecker(t, feed, "0.2")
	seedPending(t, c, newest)

	quit := make(chan struct{})
	c.Quit = func() { close(quit) }
	c.QuitDelay = 10 * time.Millisecond

	if err := c.PerformUpdateIfAvailable(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if got := c.State().Kind; got != StateUpdateInstalled {
		t.Fatalf("state = %s, want updateInstalled", got)
	}
	if helper.calls != 1 {
		t.Fatalf("helper called %d times, want 1", helper.calls)
	}

	// Installing an already-downloaded update brings the new version up.
	select {
	case <-quit:
	case <-time.After(2 * time.Second):
		t.Fatal("relaunch teardown never ran")
	}
}

func TestAutocheckInstallsWhenAllowed(t *testing.T) {
	c, helper, _ := archiveServer(t)
	c.AllowAutoDownload = true
	c.AllowAutoInstall = true

	c.StartAutocheck(context.Background(), 20*time.Millisecond)
	defer c.StopAutocheck()

	// A tick drives the whole pass: check, download and install.
	deadline := time.Now().Add(2 * time.Second)
	for c.State().Kind != StateUpdateInstalled {
		if time.Now().After(deadline) {
			t.Fatalf("autocheck never installed, state = %s", c.State().Kind)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if got := helper.count(); got != 1 {
		t.Fatalf("helper called %d times, want 1", got)
	}
}

func TestAutocheckRunsPeriodically(t *testing.T) {
	var mu sync.Mutex
	fetches := 0
	feed := fetchCounter{
		data: feedJSON(t, rel("0.1", "1", "https://example.com/a.zip")),
		hit: func() {
			mu.Lock()
			fetches++
			mu.Unlock()
		},
	}
	c, _ := newTestChecker(t, feed, "0.2")

	c.StartAutocheck(context.Background(), 20*time.Millisecond)
	defer c.StopAutocheck()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := fetches
		mu.Unlock()
		if n >= 2 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("autocheck performed %d checks, want at least 2", n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type fetchCounter struct {
	data []byte
	hit  func()
}

func (f fetchCounter) Fetch(context.Context) ([]byte, error) {
	f.hit()
	return f.data, nil
}
