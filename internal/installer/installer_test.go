package installer

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/beamapp/autoupdate/internal/ipc"
)

type fakeInspector struct {
	teams map[string]string // keyed by bundle base name
}

func (f fakeInspector) TeamIdentifier(_ context.Context, bundlePath string) (string, error) {
	team, ok := f.teams[filepath.Base(bundlePath)]
	if !ok {
		return "", os.ErrNotExist
	}
	return team, nil
}

type fakeRelauncher struct {
	pid    int
	bundle string
	called bool
}

func (f *fakeRelauncher) Schedule(appPID int, bundlePath string) error {
	f.called = true
	f.pid = appPID
	f.bundle = bundlePath
	return nil
}

// writeArchive builds a zip at path containing the given entries.
// Entries ending in "/" become directories.
func writeArchive(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			if _, err := w.Create(name); err != nil {
				t.Fatal(err)
			}
			continue
		}
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

// testSetup creates a staging dir holding an archive with one bundle
// and an install destination holding the currently-installed bundle.
func testSetup(t *testing.T, bundleName string) (archivePath, installedPath string) {
	t.Helper()

	staging := filepath.Join(t.TempDir(), "Updates")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		t.Fatal(err)
	}
	archivePath = filepath.Join(staging, "App_0.2.5.zip")
	writeArchive(t, archivePath, map[string]string{
		bundleName + "/":                      "",
		bundleName + "/Contents/Info.plist":   "new-plist",
		bundleName + "/Contents/MacOS/binary": "new-binary",
	})

	appsDir := t.TempDir()
	installedPath = filepath.Join(appsDir, "App.app")
	if err := os.MkdirAll(filepath.Join(installedPath, "Contents"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(installedPath, "Contents", "Info.plist"), []byte("old-plist"), 0o644); err != nil {
		t.Fatal(err)
	}
	return archivePath, installedPath
}

func newTestInstaller(teams map[string]string) (*Installer, *fakeRelauncher) {
	relauncher := &fakeRelauncher{}
	ins := &Installer{
		Signatures:      fakeInspector{teams: teams},
		Relauncher:      relauncher,
		stripQuarantine: func(string) error { return nil },
	}
	return ins, relauncher
}

func TestInstallReplacesBundle(t *testing.T) {
	archive, installed := testSetup(t, "App.app")
	ins, relauncher := newTestInstaller(map[string]string{"App.app": "TEAM1"})

	resp := ins.Install(context.Background(), &ipc.InstallRequest{
		ArchiveURL:         archive,
		BinaryToReplaceURL: installed,
		AppPID:             999,
	})
	if !resp.Success {
		t.Fatalf("install failed: %s", resp.ErrorCode)
	}

	plist, err := os.ReadFile(filepath.Join(installed, "Contents", "Info.plist"))
	if err != nil {
		t.Fatal(err)
	}
	if string(plist) != "new-plist" {
		t.Fatalf("installed bundle not replaced, plist = %q", plist)
	}

	if !relauncher.called {
		t.Fatal("relaunch watcher not scheduled")
	}
	if relauncher.pid != 999 || relauncher.bundle != installed {
		t.Fatalf("watcher scheduled with pid=%d bundle=%s", relauncher.pid, relauncher.bundle)
	}
}

func TestSignatureMismatchBlocksSwap(t *testing.T) {
	archive, installed := testSetup(t, "App.app")

	// The installed app and the update report different teams. The
	// inspector keys by base name, so give the update its own name.
	archive2 := filepath.Join(filepath.Dir(archive), "Other_0.2.5.zip")
	writeArchive(t, archive2, map[string]string{
		"Other.app/":                    "",
		"Other.app/Contents/Info.plist": "new-plist",
	})

	ins, relauncher := newTestInstaller(map[string]string{
		"App.app":   "TEAM1",
		"Other.app": "EVILTEAM",
	})

	resp := ins.Install(context.Background(), &ipc.InstallRequest{
		ArchiveURL:         archive2,
		BinaryToReplaceURL: installed,
		AppPID:             999,
	})
	if resp.Success {
		t.Fatal("install must fail on team mismatch")
	}
	if resp.ErrorCode != ipc.CodeSignatureFailed {
		t.Fatalf("errorCode = %q, want %q", resp.ErrorCode, ipc.CodeSignatureFailed)
	}

	// The swap must never have started.
	plist, err := os.ReadFile(filepath.Join(installed, "Contents", "Info.plist"))
	if err != nil {
		t.Fatal(err)
	}
	if string(plist) != "old-plist" {
		t.Fatal("installed bundle was touched despite signature failure")
	}
	if relauncher.called {
		t.Fatal("relaunch must not be scheduled on failure")
	}
}

func TestArchiveWithoutBundle(t *testing.T) {
	staging := t.TempDir()
	archive := filepath.Join(staging, "App_0.2.5.zip")
	writeArchive(t, archive, map[string]string{"readme.txt": "not an app"})

	ins, _ := newTestInstaller(map[string]string{})
	resp := ins.Install(context.Background(), &ipc.InstallRequest{
		ArchiveURL:         archive,
		BinaryToReplaceURL: "/nonexistent/App.app",
	})
	if resp.Success || resp.ErrorCode != ipc.CodeUnzippedContentNotFound {
		t.Fatalf("errorCode = %q, want %q", resp.ErrorCode, ipc.CodeUnzippedContentNotFound)
	}
}

func TestArchiveWithMultipleBundles(t *testing.T) {
	staging := t.TempDir()
	archive := filepath.Join(staging, "App_0.2.5.zip")
	writeArchive(t, archive, map[string]string{
		"One.app/Contents/Info.plist": "a",
		"Two.app/Contents/Info.plist": "b",
	})

	ins, _ := newTestInstaller(map[string]string{})
	resp := ins.Install(context.Background(), &ipc.InstallRequest{
		ArchiveURL:         archive,
		BinaryToReplaceURL: "/nonexistent/App.app",
	})
	if resp.Success || resp.ErrorCode != ipc.CodeArchiveContentNotCoherent {
		t.Fatalf("errorCode = %q, want %q", resp.ErrorCode, ipc.CodeArchiveContentNotCoherent)
	}
}

func TestRenameCollisionFallsBackToDownloads(t *testing.T) {
	archive, installed := testSetup(t, "Renamed.app")

	// Something already sits where the renamed bundle would land.
	occupied := filepath.Join(filepath.Dir(installed), "Renamed.app")
	if err := os.MkdirAll(occupied, 0o755); err != nil {
		t.Fatal(err)
	}

	downloads := t.TempDir()
	ins, _ := newTestInstaller(map[string]string{
		"App.app":     "TEAM1",
		"Renamed.app": "TEAM1",
	})
	ins.DownloadsDir = downloads

	resp := ins.Install(context.Background(), &ipc.InstallRequest{
		ArchiveURL:         archive,
		BinaryToReplaceURL: installed,
		AppPID:             999,
	})
	if resp.Success {
		t.Fatal("collision must fail the install")
	}
	if resp.ErrorCode != ipc.CodeExistingAppAtDestination {
		t.Fatalf("errorCode = %q, want %q", resp.ErrorCode, ipc.CodeExistingAppAtDestination)
	}

	want := filepath.Join(downloads, "Renamed.app")
	if resp.RecoveredPath != want {
		t.Fatalf("recoveredPath = %q, want %q", resp.RecoveredPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("bundle not relocated to downloads: %v", err)
	}
	// Nothing extracted may remain in the staging area.
	if _, err := os.Stat(filepath.Join(filepath.Dir(archive), "Renamed.app")); !os.IsNotExist(err) {
		t.Fatal("extracted bundle left behind in staging")
	}
}

func TestParseTeamIdentifier(t *testing.T) {
	report := "Identifier=com.beamapp.beam\nFormat=app bundle with Mach-O universal\nTeamIdentifier=F87QB37CKJ\n"
	team, err := parseTeamIdentifier(report, "/Applications/App.app")
	if err != nil {
		t.Fatal(err)
	}
	if team != "F87QB37CKJ" {
		t.Fatalf("team = %q", team)
	}

	if _, err := parseTeamIdentifier("TeamIdentifier=not set\n", "x"); err == nil {
		t.Fatal("unsigned bundle must be rejected")
	}
	if _, err := parseTeamIdentifier("Identifier=foo\n", "x"); err == nil {
		t.Fatal("missing TeamIdentifier line must be rejected")
	}
}
