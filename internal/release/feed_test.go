package release

import (
	"context"
	"errors"
	"testing"
)

type staticFetcher struct {
	data []byte
	err  error
}

func (s staticFetcher) Fetch(context.Context) ([]byte, error) {
	return s.data, s.err
}

func sampleFeed(t *testing.T) []byte {
	t.Helper()
	feed := []Release{
		testRelease("0.1", "1"),
		testRelease("0.2", "1"),
		testRelease("0.3", "1"),
		testRelease("0.4", "1"),
	}
	data, err := EncodeFeed(feed)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDecodeFeedPreservesOrder(t *testing.T) {
	releases, err := DecodeFeed(sampleFeed(t))
	if err != nil {
		t.Fatal(err)
	}
	if len(releases) != 4 {
		t.Fatalf("got %d releases, want 4", len(releases))
	}
	if releases[0].Version != "0.1" || releases[3].Version != "0.4" {
		t.Fatalf("document order not preserved: %v", releases)
	}
}

func TestDecodeFeedRejectsMalformedEntry(t *testing.T) {
	_, err := DecodeFeed([]byte(`[{"versionName":"v","version":"1.x","buildNumber":"1","publicationDate":"2021-05-03T14:35:00Z","downloadURL":"https://example.com/a.zip"}]`))
	if err == nil {
		t.Fatal("malformed version segment should fail decode")
	}
}

func TestReleasesAfter(t *testing.T) {
	history, err := DecodeFeed(sampleFeed(t))
	if err != nil {
		t.Fatal(err)
	}

	after02 := ReleasesAfter(history, testRelease("0.2", "1"))
	if len(after02) != 2 {
		t.Fatalf("releasesAfter(0.2) = %d entries, want 2", len(after02))
	}

	after03 := ReleasesAfter(history, testRelease("0.3", "1"))
	if len(after03) != 1 {
		t.Fatalf("releasesAfter(0.3) = %d entries, want 1", len(after03))
	}

	after04 := ReleasesAfter(history, testRelease("0.4", "1"))
	if len(after04) != 0 {
		t.Fatalf("releasesAfter(0.4) = %d entries, want 0", len(after04))
	}
}

func TestUpdateFeedAppends(t *testing.T) {
	newest := testRelease("3.0", "5")

	data, err := UpdateFeed(context.Background(), staticFetcher{data: sampleFeed(t)}, newest)
	if err != nil {
		t.Fatal(err)
	}

	releases, err := DecodeFeed(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(releases) != 5 {
		t.Fatalf("got %d releases, want 5", len(releases))
	}
	if !releases[4].Equal(newest) {
		t.Fatalf("last entry should be the new release, got %v", releases[4])
	}
}

func TestUpdateFeedAllOrNothing(t *testing.T) {
	newest := testRelease("3.0", "5")

	// Fetch failure yields no output.
	data, err := UpdateFeed(context.Background(), staticFetcher{err: errors.New("boom")}, newest)
	if err == nil || data != nil {
		t.Fatal("fetch failure must yield no output")
	}

	// Undecodable feed yields no output.
	data, err = UpdateFeed(context.Background(), staticFetcher{data: []byte("{not json")}, newest)
	if err == nil || data != nil {
		t.Fatal("decode failure must yield no output")
	}
}
