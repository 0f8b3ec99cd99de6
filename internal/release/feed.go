package release

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// Fetcher retrieves the raw feed document. Implementations live in the
// feedstore package; tests inject static data.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// DecodeFeed parses a feed payload into its releases, in document order.
// Every entry must carry well-formed version and build-number strings.
func DecodeFeed(data []byte) ([]Release, error) {
	var releases []Release
	if err := json.Unmarshal(data, &releases); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	for i, r := range releases {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("feed entry %d: %w", i, err)
		}
	}
	return releases, nil
}

// EncodeFeed serializes releases back into the feed document format.
func EncodeFeed(releases []Release) ([]byte, error) {
	data, err := json.Marshal(releases)
	if err != nil {
		return nil, fmt.Errorf("encode feed: %w", err)
	}
	return data, nil
}

// SortDescending orders releases newest first, in place.
func SortDescending(releases []Release) {
	sort.SliceStable(releases, func(i, j int) bool {
		return releases[j].Less(releases[i])
	})
}

// ReleasesAfter returns every history entry strictly newer than ref,
// regardless of contiguity.
func ReleasesAfter(history []Release, ref Release) []Release {
	var newer []Release
	for _, r := range history {
		if ref.Less(r) {
			newer = append(newer, r)
		}
	}
	return newer
}

// UpdateFeed fetches the current feed, appends newRelease and returns the
// re-encoded document. The operation is all-or-nothing: any fetch, decode
// or encode failure yields no output, never a partial feed.
func UpdateFeed(ctx context.Context, fetcher Fetcher, newRelease Release) ([]byte, error) {
	if err := newRelease.Validate(); err != nil {
		return nil, fmt.Errorf("new release: %w", err)
	}

	data, err := fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}

	releases, err := DecodeFeed(data)
	if err != nil {
		return nil, err
	}

	releases = append(releases, newRelease)
	return EncodeFeed(releases)
}
