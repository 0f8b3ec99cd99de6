// Package release defines the release entity and the JSON feed codec.
package release

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/beamapp/autoupdate/internal/version"
)

// Release identifies one shippable build of the application.
type Release struct {
	VersionName          string      `json:"versionName"`
	Version              string      `json:"version"`
	BuildNumber          BuildNumber `json:"buildNumber"`
	ReleaseNotesMarkdown string      `json:"releaseNotesMarkdown,omitempty"`
	ReleaseNoteURL       string      `json:"releaseNoteURL,omitempty"`
	PublicationDate      time.Time   `json:"publicationDate"`
	DownloadURL          string      `json:"downloadURL"`
}

// BuildNumber is a dotted numeric build identifier. Older feeds encoded it
// as a JSON integer; current feeds use a string. Decoding accepts both,
// encoding always emits the string form.
type BuildNumber string

func (b *BuildNumber) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty buildNumber")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = BuildNumber(s)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("buildNumber must be a string or integer: %w", err)
	}
	*b = BuildNumber(strconv.FormatInt(n, 10))
	return nil
}

func (b BuildNumber) String() string { return string(b) }

// currentDownloadURL is the placeholder download URL carried by the
// synthetic release that stands in for the running binary.
const currentDownloadURL = "http://"

// NewCurrent builds the release proxy for the currently running binary.
// It has no notes and a placeholder download URL.
func NewCurrent(name, ver, build string) Release {
	return Release{
		VersionName:     name,
		Version:         ver,
		BuildNumber:     BuildNumber(build),
		PublicationDate: time.Now(),
		DownloadURL:     currentDownloadURL,
	}
}

// Validate checks that version and build number are well-formed dotted
// numeric strings.
func (r Release) Validate() error {
	if _, err := version.Compare(r.Version, "0"); err != nil {
		return err
	}
	if _, err := version.Compare(string(r.BuildNumber), "0"); err != nil {
		return err
	}
	return nil
}

// Compare orders two releases: version dominates, build number breaks
// ties. Both fields use zero-padded numeric comparison. Malformed
// segments compare as equal; feeds are validated at decode time so this
// only matters for hand-built values.
func (r Release) Compare(o Release) int {
	if c, err := version.Compare(r.Version, o.Version); err == nil && c != 0 {
		return c
	}
	c, err := version.Compare(string(r.BuildNumber), string(o.BuildNumber))
	if err != nil {
		return 0
	}
	return c
}

// Equal reports release identity: version and build number both compare
// equal under the zero-padded numeric rule.
func (r Release) Equal(o Release) bool {
	return r.Compare(o) == 0
}

// Less reports whether r sorts strictly before o.
func (r Release) Less(o Release) bool {
	return r.Compare(o) < 0
}

func (r Release) String() string {
	return fmt.Sprintf("%s (%s build %s)", r.VersionName, r.Version, r.BuildNumber)
}
