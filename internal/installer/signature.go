package installer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// SignatureInspector extracts the signing-identity fingerprint of an
// application bundle. Implementations shell out to the platform
// code-signing tool; tests substitute fakes.
type SignatureInspector interface {
	TeamIdentifier(ctx context.Context, bundlePath string) (string, error)
}

// CodesignInspector inspects bundles with the codesign tool.
type CodesignInspector struct{}

// TeamIdentifier runs `codesign -dv --verbose=4` and parses the
// TeamIdentifier line. An unsigned bundle or a missing identifier
// yields an error.
func (CodesignInspector) TeamIdentifier(ctx context.Context, bundlePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "codesign", "-dv", "--verbose=4", bundlePath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr // codesign writes its report to stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("codesign %s: %w: %s", bundlePath, err, strings.TrimSpace(stderr.String()))
	}
	return parseTeamIdentifier(stderr.String(), bundlePath)
}

func parseTeamIdentifier(report, bundlePath string) (string, error) {
	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimSpace(line)
		value, found := strings.CutPrefix(line, "TeamIdentifier=")
		if !found {
			continue
		}
		if value == "" || value == "not set" {
			return "", fmt.Errorf("no team identifier on %s", bundlePath)
		}
		return value, nil
	}
	return "", fmt.Errorf("no TeamIdentifier line in codesign report for %s", bundlePath)
}
