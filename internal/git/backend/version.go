package backend

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// MinGitVersion is the oldest git accepted. "git switch" and "git restore"
// first shipped in 2.23.
const MinGitVersion = "2.23.0"

var minGitConstraint = semver.MustParse(MinGitVersion)

// VersionInfo is the result of probing "<git> --version".
type VersionInfo struct {
	Raw       string `json:"raw"`
	Version   string `json:"version"`
	Supported bool   `json:"supported"`
}

func parseGitVersionOutput(out string) (*semver.Version, bool) {
	s := strings.TrimSpace(out)
	if s == "" {
		return nil, false
	}
	// Common formats:
	// - "git version 2.44.0"
	// - "git version 2.39.3 (Apple Git-146)"
	// - "git version 2.39.3.windows.1"
	if idx := strings.Index(s, "git version"); idx >= 0 {
		s = strings.TrimSpace(s[idx+len("git version"):])
	}
	start := strings.IndexAny(s, "0123456789")
	if start < 0 {
		return nil, false
	}
	s = s[start:]
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}
	parts := strings.Split(strings.Trim(s[:end], "."), ".")
	if len(parts) < 2 {
		return nil, false
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v, err := semver.NewVersion(strings.Join(parts, "."))
	if err != nil {
		return nil, false
	}
	return v, true
}

func validateGitVersionOutput(out string) (VersionInfo, error) {
	info := VersionInfo{Raw: strings.TrimSpace(out)}
	v, ok := parseGitVersionOutput(out)
	if !ok {
		return info, fmt.Errorf("unable to parse git version output: %q", info.Raw)
	}
	info.Version = v.String()
	info.Supported = !v.LessThan(minGitConstraint)
	return info, nil
}

// Version runs "<git> --version" with the effective executable and reports
// whether it satisfies MinGitVersion.
func (r *Resolver) Version(ctx context.Context) (VersionInfo, error) {
	exe, err := r.Resolve()
	if err != nil {
		return VersionInfo{}, err
	}
	args := append(append([]string{}, exe.PrefixArgs...), "--version")
	cmd := exec.CommandContext(ctx, exe.Program, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return VersionInfo{Raw: strings.TrimSpace(out.String())}, fmt.Errorf("git --version: %v: %s", err, strings.TrimSpace(out.String()))
		}
		return VersionInfo{}, fmt.Errorf("%w: %w", ErrSpawn, err)
	}
	return validateGitVersionOutput(out.String())
}
