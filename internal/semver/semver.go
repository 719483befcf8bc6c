// Package semver wraps github.com/Masterminds/semver/v3 with the npm range
// semantics the resolver needs: x-ranges, the empty/"*"/"latest" any-release
// form, and the spec's pre-release exclusion rule (a pre-release version
// satisfies a range only when the range literal itself contains "-").
//
// This mirrors the teacher's own reach for Masterminds/semver in utils.go's
// semverLessThan, generalized from a single comparison helper into the full
// range evaluator the resolver (§4.2) requires.
package semver

import (
	"fmt"
	"sort"
	"strings"

	mastsemver "github.com/Masterminds/semver/v3"
)

// Version is a parsed MAJOR.MINOR.PATCH[-PRERELEASE] version.
type Version struct {
	v *mastsemver.Version
}

// ParseVersion parses a version string.
func ParseVersion(s string) (Version, error) {
	v, err := mastsemver.NewVersion(strings.TrimSpace(s))
	if err != nil {
		return Version{}, fmt.Errorf("parse version %q: %w", s, err)
	}
	return Version{v: v}, nil
}

// String returns the version string as originally given to ParseVersion
// (not a canonicalised form; "1.2" stays "1.2").
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

// IsPrerelease reports whether v carries a prerelease component.
func (v Version) IsPrerelease() bool {
	return v.v != nil && v.v.Prerelease() != ""
}

// Less reports whether v sorts before other, by full 3-tuple-plus-prerelease
// comparison (pre-release ranks below the matching release; pre-release
// segments compare lexicographically, per Compare's dot-separated rules).
func (v Version) Less(other Version) bool {
	return v.v.Compare(other.v) < 0
}

// Range is a parsed dependency range expression.
type Range struct {
	raw        string
	constraint mastsemver.Constraints
	any        bool // "*", "", "latest": matches any release
}

// ParseRange parses a semver range string using npm operator semantics:
// exact versions, "*"/""/"latest" (any release), "||" unions, "A - B"
// hyphen ranges, "^"/"~" narrowing, comparison operators, whitespace-joined
// AND chains, and x-ranges ("1", "1.2", "1.x").
func ParseRange(raw string) (Range, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "*" || trimmed == "latest" {
		return Range{raw: trimmed, any: true}, nil
	}
	c, err := mastsemver.NewConstraint(normalizeRange(trimmed))
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", raw, err)
	}
	return Range{raw: trimmed, constraint: c}, nil
}

// normalizeRange rewrites npm-only spellings Masterminds doesn't parse
// as-is, without changing the matching semantics.
func normalizeRange(raw string) string {
	// npm allows "latest" inside a dependency map entry as a synonym for
	// "*"; bare "latest" is caught by ParseRange before this point, but a
	// defensive rewrite here keeps this function usable standalone.
	if raw == "latest" {
		return "*"
	}
	return raw
}

// allowsPrerelease reports whether the range literal contains "-", which
// per the spec is the sole signal that permits matching pre-release
// versions.
func (r Range) allowsPrerelease() bool {
	return strings.Contains(r.raw, "-")
}

// Satisfies reports whether version v satisfies the range.
func (r Range) Satisfies(v Version) bool {
	if v.IsPrerelease() && !r.allowsPrerelease() {
		return false
	}
	if r.any {
		return true
	}
	return r.constraint.Check(v.v)
}

// String returns the original range text.
func (r Range) String() string { return r.raw }

// FindBestVersion returns the numerically largest version in versions that
// satisfies rng, or ok=false if none match. Ties are impossible given full
// version-tuple comparison.
func FindBestVersion(versions []string, rng Range) (best string, ok bool) {
	var candidates []Version
	for _, s := range versions {
		v, err := ParseVersion(s)
		if err != nil {
			continue // skip unparsable entries rather than fail the whole resolution
		}
		if rng.Satisfies(v) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[j].Less(candidates[i]) })
	return candidates[0].String(), true
}
