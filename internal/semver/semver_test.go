package semver

import "testing"

func TestFindBestVersionCaret(t *testing.T) {
	versions := []string{"1.0.0", "1.1.0", "1.2.0", "2.0.0"}
	rng, err := ParseRange("^1.0.0")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	best, ok := FindBestVersion(versions, rng)
	if !ok || best != "1.2.0" {
		t.Fatalf("got %q ok=%v, want 1.2.0", best, ok)
	}
}

func TestZeroMajorCaretNarrowing(t *testing.T) {
	rng, err := ParseRange("^0.2.3")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	mustSatisfy(t, rng, "0.2.9", true)
	mustSatisfy(t, rng, "0.3.0", false)
}

func TestZeroMajorTildeNarrowing(t *testing.T) {
	rng, err := ParseRange("~0.2.3")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	mustSatisfy(t, rng, "0.2.9", true)
	mustSatisfy(t, rng, "0.3.0", false)
}

func TestPrereleaseExcludedByDefault(t *testing.T) {
	rng, err := ParseRange("^1.0.0")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	mustSatisfy(t, rng, "1.0.0-beta.1", false)
}

func TestPrereleaseAllowedWhenRangeContainsDash(t *testing.T) {
	rng, err := ParseRange("1.0.0-beta.1")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	mustSatisfy(t, rng, "1.0.0-beta.1", true)
}

func TestAnyRangeForms(t *testing.T) {
	for _, raw := range []string{"", "*", "latest"} {
		rng, err := ParseRange(raw)
		if err != nil {
			t.Fatalf("parse range %q: %v", raw, err)
		}
		mustSatisfy(t, rng, "3.4.5", true)
	}
}

func TestHyphenRange(t *testing.T) {
	rng, err := ParseRange("1.2.3 - 2.3.4")
	if err != nil {
		t.Fatalf("parse range: %v", err)
	}
	mustSatisfy(t, rng, "1.2.3", true)
	mustSatisfy(t, rng, "2.3.4", true)
	mustSatisfy(t, rng, "2.3.5", false)
}

func mustSatisfy(t *testing.T, rng Range, version string, want bool) {
	t.Helper()
	v, err := ParseVersion(version)
	if err != nil {
		t.Fatalf("parse version: %v", err)
	}
	if got := rng.Satisfies(v); got != want {
		t.Errorf("range %q satisfies %q = %v, want %v", rng, version, got, want)
	}
}
