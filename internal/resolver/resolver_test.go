package resolver

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/esmkit/esmkit/internal/registry"
)

type fixtureSource struct {
	manifests map[string]*registry.Manifest
}

func (f *fixtureSource) FetchManifest(name string) (*registry.Manifest, error) {
	m, ok := f.manifests[name]
	if !ok {
		return nil, fmt.Errorf("no such package %q", name)
	}
	return m, nil
}

func versionInfo(version string, deps map[string]string) registry.VersionInfo {
	vi := registry.VersionInfo{Version: version, Dependencies: deps}
	vi.Dist.Tarball = fmt.Sprintf("https://example.test/%s.tgz", version)
	return vi
}

func TestResolveInstallExactness(t *testing.T) {
	src := &fixtureSource{manifests: map[string]*registry.Manifest{
		"pkg-a": {
			Name:     "pkg-a",
			DistTags: registry.DistTags{"latest": "1.0.0"},
			Versions: map[string]registry.VersionInfo{
				"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^1.0.0"}),
			},
		},
		"pkg-b": {
			Name:     "pkg-b",
			DistTags: registry.DistTags{"latest": "1.2.0"},
			Versions: map[string]registry.VersionInfo{
				"1.0.0": versionInfo("1.0.0", nil),
				"1.2.0": versionInfo("1.2.0", nil),
			},
		},
	}}

	r := New(src, Options{})
	flat, err := r.Resolve(map[string]string{"pkg-a": "^1.0.0"})
	require.NoError(t, err)
	require.Len(t, flat, 2)
	require.Equal(t, "1.2.0", flat["pkg-b"].Version)
}

func TestResolveDeterministic(t *testing.T) {
	src := &fixtureSource{manifests: map[string]*registry.Manifest{
		"pkg-a": {
			Name:     "pkg-a",
			DistTags: registry.DistTags{"latest": "1.0.0"},
			Versions: map[string]registry.VersionInfo{
				"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^1.0.0", "pkg-c": "^1.0.0"}),
			},
		},
		"pkg-b": {
			Name:     "pkg-b",
			Versions: map[string]registry.VersionInfo{"1.0.0": versionInfo("1.0.0", nil)},
		},
		"pkg-c": {
			Name:     "pkg-c",
			Versions: map[string]registry.VersionInfo{"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^2.0.0"})},
		},
	}}

	r := New(src, Options{})
	first, err := r.Resolve(map[string]string{"pkg-a": "^1.0.0"})
	require.NoError(t, err)
	second, err := r.Resolve(map[string]string{"pkg-a": "^1.0.0"})
	require.NoError(t, err)
	require.Equal(t, first["pkg-b"].Version, second["pkg-b"].Version)
	// pkg-c requires pkg-b@^2.0.0, which isn't published; the flat policy
	// means pkg-b's first-resolved 1.0.0 wins and pkg-c's conflicting range
	// is never re-checked, so resolution still succeeds.
	require.Equal(t, "1.0.0", first["pkg-b"].Version)
}

// latencyFixtureSource is fixtureSource plus an injectable per-name fetch
// delay, for exercising resolution under asymmetric registry latency.
type latencyFixtureSource struct {
	manifests map[string]*registry.Manifest
	delay     func(name string) time.Duration
}

func (f *latencyFixtureSource) FetchManifest(name string) (*registry.Manifest, error) {
	if f.delay != nil {
		if d := f.delay(name); d > 0 {
			time.Sleep(d)
		}
	}
	m, ok := f.manifests[name]
	if !ok {
		return nil, fmt.Errorf("no such package %q", name)
	}
	return m, nil
}

// TestResolveSiblingRaceIsIndependentOfFetchLatency conflicts a direct
// dependency's range against a deeper sibling's range for the same
// package, and makes the direct dependency's own manifest fetch the slow
// one. A resolver that lets "first to finish" decide the winner would let
// the deeper, conflicting request win whenever it fetches faster; the
// shallower declared range must win regardless.
func TestResolveSiblingRaceIsIndependentOfFetchLatency(t *testing.T) {
	var mu sync.Mutex
	fetchCount := map[string]int{}

	src := &latencyFixtureSource{
		manifests: map[string]*registry.Manifest{
			"pkg-a": {
				Versions: map[string]registry.VersionInfo{
					"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^1.0.0", "pkg-c": "^1.0.0"}),
				},
			},
			"pkg-b": {
				Versions: map[string]registry.VersionInfo{
					"1.0.0": versionInfo("1.0.0", nil),
					"2.0.0": versionInfo("2.0.0", nil),
				},
			},
			"pkg-c": {
				Versions: map[string]registry.VersionInfo{
					"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^2.0.0"}),
				},
			},
		},
		delay: func(name string) time.Duration {
			mu.Lock()
			defer mu.Unlock()
			fetchCount[name]++
			if name == "pkg-b" && fetchCount[name] == 1 {
				return 30 * time.Millisecond
			}
			return 0
		},
	}

	r := New(src, Options{})
	flat, err := r.Resolve(map[string]string{"pkg-a": "^1.0.0"})
	require.NoError(t, err)
	require.Equal(t, "1.0.0", flat["pkg-b"].Version)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, fetchCount["pkg-b"])
}

func TestResolveCyclicDependency(t *testing.T) {
	src := &fixtureSource{manifests: map[string]*registry.Manifest{
		"pkg-a": {
			Versions: map[string]registry.VersionInfo{
				"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-b": "^1.0.0"}),
			},
		},
		"pkg-b": {
			Versions: map[string]registry.VersionInfo{
				"1.0.0": versionInfo("1.0.0", map[string]string{"pkg-a": "^1.0.0"}),
			},
		},
	}}
	r := New(src, Options{})
	flat, err := r.Resolve(map[string]string{"pkg-a": "^1.0.0"})
	require.NoError(t, err)
	require.Len(t, flat, 2)
}
