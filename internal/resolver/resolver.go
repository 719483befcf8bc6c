// Package resolver computes the flat node_modules dependency closure for a
// package manager install, per spec §4.2.
package resolver

import (
	"fmt"
	"sort"
	"sync"

	"github.com/esmkit/esmkit/internal/registry"
	"github.com/esmkit/esmkit/internal/semver"
)

// ResolvedPackage is one entry of the resolver's flat output map.
type ResolvedPackage struct {
	Name         string
	Version      string
	TarballURL   string
	Shasum       string
	Dependencies map[string]string
}

// ManifestSource returns the manifest for a package name. Implemented by
// *registry.Client in production and a fixture map in tests.
type ManifestSource interface {
	FetchManifest(name string) (*registry.Manifest, error)
}

// Options controls optional-dependency and concurrency behavior.
type Options struct {
	IncludeOptional bool
	// Concurrency bounds how many sibling dependencies are resolved in
	// parallel at each tree level (spec §5: "batches of at most 8").
	Concurrency int
}

// Resolver walks a dependency graph and flattens it to one version per name.
type Resolver struct {
	source ManifestSource
	opts   Options
}

// New returns a Resolver backed by source.
func New(source ManifestSource, opts Options) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Resolver{source: source, opts: opts}
}

type state struct {
	flat map[string]ResolvedPackage
}

// pkgRequest is one pending name@range to resolve, queued for a given
// breadth level of the dependency tree.
type pkgRequest struct {
	name string
	rng  string
}

// levelResult is one pkgRequest's outcome, collected before anything is
// committed to state.flat.
type levelResult struct {
	pkg       ResolvedPackage
	childDeps map[string]string
	err       error
}

// Resolve flattens the dependency closure starting from deps (a
// name->range map, e.g. a package.json "dependencies" object). The
// returned map is keyed by package name; for any name reachable by more
// than one path, the shallowest-declared version wins (flat node_modules
// policy) and later conflicting ranges are not re-checked.
//
// Resolution proceeds one breadth level at a time: every request at a
// level is fetched concurrently, but none of their results are committed
// to the flat map until the whole level finishes, and the next level's
// requests are built by walking this level's requests in their fixed
// enumeration order. That makes "which version wins" a function of
// declaration order alone (shallower beats deeper; within a level,
// earlier-enumerated beats later) rather than of which goroutine's
// manifest fetch happens to return first — resolving the same input
// always flattens to the same output regardless of registry latency.
func (r *Resolver) Resolve(deps map[string]string) (map[string]ResolvedPackage, error) {
	st := &state{flat: make(map[string]ResolvedPackage)}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names) // deterministic traversal order, for resolver determinism

	level := make([]pkgRequest, 0, len(names))
	for _, name := range names {
		level = append(level, pkgRequest{name: name, rng: deps[name]})
	}

	for len(level) > 0 {
		pending := dedupeLevel(st, level)
		if len(pending) == 0 {
			break
		}
		next, err := r.resolveLevel(st, pending)
		if err != nil {
			return nil, err
		}
		level = next
	}
	return st.flat, nil
}

// dedupeLevel drops requests whose name is already resolved and collapses
// duplicate names within the same level to their first occurrence, so a
// name requested by two different parents at the same depth is claimed by
// whichever request was enumerated first, not by whichever fetch finishes
// first.
func dedupeLevel(st *state, level []pkgRequest) []pkgRequest {
	seen := make(map[string]bool, len(level))
	out := make([]pkgRequest, 0, len(level))
	for _, req := range level {
		if _, already := st.flat[req.name]; already {
			continue
		}
		if seen[req.name] {
			continue
		}
		seen[req.name] = true
		out = append(out, req)
	}
	return out
}

// resolveLevel fetches every pending request concurrently (bounded by
// Options.Concurrency), commits them all to st.flat only once the whole
// batch has returned, and returns the next level's requests by walking
// pending in order and appending each one's sorted child dependency names.
func (r *Resolver) resolveLevel(st *state, pending []pkgRequest) ([]pkgRequest, error) {
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	results := make([]levelResult, len(pending))
	for i, req := range pending {
		i, req := i, req
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			pkg, childDeps, err := r.resolvePackage(req.name, req.rng)
			results[i] = levelResult{pkg: pkg, childDeps: childDeps, err: err}
		}()
	}
	wg.Wait()

	var next []pkgRequest
	for i, req := range pending {
		res := results[i]
		if res.err != nil {
			return nil, fmt.Errorf("resolve %s@%s: %w", req.name, req.rng, res.err)
		}
		st.flat[req.name] = res.pkg
		for _, childName := range sortedKeys(res.childDeps) {
			next = append(next, pkgRequest{name: childName, rng: res.childDeps[childName]})
		}
	}
	return next, nil
}

// resolvePackage fetches name's manifest, picks the best version
// satisfying rng, and gathers its dependency set (dependencies plus
// non-optional peerDependencies, and optionalDependencies only when the
// caller opted in).
func (r *Resolver) resolvePackage(name, rng string) (ResolvedPackage, map[string]string, error) {
	manifest, err := r.source.FetchManifest(name)
	if err != nil {
		return ResolvedPackage{}, nil, err
	}

	parsedRange, err := semver.ParseRange(rng)
	if err != nil {
		return ResolvedPackage{}, nil, err
	}
	version, ok := semver.FindBestVersion(manifest.SortedVersionStrings(), parsedRange)
	if !ok {
		return ResolvedPackage{}, nil, fmt.Errorf("no version of %q satisfies %q", name, rng)
	}
	info := manifest.Versions[version]

	childDeps := make(map[string]string, len(info.Dependencies)+len(info.PeerDependencies))
	for dep, depRange := range info.Dependencies {
		childDeps[dep] = depRange
	}
	for dep, depRange := range info.PeerDependencies {
		if meta, ok := info.PeerDependenciesMeta[dep]; ok && meta.Optional {
			continue
		}
		childDeps[dep] = depRange
	}
	if r.opts.IncludeOptional {
		for dep, depRange := range info.OptionalDependencies {
			childDeps[dep] = depRange
		}
	}

	return ResolvedPackage{
		Name:         name,
		Version:      version,
		TarballURL:   info.Dist.Tarball,
		Shasum:       info.Dist.Shasum,
		Dependencies: childDeps,
	}, childDeps, nil
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
