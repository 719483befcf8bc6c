// Package installer composes the registry client, resolver, and tarball
// extractor into the package-manager install pipeline of spec §4.2.
package installer

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/esmkit/esmkit/internal/logx"
	"github.com/esmkit/esmkit/internal/registry"
	"github.com/esmkit/esmkit/internal/resolver"
	"github.com/esmkit/esmkit/internal/semver"
	"github.com/esmkit/esmkit/internal/tarball"
	"github.com/esmkit/esmkit/internal/vfs"
)

// Transformer runs the ESM->CJS pass over one file's source. Implemented by
// *transform.Transformer; accepted here as an interface to keep installer
// free of a direct dependency on the transform package's esbuild internals.
type Transformer interface {
	Transform(source, filename string) (string, error)
}

// ProgressEvent reports install progress for a UI layer to render.
type ProgressEvent struct {
	Package string
	Phase   string // "resolving" | "downloading" | "extracting" | "done"
}

// Options mirrors spec §4.2's install(spec, {...}) signature.
type Options struct {
	Save            bool
	SaveDev         bool
	IncludeDev      bool
	IncludeOptional bool
	Transform       bool
	OnProgress      func(ProgressEvent)
	// DownloadConcurrency bounds simultaneous tarball downloads, default 6
	// per spec §5.
	DownloadConcurrency int
}

// PackageJSON is the subset of package.json the installer reads and
// upserts into.
type PackageJSON struct {
	Name            string            `json:"name,omitempty"`
	Version         string            `json:"version,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
}

// LockEntry is one record of node_modules/.package-lock.json.
type LockEntry struct {
	Version  string `json:"version"`
	Resolved string `json:"resolved"`
}

// Installer orchestrates Resolve -> Download -> Extract -> Transform ->
// bin-shim -> lockfile -> package.json for a working directory's VFS tree.
type Installer struct {
	FS       *vfs.FS
	Registry *registry.Client
	Resolve  *resolver.Resolver
	Cwd      string
	Transform Transformer
}

// New returns an Installer rooted at cwd.
func New(fs *vfs.FS, reg *registry.Client, res *resolver.Resolver, cwd string) *Installer {
	return &Installer{FS: fs, Registry: reg, Resolve: res, Cwd: cwd}
}

func (in *Installer) nodeModules() string { return path.Join(in.Cwd, "node_modules") }

// Install resolves spec's dependency closure and materializes it under
// <cwd>/node_modules, per spec §4.2 steps 1-7.
func (in *Installer) Install(spec string, opts Options) (map[string]resolver.ResolvedPackage, error) {
	if opts.DownloadConcurrency <= 0 {
		opts.DownloadConcurrency = 6
	}
	pspec := registry.ParsePackageSpec(spec)
	rng := pspec.Version
	if rng == "" {
		rng = "*"
	}

	emit := func(name, phase string) {
		if opts.OnProgress != nil {
			opts.OnProgress(ProgressEvent{Package: name, Phase: phase})
		}
	}

	flat, err := in.resolveWithLockSkip(pspec.Name, rng, emit)
	if err != nil {
		return nil, fmt.Errorf("install %s: %w", spec, err)
	}

	if err := in.FS.MkdirSync(in.nodeModules(), true); err != nil {
		return nil, err
	}

	// step 2: diff against what's already extracted at the locked version
	toDownload := make([]resolver.ResolvedPackage, 0, len(flat))
	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pkg := flat[name]
		if in.alreadyInstalled(pkg) {
			continue
		}
		toDownload = append(toDownload, pkg)
	}

	if err := in.downloadExtractBatch(toDownload, opts, emit); err != nil {
		return nil, err
	}

	if opts.Transform && in.Transform != nil {
		for _, name := range names {
			in.transformPackage(flat[name])
		}
	}

	for _, name := range names {
		if err := in.writeBinShims(flat[name]); err != nil {
			logx.L.Warnf("[installer] bin shims for %s: %v", name, err)
		}
	}

	if err := in.writeLockfile(flat); err != nil {
		return nil, err
	}

	if opts.Save || opts.SaveDev {
		if err := in.upsertPackageJSON(pspec, flat[pspec.Name], opts); err != nil {
			return nil, err
		}
	}

	for _, name := range names {
		emit(name, "done")
	}
	return flat, nil
}

// resolveWithLockSkip implements SPEC_FULL §3's reinstall-skip: when an
// existing .package-lock.json satisfies rng for name and every locked
// package is already extracted at its locked version, reuse the lockfile
// instead of re-resolving and re-fetching manifests from the registry.
func (in *Installer) resolveWithLockSkip(name, rng string, emit func(name, phase string)) (map[string]resolver.ResolvedPackage, error) {
	lock, _ := in.ReadLockfile()
	if lock != nil {
		if entry, ok := lock[name]; ok && lockSatisfies(entry.Version, rng) && in.lockFullyInstalled(lock) {
			emit(name, "resolving")
			flat := make(map[string]resolver.ResolvedPackage, len(lock))
			for n, e := range lock {
				flat[n] = resolver.ResolvedPackage{Name: n, Version: e.Version, TarballURL: e.Resolved}
			}
			return flat, nil
		}
	}
	emit(name, "resolving")
	return in.Resolve.Resolve(map[string]string{name: rng})
}

func lockSatisfies(version, rng string) bool {
	v, err := semver.ParseVersion(version)
	if err != nil {
		return false
	}
	r, err := semver.ParseRange(rng)
	if err != nil {
		return false
	}
	return r.Satisfies(v)
}

func (in *Installer) lockFullyInstalled(lock map[string]LockEntry) bool {
	for name, entry := range lock {
		if !in.alreadyInstalled(resolver.ResolvedPackage{Name: name, Version: entry.Version}) {
			return false
		}
	}
	return true
}

func (in *Installer) alreadyInstalled(pkg resolver.ResolvedPackage) bool {
	pkgJSONPath := path.Join(in.nodeModules(), pkg.Name, "package.json")
	data, err := in.FS.ReadFileSync(pkgJSONPath, "utf8")
	if err != nil {
		return false
	}
	var existing struct {
		Version string `json:"version"`
	}
	if json.Unmarshal([]byte(data), &existing) != nil {
		return false
	}
	return existing.Version == pkg.Version
}

// downloadExtractBatch fetches and extracts packages in bounded parallel
// batches (spec §5: at most 6 concurrent in-flight requests), serializing
// writes per package so no two concurrent extractions target the same
// node_modules/<name>.
func (in *Installer) downloadExtractBatch(pkgs []resolver.ResolvedPackage, opts Options, emit func(name, phase string)) error {
	sem := make(chan struct{}, opts.DownloadConcurrency)
	var wg sync.WaitGroup
	errs := make([]error, len(pkgs))
	for i, pkg := range pkgs {
		i, pkg := i, pkg
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			emit(pkg.Name, "downloading")
			data, err := in.Registry.FetchTarball(pkg.TarballURL, pkg.Shasum)
			if err != nil {
				errs[i] = fmt.Errorf("download %s@%s: %w", pkg.Name, pkg.Version, err)
				return
			}
			emit(pkg.Name, "extracting")
			dest := path.Join(in.nodeModules(), pkg.Name)
			if err := in.FS.RemoveAllSync(dest); err != nil {
				logx.L.Debugf("[installer] clean %s before extract: %v", dest, err)
			}
			if err := tarball.Extract(data, tarball.Gzip, in.FS, dest, tarball.Options{}); err != nil {
				errs[i] = fmt.Errorf("extract %s@%s: %w", pkg.Name, pkg.Version, err)
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (in *Installer) transformPackage(pkg resolver.ResolvedPackage) {
	root := path.Join(in.nodeModules(), pkg.Name)
	var walk func(dir string)
	walk = func(dir string) {
		entries, err := in.FS.ReaddirSync(dir)
		if err != nil {
			return
		}
		for _, name := range entries {
			p := path.Join(dir, name)
			if name == "node_modules" {
				continue
			}
			st, err := in.FS.StatSync(p)
			if err != nil {
				continue
			}
			if st.IsDirectory() {
				walk(p)
				continue
			}
			if !strings.HasSuffix(name, ".js") && !strings.HasSuffix(name, ".mjs") && !strings.HasSuffix(name, ".cjs") {
				continue
			}
			source, err := in.FS.ReadFileSync(p, "utf8")
			if err != nil {
				continue
			}
			out, err := in.Transform.Transform(source, p)
			if err != nil {
				// transform failures are warnings, not fatal, per spec §4.2 step 4.
				logx.L.Warnf("[installer] transform %s: %v", p, err)
				continue
			}
			if out != source {
				in.FS.WriteFileSync(p, out)
			}
		}
	}
	walk(root)
}

// writeBinShims creates node_modules/.bin/<command> wrappers for pkg's
// package.json "bin" field, one per entry.
func (in *Installer) writeBinShims(pkg resolver.ResolvedPackage) error {
	pkgJSONPath := path.Join(in.nodeModules(), pkg.Name, "package.json")
	data, err := in.FS.ReadFileSync(pkgJSONPath, "utf8")
	if err != nil {
		return nil // no package.json yet (already-installed skip path)
	}
	var manifest struct {
		Bin json.RawMessage `json:"bin"`
	}
	if json.Unmarshal([]byte(data), &manifest) != nil || len(manifest.Bin) == 0 {
		return nil
	}

	bins := map[string]string{}
	var asString string
	if json.Unmarshal(manifest.Bin, &asString) == nil {
		bins[baseName(pkg.Name)] = asString
	} else if json.Unmarshal(manifest.Bin, &bins) != nil {
		return nil
	}

	binDir := path.Join(in.nodeModules(), ".bin")
	if err := in.FS.MkdirSync(binDir, true); err != nil {
		return err
	}
	for cmd, target := range bins {
		targetPath := path.Join(in.nodeModules(), pkg.Name, target)
		shim := minifyBinShim(targetPath)
		if err := in.FS.WriteFileSync(path.Join(binDir, cmd), shim); err != nil {
			return err
		}
	}
	return nil
}

// minifyBinShim renders the tiny CommonJS launcher a node_modules/.bin
// entry needs and compacts it with esbuild's public Transform API, the
// same engine the transformer package uses internally for AST inspection,
// here run through its ordinary minifying entry point instead.
func minifyBinShim(targetPath string) string {
	body := fmt.Sprintf("require(%q);\n", targetPath)
	result := api.Transform(body, api.TransformOptions{
		Loader:           api.LoaderJS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
	})
	if len(result.Errors) > 0 || len(result.Code) == 0 {
		return "#!/usr/bin/env esmkit-node\n" + body
	}
	return "#!/usr/bin/env esmkit-node\n" + string(result.Code)
}

func baseName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (in *Installer) writeLockfile(flat map[string]resolver.ResolvedPackage) error {
	lock := make(map[string]LockEntry, len(flat))
	for name, pkg := range flat {
		lock[name] = LockEntry{Version: pkg.Version, Resolved: pkg.TarballURL}
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return err
	}
	return in.FS.WriteFileSync(path.Join(in.nodeModules(), ".package-lock.json"), data)
}

// ReadLockfile loads an existing .package-lock.json, if any. Per SPEC_FULL
// §3, install consults this before resolving so it can skip re-resolving
// packages whose locked version still satisfies the requested range.
func (in *Installer) ReadLockfile() (map[string]LockEntry, error) {
	data, err := in.FS.ReadFileSync(path.Join(in.nodeModules(), ".package-lock.json"), "utf8")
	if err != nil {
		return nil, nil
	}
	lock := make(map[string]LockEntry)
	if err := json.Unmarshal([]byte(data), &lock); err != nil {
		return nil, err
	}
	return lock, nil
}

func (in *Installer) upsertPackageJSON(spec registry.Spec, pkg resolver.ResolvedPackage, opts Options) error {
	pkgJSONPath := path.Join(in.Cwd, "package.json")
	var manifest PackageJSON
	if data, err := in.FS.ReadFileSync(pkgJSONPath, "utf8"); err == nil {
		json.Unmarshal([]byte(data), &manifest)
	}
	if manifest.Dependencies == nil {
		manifest.Dependencies = map[string]string{}
	}
	if manifest.DevDependencies == nil {
		manifest.DevDependencies = map[string]string{}
	}
	pinned := "^" + pkg.Version
	if opts.SaveDev {
		manifest.DevDependencies[spec.Name] = pinned
	} else {
		manifest.Dependencies[spec.Name] = pinned
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return in.FS.WriteFileSync(pkgJSONPath, data)
}
