// Package loader implements specifier classification and package entry
// selection for esmkit's Module Loader (spec §4.3). It resolves a
// specifier to an absolute VFS path (or a builtin name) but does not
// execute anything — evaluation lives in internal/runtime, which uses a
// Resolver as its resolution substrate.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/esmkit/esmkit/internal/vfs"
)

// Error sentinels callers branch on, per SPEC_FULL §1.2.
var (
	ErrModuleNotFound      = errors.New("module not found")
	ErrPackageEntryMissing = errors.New("package entry missing")
)

// Kind tags what a resolved specifier turned out to be, favoring a small
// closed tagged variant over an interface hierarchy (spec §9).
type Kind int

const (
	KindFile Kind = iota
	KindBuiltin
	KindJSON
)

// Resolved is the outcome of resolving one specifier.
type Resolved struct {
	Kind Kind
	Path string // absolute VFS path for KindFile/KindJSON; builtin name for KindBuiltin
}

// BuiltinLookup reports whether name (after any "node:" prefix has been
// stripped) is registered in the builtin table.
type BuiltinLookup func(name string) (ok bool)

// Resolver performs specifier classification and package entry selection
// against a VFS, with a resolution cache keyed by (fromDir, specifier) and
// a package.json parse cache keyed by path.
type Resolver struct {
	FS      *vfs.FS
	Builtin BuiltinLookup

	mu          sync.Mutex
	resolveCache map[resolveKey]*Resolved // nil entry = cached negative
	pkgCache     map[string]*packageJSON
}

type resolveKey struct {
	fromDir  string
	specifier string
}

// New returns a Resolver backed by fsys. builtin reports whether a bare
// name (already stripped of any "node:" prefix) is a registered builtin.
func New(fsys *vfs.FS, builtin BuiltinLookup) *Resolver {
	return &Resolver{
		FS:           fsys,
		Builtin:      builtin,
		resolveCache: make(map[resolveKey]*Resolved),
		pkgCache:     make(map[string]*packageJSON),
	}
}

// packageJSON is the subset of fields package entry selection reads.
type packageJSON struct {
	Name    string          `json:"name"`
	Main    string          `json:"main"`
	Module  string          `json:"module"`
	Browser json.RawMessage `json:"browser"`
	Exports json.RawMessage `json:"exports"`
	Imports json.RawMessage `json:"imports"`
}

// Resolve classifies and resolves specifier as required from fromDir,
// caching both positive and negative outcomes.
func (r *Resolver) Resolve(fromDir, specifier string) (Resolved, error) {
	key := resolveKey{fromDir: vfs.Normalize(fromDir), specifier: specifier}
	r.mu.Lock()
	if cached, ok := r.resolveCache[key]; ok {
		r.mu.Unlock()
		if cached == nil {
			return Resolved{}, fmt.Errorf("resolve %s from %s: %w", specifier, fromDir, ErrModuleNotFound)
		}
		return *cached, nil
	}
	r.mu.Unlock()

	res, err := r.resolveUncached(key.fromDir, specifier)
	r.mu.Lock()
	if err != nil {
		r.resolveCache[key] = nil
	} else {
		r.resolveCache[key] = &res
	}
	r.mu.Unlock()
	return res, err
}

func (r *Resolver) resolveUncached(fromDir, specifier string) (Resolved, error) {
	switch {
	case strings.HasPrefix(specifier, "node:"):
		name := strings.TrimPrefix(specifier, "node:")
		if r.Builtin != nil && r.Builtin(name) {
			return Resolved{Kind: KindBuiltin, Path: name}, nil
		}
		return Resolved{}, fmt.Errorf("resolve %s: %w", specifier, ErrModuleNotFound)

	case r.Builtin != nil && r.Builtin(specifier):
		return Resolved{Kind: KindBuiltin, Path: specifier}, nil

	case strings.HasPrefix(specifier, "#"):
		return r.resolveImportsField(fromDir, specifier)

	case strings.HasPrefix(specifier, "/") || strings.HasPrefix(specifier, "./") || strings.HasPrefix(specifier, "../"):
		target := specifier
		if !strings.HasPrefix(specifier, "/") {
			target = path.Join(fromDir, specifier)
		}
		resolved, ok := r.probeFile(target)
		if !ok {
			return Resolved{}, fmt.Errorf("resolve %s from %s: %w", specifier, fromDir, ErrModuleNotFound)
		}
		return resolved, nil

	default:
		return r.resolvePackageSpecifier(fromDir, specifier)
	}
}

// probeExtensions is the extension probing order for relative/absolute
// path resolution, per spec §4.3.
var probeExtensions = []string{"", ".js", ".json", ".node"}

func (r *Resolver) probeFile(target string) (Resolved, bool) {
	target = vfs.Normalize(target)
	for _, ext := range probeExtensions {
		p := target + ext
		if st, err := r.FS.StatSync(p); err == nil && st.IsFile() {
			return fileResolved(p), true
		}
	}
	if st, err := r.FS.StatSync(target); err == nil && st.IsDirectory() {
		idx := path.Join(target, "index.js")
		if st2, err := r.FS.StatSync(idx); err == nil && st2.IsFile() {
			return fileResolved(idx), true
		}
	}
	return Resolved{}, false
}

func fileResolved(p string) Resolved {
	if strings.HasSuffix(p, ".json") {
		return Resolved{Kind: KindJSON, Path: p}
	}
	return Resolved{Kind: KindFile, Path: p}
}

// resolveImportsField walks ancestors from fromDir looking for the first
// package.json whose "imports" field resolves specifier, per spec §4.3 and
// the imports-field supplement in SPEC_FULL §3 (same require/import
// condition order as exports).
func (r *Resolver) resolveImportsField(fromDir, specifier string) (Resolved, error) {
	dir := fromDir
	for {
		pkgPath := path.Join(dir, "package.json")
		if pj, err := r.loadPackageJSON(pkgPath); err == nil && len(pj.Imports) > 0 {
			var importsMap map[string]json.RawMessage
			if json.Unmarshal(pj.Imports, &importsMap) == nil {
				if raw, ok := importsMap[specifier]; ok {
					if target, ok := pickCondition(raw); ok {
						return r.resolveRelativeTo(dir, target)
					}
				}
			}
		}
		parent := path.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return Resolved{}, fmt.Errorf("resolve %s: %w", specifier, ErrModuleNotFound)
}

func (r *Resolver) resolveRelativeTo(dir, target string) (Resolved, error) {
	abs := target
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
		abs = path.Join(dir, target)
	}
	if resolved, ok := r.probeFile(abs); ok {
		return resolved, nil
	}
	return Resolved{}, fmt.Errorf("resolve %s: %w", target, ErrModuleNotFound)
}

// resolvePackageSpecifier walks ancestor node_modules directories looking
// for a matching package, splitting an optional scope and subpath.
func (r *Resolver) resolvePackageSpecifier(fromDir, specifier string) (Resolved, error) {
	name, subpath := splitSpecifier(specifier)
	dir := fromDir
	for {
		candidate := path.Join(dir, "node_modules", name)
		if st, err := r.FS.StatSync(candidate); err == nil && st.IsDirectory() {
			if resolved, err := r.resolvePackageEntry(candidate, subpath); err == nil {
				return resolved, nil
			}
		}
		parent := path.Dir(dir)
		if parent == dir || dir == "/" {
			break
		}
		dir = parent
	}
	return Resolved{}, fmt.Errorf("resolve %s from %s: %w", specifier, fromDir, ErrModuleNotFound)
}

// splitSpecifier separates a (possibly scoped) package name from its
// subpath: "@scope/name/sub/path" -> ("@scope/name", "sub/path").
func splitSpecifier(specifier string) (name, subpath string) {
	parts := strings.SplitN(specifier, "/", 2)
	if strings.HasPrefix(specifier, "@") && len(parts) == 2 {
		inner := strings.SplitN(parts[1], "/", 2)
		name = parts[0] + "/" + inner[0]
		if len(inner) == 2 {
			subpath = inner[1]
		}
		return
	}
	name = parts[0]
	if len(parts) == 2 {
		subpath = parts[1]
	}
	return
}

// resolvePackageEntry implements spec §4.3's four-step package entry
// selection against the package rooted at pkgDir.
func (r *Resolver) resolvePackageEntry(pkgDir, subpath string) (Resolved, error) {
	pj, err := r.loadPackageJSON(path.Join(pkgDir, "package.json"))
	if err != nil {
		pj = &packageJSON{}
	}

	if subpath == "" {
		if len(pj.Exports) > 0 {
			if resolved, ok := r.resolveExportsField(pkgDir, pj.Exports, "."); ok {
				return r.remapBrowser(pkgDir, pj, resolved)
			}
		}
		for _, candidate := range []string{browserMainString(pj.Browser), pj.Module, pj.Main, "index.js"} {
			if candidate == "" {
				continue
			}
			if resolved, ok := r.probeFile(path.Join(pkgDir, candidate)); ok {
				return r.remapBrowser(pkgDir, pj, resolved)
			}
		}
		return Resolved{}, fmt.Errorf("package entry for %s: %w", pkgDir, ErrPackageEntryMissing)
	}

	if len(pj.Exports) > 0 {
		if resolved, ok := r.resolveExportsField(pkgDir, pj.Exports, "./"+subpath); ok {
			return r.remapBrowser(pkgDir, pj, resolved)
		}
	}
	resolved, ok := r.probeFile(path.Join(pkgDir, subpath))
	if !ok {
		return Resolved{}, fmt.Errorf("package entry %s for %s: %w", subpath, pkgDir, ErrPackageEntryMissing)
	}
	return r.remapBrowser(pkgDir, pj, resolved)
}

// resolveExportsField evaluates pj's exports map for key, trying the
// require condition then the import condition, skipping a resolved .cjs
// file whose content begins with "throw " (the common ESM-only stub).
func (r *Resolver) resolveExportsField(pkgDir string, exportsRaw json.RawMessage, key string) (Resolved, bool) {
	var single string
	if json.Unmarshal(exportsRaw, &single) == nil {
		return r.probeFile(path.Join(pkgDir, single))
	}

	var flatConditions map[string]json.RawMessage
	if json.Unmarshal(exportsRaw, &flatConditions) == nil {
		if isConditionsMap(flatConditions) {
			return r.resolveExportTargetRaw(pkgDir, exportsRaw)
		}
		if raw, ok := flatConditions[key]; ok {
			return r.resolveExportTargetRaw(pkgDir, raw)
		}
	}
	return Resolved{}, false
}

// resolveExportTargetRaw tries raw's condition targets in require-then-
// import-then-node-then-default order, advancing past a resolved throw-stub
// (resolveExportTarget's rejection) to the next condition instead of
// failing outright: a package's "require" target can be a deliberate
// ESM-only stub meant only to steer CommonJS callers toward "import".
func (r *Resolver) resolveExportTargetRaw(pkgDir string, raw json.RawMessage) (Resolved, bool) {
	for _, target := range conditionCandidates(raw) {
		if resolved, ok := r.resolveExportTarget(pkgDir, target); ok {
			return resolved, true
		}
	}
	return Resolved{}, false
}

func (r *Resolver) resolveExportTarget(pkgDir, target string) (Resolved, bool) {
	resolved, ok := r.probeFile(path.Join(pkgDir, target))
	if !ok {
		return Resolved{}, false
	}
	if strings.HasSuffix(resolved.Path, ".cjs") {
		if data, err := r.FS.ReadFileSync(resolved.Path, "utf8"); err == nil && strings.HasPrefix(strings.TrimSpace(data), "throw ") {
			return Resolved{}, false
		}
	}
	return resolved, true
}

// isConditionsMap reports whether m's keys look like condition names
// ("require"/"import"/"default"/"node"/"browser"/...) rather than subpath
// keys (which start with "." per the exports-field spec).
func isConditionsMap(m map[string]json.RawMessage) bool {
	for k := range m {
		if strings.HasPrefix(k, ".") {
			return false
		}
	}
	return true
}

// conditionCandidates returns every leaf target string reachable from raw
// in require-then-import-then-node-then-default priority order, recursing
// into nested condition objects. A bare string value yields itself as the
// sole candidate. Unlike pickCondition, this doesn't stop at the first
// matching condition: a caller retries later candidates when an earlier
// one resolves to something unusable (e.g. an ESM-only throw stub).
func conditionCandidates(raw json.RawMessage) []string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []string{s}
	}
	var conditions map[string]json.RawMessage
	if json.Unmarshal(raw, &conditions) != nil {
		return nil
	}
	var out []string
	for _, cond := range []string{"require", "import", "node", "default"} {
		if v, ok := conditions[cond]; ok {
			out = append(out, conditionCandidates(v)...)
		}
	}
	return out
}

// pickCondition evaluates a conditions object in require, import, node
// order, falling back to "default", and recursing into nested condition
// objects.
func pickCondition(raw json.RawMessage) (string, bool) {
	var conditions map[string]json.RawMessage
	if json.Unmarshal(raw, &conditions) != nil {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s, true
		}
		return "", false
	}
	for _, cond := range []string{"require", "import", "node", "default"} {
		if v, ok := conditions[cond]; ok {
			var s string
			if json.Unmarshal(v, &s) == nil {
				return s, true
			}
			if nested, ok := pickCondition(v); ok {
				return nested, true
			}
		}
	}
	return "", false
}

func browserMainString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return "" // object form: remapping happens in remapBrowser, not as the main entry
}

// remapBrowser applies the browser object-form remap: if pj.Browser is an
// object, look up resolved's path key (relative to pkgDir, with and
// without extension); a value of false excludes the module.
func (r *Resolver) remapBrowser(pkgDir string, pj *packageJSON, resolved Resolved) (Resolved, error) {
	if len(pj.Browser) == 0 {
		return resolved, nil
	}
	var remap map[string]json.RawMessage
	if json.Unmarshal(pj.Browser, &remap) != nil {
		return resolved, nil // string-form browser is handled as a main candidate, not a remap
	}
	rel := strings.TrimPrefix(resolved.Path, pkgDir+"/")
	for _, key := range []string{"./" + rel, rel, "./" + strings.TrimSuffix(rel, path.Ext(rel)), strings.TrimSuffix(rel, path.Ext(rel))} {
		raw, ok := remap[key]
		if !ok {
			continue
		}
		var excluded bool
		if json.Unmarshal(raw, &excluded) == nil && !excluded {
			return Resolved{}, fmt.Errorf("browser remap excludes %s: %w", resolved.Path, ErrModuleNotFound)
		}
		var target string
		if json.Unmarshal(raw, &target) == nil {
			if out, ok := r.probeFile(path.Join(pkgDir, target)); ok {
				return out, nil
			}
		}
	}
	return resolved, nil
}

// loadPackageJSON parses and caches the package.json at p.
func (r *Resolver) loadPackageJSON(p string) (*packageJSON, error) {
	r.mu.Lock()
	if cached, ok := r.pkgCache[p]; ok {
		r.mu.Unlock()
		if cached == nil {
			return nil, ErrModuleNotFound
		}
		return cached, nil
	}
	r.mu.Unlock()

	data, err := r.FS.ReadFileSync(p, "utf8")
	if err != nil {
		r.mu.Lock()
		r.pkgCache[p] = nil
		r.mu.Unlock()
		return nil, err
	}
	var pj packageJSON
	if err := json.Unmarshal([]byte(data), &pj); err != nil {
		r.mu.Lock()
		r.pkgCache[p] = nil
		r.mu.Unlock()
		return nil, fmt.Errorf("parse %s: %w", p, err)
	}
	r.mu.Lock()
	r.pkgCache[p] = &pj
	r.mu.Unlock()
	return &pj, nil
}
