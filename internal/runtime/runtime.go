// Package runtime embeds a goja ECMAScript interpreter to actually execute
// the CommonJS-wrapped module functions the loader and transformer produce
// (spec §4.5). The teacher never executes JS — it only parses, transforms,
// and serves it — so this package's use of goja is grounded on the
// other_examples k6 module-resolution reference rather than on the teacher
// itself; see DESIGN.md.
package runtime

import (
	"errors"
	"fmt"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dop251/goja"

	"github.com/esmkit/esmkit/internal/loader"
	"github.com/esmkit/esmkit/internal/logx"
	"github.com/esmkit/esmkit/internal/transform"
	"github.com/esmkit/esmkit/internal/vfs"
)

// ErrExit is raised by process.exit(code); callers recover it to read Code.
type ErrExit struct{ Code int }

func (e *ErrExit) Error() string { return fmt.Sprintf("process.exit(%d)", e.Code) }

// moduleCacheSoftBound is the spec's "~2000 entries" FIFO eviction bound.
const moduleCacheSoftBound = 2000

// Options configures a Runtime, mirroring spec §4.5's construction args.
type Options struct {
	Cwd       string
	Env       map[string]string
	OnConsole func(level string, args ...any)
	OnStdout  func(s string)
	OnStderr  func(s string)
}

// Result is what Execute/RunFile return: the module's final exports object
// and its module record wrapper value.
type Result struct {
	Exports goja.Value
	Module  goja.Value
}

type moduleRecord struct {
	path    string
	exports *goja.Object
	loaded  bool
	onStack bool
}

// Runtime is a single-threaded, single-goja.Runtime execution context with
// its own module cache, sharable between Execute and transitive requires.
type Runtime struct {
	vm       *goja.Runtime
	fs       *vfs.FS
	resolver *loader.Resolver
	xform    *transform.Transformer
	cwd      string
	env      map[string]string

	cache    map[string]*moduleRecord
	fifo     *lru.Cache[string, struct{}] // eviction order tracker; values unused
	onStack  map[string]bool

	process    *goja.Object
	consoleObj *goja.Object
	consoleOpts Options
}

// New constructs a Runtime over fsys rooted at opts.Cwd, installing the
// builtin table and host polyfills.
func New(fsys *vfs.FS, opts Options) *Runtime {
	vm := goja.New()

	r := &Runtime{
		vm:      vm,
		fs:      fsys,
		xform:   transform.New(),
		cwd:     vfs.Normalize(orDefault(opts.Cwd, "/")),
		env:     opts.Env,
		cache:   make(map[string]*moduleRecord),
		onStack: make(map[string]bool),
	}
	// FIFO-by-insertion eviction: remember() Add()s a path when its module
	// finishes loading and a cache hit never touches the tracker, so
	// golang-lru's recency-based eviction follows insertion order. Loading
	// an already-tracked path again (RunFile or Execute on the same file,
	// or a load after ClearCache) Add()s it again and moves it to the
	// newest position. Records still on the call stack are not Add()-ed
	// until they finish loading; see DESIGN.md for the limits of this
	// approximation.
	evictor, _ := lru.NewWithEvict[string, struct{}](moduleCacheSoftBound, func(key string, _ struct{}) {
		delete(r.cache, key)
	})
	r.fifo = evictor

	r.resolver = loader.New(fsys, r.isBuiltin)
	r.installProcess(opts)
	r.installPolyfills()
	r.installConsole(opts)
	installBuiltins(r)
	return r
}

func orDefault(s, d string) string {
	if s == "" {
		return d
	}
	return s
}

// Execute writes code into the VFS at filename (so child loads and
// debuggers can see it), then requires it as a fresh module, per §4.5.
func (r *Runtime) Execute(code, filename string) (Result, error) {
	if filename == "" {
		filename = "/index.js"
	}
	filename = vfs.Normalize(filename)
	dir := path.Dir(filename)
	if err := r.fs.MkdirSync(dir, true); err != nil {
		return Result{}, err
	}
	if err := r.fs.WriteFileSync(filename, code); err != nil {
		return Result{}, err
	}
	rec, err := r.loadModuleFromSource(filename, code)
	if err != nil {
		return Result{}, err
	}
	return Result{Exports: rec.exports, Module: r.vm.ToValue(rec)}, nil
}

// RunFile reads filename from the VFS and executes its contents.
func (r *Runtime) RunFile(filename string) (Result, error) {
	data, err := r.fs.ReadFileSync(filename, "utf8")
	if err != nil {
		return Result{}, err
	}
	rec, err := r.loadModuleFromSource(filename, data)
	if err != nil {
		return Result{}, err
	}
	return Result{Exports: rec.exports, Module: r.vm.ToValue(rec)}, nil
}

// ClearCache empties the module cache in place, preserving the map's
// identity (so any held reference observes the reset).
func (r *Runtime) ClearCache() {
	for k := range r.cache {
		delete(r.cache, k)
	}
}

// requireFromDir is the Go-side implementation of require(specifier),
// invoked from injected module functions via a goja.Callable closure.
func (r *Runtime) requireFromDir(fromDir, specifier string) (goja.Value, error) {
	resolved, err := r.resolver.Resolve(fromDir, specifier)
	if err != nil {
		return nil, fmt.Errorf("require %q from %s: %w", specifier, fromDir, err)
	}
	switch resolved.Kind {
	case loader.KindBuiltin:
		v, ok := r.builtin(resolved.Path)
		if !ok {
			return nil, fmt.Errorf("require %q: builtin not registered", resolved.Path)
		}
		return v, nil
	case loader.KindJSON:
		rec, err := r.loadJSONModule(resolved.Path)
		if err != nil {
			return nil, err
		}
		return rec.exports, nil
	default:
		rec, err := r.loadModule(resolved.Path)
		if err != nil {
			return nil, err
		}
		return rec.exports, nil
	}
}

func (r *Runtime) loadModule(p string) (*moduleRecord, error) {
	if rec, ok := r.cache[p]; ok {
		if rec.onStack {
			return rec, nil // cyclic require observes the partial exports
		}
		return rec, nil
	}
	data, err := r.fs.ReadFileSync(p, "utf8")
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", p, err)
	}
	return r.loadModuleFromSource(p, data)
}

func (r *Runtime) loadJSONModule(p string) (*moduleRecord, error) {
	if rec, ok := r.cache[p]; ok {
		return rec, nil
	}
	data, err := r.fs.ReadFileSync(p, "utf8")
	if err != nil {
		return nil, err
	}
	parsed, err := r.vm.RunString("(" + data + ")")
	if err != nil {
		return nil, fmt.Errorf("parse json %s: %w", p, err)
	}
	rec := &moduleRecord{path: p, loaded: true}
	if obj, ok := parsed.(*goja.Object); ok {
		rec.exports = obj
	} else {
		rec.exports = r.vm.NewObject()
	}
	r.remember(p, rec)
	return rec, nil
}

// loadModuleFromSource performs step 1-3 of spec §4.3's "load and
// evaluate": insert an empty record (cycle breaker), transform unless
// .cjs, wrap, execute, and on failure remove the record and rethrow
// annotated with the resolved path.
func (r *Runtime) loadModuleFromSource(p, source string) (*moduleRecord, error) {
	rec := &moduleRecord{path: p, exports: r.vm.NewObject(), onStack: true}
	r.cache[p] = rec

	source = stripShebang(source)
	if !strings.HasSuffix(p, ".cjs") {
		out, err := r.xform.Transform(source, p)
		if err != nil {
			delete(r.cache, p)
			return nil, fmt.Errorf("transform %s: %w", p, err)
		}
		source = out
	}

	fn, err := r.compileModuleFunction(source, p)
	if err != nil {
		delete(r.cache, p)
		logx.L.Debugf("[runtime] compile %s failed: %v", p, err)
		return nil, fmt.Errorf("compile %s: %w", p, err)
	}

	dir := path.Dir(p)
	moduleObj := r.vm.NewObject()
	moduleObj.Set("exports", rec.exports)
	moduleObj.Set("id", p)

	requireFn := func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		v, err := r.requireFromDir(dir, specifier)
		if err != nil {
			panic(r.vm.NewGoError(err))
		}
		return v
	}
	dynamicImportFn := func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()
		promise, resolve, reject := r.vm.NewPromise()
		v, err := r.requireFromDir(dir, specifier)
		if err != nil {
			reject(err)
		} else {
			resolve(toESMNamespace(r.vm, v))
		}
		return r.vm.ToValue(promise)
	}

	args := []goja.Value{
		rec.exports,
		r.vm.ToValue(requireFn),
		r.vm.ToValue(moduleObj),
		r.vm.ToValue(p),
		r.vm.ToValue(dir),
		r.vm.ToValue(r.process),
		r.consoleValue(),
		r.vm.ToValue(map[string]any{"url": "file://" + p, "dirname": dir, "filename": p}),
		r.vm.ToValue(dynamicImportFn),
	}
	if _, err := fn(goja.Undefined(), args...); err != nil {
		delete(r.cache, p)
		return nil, fmt.Errorf("evaluate %s: %w", p, err)
	}

	if exp, ok := moduleObj.Get("exports").(*goja.Object); ok {
		rec.exports = exp
	}
	rec.loaded = true
	rec.onStack = false
	r.remember(p, rec)
	return rec, nil
}

func (r *Runtime) remember(p string, rec *moduleRecord) {
	r.cache[p] = rec
	r.fifo.Add(p, struct{}{})
}

const moduleFnPreamble = "(function(exports, require, module, __filename, __dirname, process, console, import_meta, __dynamicImport) {" +
	"var __esmDefault = function(m) { return m && m.__esModule ? m.default : m; }; " +
	"var __esmReexportStar = function(e, m) { for (var k in m) { if (k !== \"default\" && !Object.prototype.hasOwnProperty.call(e, k)) e[k] = m[k]; } };\n"
const moduleFnPostamble = "\n})"

func (r *Runtime) compileModuleFunction(source, filename string) (goja.Callable, error) {
	wrapped := moduleFnPreamble + source + moduleFnPostamble
	v, err := r.vm.RunScript(filename, wrapped)
	if err != nil {
		return nil, err
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("module wrapper did not evaluate to a function")
	}
	return fn, nil
}

func stripShebang(source string) string {
	if strings.HasPrefix(source, "#!") {
		if idx := strings.IndexByte(source, '\n'); idx >= 0 {
			return source[idx+1:]
		}
		return ""
	}
	return source
}

// toESMNamespace implements the dynamic-import wrapping rule of §4.3: a
// value already carrying "default" or "__esModule" is returned unchanged,
// otherwise it is wrapped with "default" set to itself merged with its own
// properties.
func toESMNamespace(vm *goja.Runtime, v goja.Value) goja.Value {
	obj, ok := v.(*goja.Object)
	if !ok {
		ns := vm.NewObject()
		ns.Set("default", v)
		return ns
	}
	if obj.Get("default") != nil || obj.Get("__esModule") != nil {
		return obj
	}
	ns := vm.NewObject()
	ns.Set("default", obj)
	for _, key := range obj.Keys() {
		ns.Set(key, obj.Get(key))
	}
	return ns
}
