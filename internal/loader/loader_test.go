package loader

import (
	"testing"

	"github.com/esmkit/esmkit/internal/vfs"
)

func noBuiltins(string) bool { return false }

func newFixtureFS(t *testing.T) *vfs.FS {
	t.Helper()
	return vfs.New()
}

func TestResolveRelativePath(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app", true)
	fsys.WriteFileSync("/app/util.js", "module.exports = 1;")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "./util")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/util.js" || res.Kind != KindFile {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveDirectoryIndexFallback(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app/lib", true)
	fsys.WriteFileSync("/app/lib/index.js", "module.exports = {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "./lib")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/lib/index.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolvePackageMainField(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app/node_modules/left-pad", true)
	fsys.WriteFileSync("/app/node_modules/left-pad/package.json", `{"name":"left-pad","main":"lib/index.js"}`)
	fsys.MkdirSync("/app/node_modules/left-pad/lib", true)
	fsys.WriteFileSync("/app/node_modules/left-pad/lib/index.js", "module.exports = {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "left-pad")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/node_modules/left-pad/lib/index.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveExportsFieldRequireCondition(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app/node_modules/pkg", true)
	fsys.WriteFileSync("/app/node_modules/pkg/package.json", `{
		"name":"pkg",
		"exports": {".": {"require": "./cjs/index.js", "import": "./esm/index.js"}}
	}`)
	fsys.MkdirSync("/app/node_modules/pkg/cjs", true)
	fsys.WriteFileSync("/app/node_modules/pkg/cjs/index.js", "module.exports = {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "pkg")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/node_modules/pkg/cjs/index.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveExportsFieldSkipsThrowStubAndFallsBackToImport(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app/node_modules/pkg", true)
	fsys.WriteFileSync("/app/node_modules/pkg/package.json", `{
		"name":"pkg",
		"exports": {".": {"require": "./cjs/index.cjs", "import": "./esm/index.js"}}
	}`)
	fsys.MkdirSync("/app/node_modules/pkg/cjs", true)
	fsys.WriteFileSync("/app/node_modules/pkg/cjs/index.cjs", `throw new Error("pkg is ESM-only");`)
	fsys.MkdirSync("/app/node_modules/pkg/esm", true)
	fsys.WriteFileSync("/app/node_modules/pkg/esm/index.js", "export default {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "pkg")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/node_modules/pkg/esm/index.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveScopedPackageSubpath(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app/node_modules/@types/node", true)
	fsys.WriteFileSync("/app/node_modules/@types/node/package.json", `{"name":"@types/node"}`)
	fsys.WriteFileSync("/app/node_modules/@types/node/fs.js", "module.exports = {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "@types/node/fs")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/node_modules/@types/node/fs.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveImportsFieldPrivateSpecifier(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app", true)
	fsys.WriteFileSync("/app/package.json", `{"imports": {"#internal/foo": {"node": "./internal/foo.js", "default": "./internal/foo.browser.js"}}}`)
	fsys.MkdirSync("/app/internal", true)
	fsys.WriteFileSync("/app/internal/foo.js", "module.exports = {};")

	r := New(fsys, noBuiltins)
	res, err := r.Resolve("/app", "#internal/foo")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Path != "/app/internal/foo.js" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveBuiltin(t *testing.T) {
	fsys := newFixtureFS(t)
	builtins := func(name string) bool { return name == "path" }
	r := New(fsys, builtins)

	res, err := r.Resolve("/app", "node:path")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Kind != KindBuiltin || res.Path != "path" {
		t.Fatalf("got %+v", res)
	}
}

func TestResolveMissingModuleCachesNegative(t *testing.T) {
	fsys := newFixtureFS(t)
	fsys.MkdirSync("/app", true)
	r := New(fsys, noBuiltins)

	if _, err := r.Resolve("/app", "./nope"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := r.Resolve("/app", "./nope"); err == nil {
		t.Fatal("expected cached error on second call")
	}
}
