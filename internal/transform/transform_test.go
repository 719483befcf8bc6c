package transform

import "testing"

func TestTransformPlainCommonJSIsNoOp(t *testing.T) {
	src := `const fs = require("fs");\nmodule.exports = fs;`
	out, err := New().Transform(src, "index.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out != src {
		t.Fatalf("expected no-op, got %q", out)
	}
}

func TestTransformExportDefaultLiteral(t *testing.T) {
	out, err := New().Transform(`export default 42;`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !contains(out, "exports.default = 42;") {
		t.Fatalf("missing default export assignment, got %q", out)
	}
	if !contains(out, `"__esModule"`) {
		t.Fatalf("missing __esModule marker, got %q", out)
	}
}

func TestTransformNamedExportConst(t *testing.T) {
	out, err := New().Transform(`export const a = 1, b = 2;`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	for _, want := range []string{"const a = 1, b = 2;", "exports.a = a;", "exports.b = b;"} {
		if !contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestTransformNamedImport(t *testing.T) {
	out, err := New().Transform(`import { readFile, writeFile as wf } from "fs";`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !contains(out, `require("fs")`) {
		t.Fatalf("missing require, got %q", out)
	}
	if !contains(out, "writeFile: wf") {
		t.Fatalf("missing aliased destructure, got %q", out)
	}
}

func TestTransformNamespaceImport(t *testing.T) {
	out, err := New().Transform(`import * as path from "path";`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !contains(out, `const path = require("path");`) {
		t.Fatalf("got %q", out)
	}
}

func TestTransformReexportStar(t *testing.T) {
	out, err := New().Transform(`export * from "./utils.js";`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !contains(out, `require("./utils.js")`) {
		t.Fatalf("got %q", out)
	}
}

func TestTransformIsIdempotentOnRewrittenOutput(t *testing.T) {
	out1, err := New().Transform(`export const x = 1;`, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	out2, err := New().Transform(out1, "mod.js")
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out1 != out2 {
		t.Fatalf("not idempotent: %q vs %q", out1, out2)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
