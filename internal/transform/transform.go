// Package transform rewrites ECMAScript-module sources to CommonJS at
// load time, per spec §4.4. It also unconditionally rewrites import.meta
// and dynamic import(...) regardless of whether the source has any static
// import/export declarations.
//
// Detection of whether a source is CommonJS or ESM is grounded on the
// teacher's own use of github.com/ije/esbuild-internal's js_parser/js_ast in
// js.go's validateJSFile: the same Parse call and the same ExportsKind field
// gate this package's rewrite passes. Exported names are taken from the
// statement text, not from the AST.
package transform

import (
	"fmt"
	"regexp"
	"strings"

	esbuild_config "github.com/ije/esbuild-internal/config"
	"github.com/ije/esbuild-internal/js_ast"
	"github.com/ije/esbuild-internal/js_parser"
	"github.com/ije/esbuild-internal/logger"
)

// Transformer runs the ESM->CJS pass. The zero value is ready to use.
type Transformer struct{}

// New returns a Transformer.
func New() *Transformer { return &Transformer{} }

var importExportToken = regexp.MustCompile(`\b(import|export)\b`)

// Transform rewrites source per §4.4's pipeline. filename only affects
// JSX/TS dialect detection for the gating parse; the rewrite itself is
// dialect-agnostic.
func (t *Transformer) Transform(source, filename string) (string, error) {
	if !hasImportOrExportToken(source) {
		return source, nil // correctness contract: a no-op for plain CommonJS
	}

	out := rewriteMetaAndDynamicImport(source)

	isESM, pass := parseForExportsKind(out, filename)
	if !pass {
		rewritten, err := t.regexFallback(out)
		if err != nil {
			return "", fmt.Errorf("transform %s: %w", filename, err)
		}
		return rewritten, nil
	}
	if !isESM {
		return out, nil // parses as a script; no declarations to rewrite
	}

	rewritten, hasExport := rewriteDeclarations(out)
	if hasExport {
		rewritten = esModuleMarker + rewritten
	}
	return rewritten, nil
}

const esModuleMarker = "Object.defineProperty(exports, \"__esModule\", {value: true});\n"

// regexFallback handles sources the esbuild-internal parser rejects (for
// example partially-transpiled or exotic dialects the gating parse doesn't
// recognize). It runs the same statement-level rewriter as the AST-gated
// path, trusting the import/export token scan instead of a parsed
// ExportsKind to decide whether anything needs rewriting.
func (t *Transformer) regexFallback(source string) (string, error) {
	rewritten, hasExport := rewriteDeclarations(source)
	if hasExport {
		rewritten = esModuleMarker + rewritten
	}
	return rewritten, nil
}

func hasImportOrExportToken(source string) bool {
	masked := mask(source)
	for _, loc := range importExportToken.FindAllStringIndex(source, -1) {
		if !loc0Masked(masked, loc[0]) {
			return true
		}
	}
	return false
}

func loc0Masked(masked []bool, i int) bool {
	return i < len(masked) && masked[i]
}

// parseForExportsKind runs the real esbuild-internal parser (as js.go's
// validateJSFile does) purely to learn whether the source has top-level
// import/export declarations; it is not used to print the rewrite, since a
// full AST-driven printer would reformat the whole file rather than
// minimally rewriting it (see DESIGN.md).
func parseForExportsKind(source, filename string) (isESM bool, pass bool) {
	log := logger.NewDeferLog(logger.DeferLogNoVerboseOrDebug, nil)
	parserOpts := js_parser.OptionsFromConfig(&esbuild_config.Options{
		JSX: esbuild_config.JSXOptions{Parse: endsWithAny(filename, ".jsx", ".tsx")},
		TS:  esbuild_config.TSOptions{Parse: endsWithAny(filename, ".ts", ".mts", ".cts", ".tsx")},
	})
	ast, ok := js_parser.Parse(log, logger.Source{
		Index:          0,
		KeyPath:        logger.Path{Text: filename},
		PrettyPath:     filename,
		Contents:       source,
		IdentifierName: "module",
	}, parserOpts)
	if !ok {
		return false, false
	}
	return ast.ExportsKind == js_ast.ExportsESM, true
}

func endsWithAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// rewriteMetaAndDynamicImport rewrites every import.meta meta-property to
// the injected import_meta variable, and every dynamic import(...) call's
// leading "import" to "__dynamicImport", applying replacements from
// highest span-start to lowest so earlier positions stay valid.
func rewriteMetaAndDynamicImport(source string) string {
	masked := mask(source)
	type span struct {
		start, end int
		replace    string
	}
	var spans []span

	for i := 0; i+6 <= len(source); i++ {
		if loc0Masked(masked, i) {
			continue
		}
		if source[i:i+6] != "import" {
			continue
		}
		if identBoundaryBefore(source, i) {
			continue
		}
		after := i + 6
		// import.meta
		if strings.HasPrefix(source[after:], ".meta") && !identBoundaryAt(source, after+5) {
			spans = append(spans, span{start: i, end: after + 5, replace: "import_meta"})
			continue
		}
		// dynamic import(...)
		j := after
		for j < len(source) && (source[j] == ' ' || source[j] == '\t' || source[j] == '\n' || source[j] == '\r') {
			j++
		}
		if j < len(source) && source[j] == '(' {
			spans = append(spans, span{start: i, end: after, replace: "__dynamicImport"})
		}
	}

	for idx := len(spans) - 1; idx >= 0; idx-- {
		s := spans[idx]
		source = source[:s.start] + s.replace + source[s.end:]
	}
	return source
}
