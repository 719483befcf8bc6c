package transform

import (
	"regexp"
	"strings"
)

var (
	reSideEffectImport  = regexp.MustCompile(`^import\s*["']([^"']+)["']\s*;?\s*$`)
	reNamespaceImport   = regexp.MustCompile(`^import\s*\*\s*as\s+([\w$]+)\s+from\s*["']([^"']+)["']\s*;?\s*$`)
	reDefaultNamedImport = regexp.MustCompile(`(?s)^import\s+([\w$]+)\s*,\s*\{(.*)\}\s*from\s*["']([^"']+)["']\s*;?\s*$`)
	reDefaultNsImport   = regexp.MustCompile(`^import\s+([\w$]+)\s*,\s*\*\s*as\s+([\w$]+)\s+from\s*["']([^"']+)["']\s*;?\s*$`)
	reDefaultImport     = regexp.MustCompile(`^import\s+([\w$]+)\s+from\s*["']([^"']+)["']\s*;?\s*$`)
	reNamedImport       = regexp.MustCompile(`(?s)^import\s*\{(.*)\}\s*from\s*["']([^"']+)["']\s*;?\s*$`)

	reExportDefaultBlock = regexp.MustCompile(`^export\s+default\s+(async\s+function\*?|function\*?|class)(\s+([\w$]+))?`)
	reExportDefaultExpr  = regexp.MustCompile(`(?s)^export\s+default\s+(.*?);?\s*$`)
	reExportDecl         = regexp.MustCompile(`^export\s+(const|let|var)\s+`)
	reExportBlock        = regexp.MustCompile(`^export\s+(async\s+function\*?|function\*?|class)\s+([\w$]+)`)
	reExportStarAs       = regexp.MustCompile(`^export\s*\*\s*as\s+([\w$]+)\s+from\s*["']([^"']+)["']\s*;?\s*$`)
	reExportStar         = regexp.MustCompile(`^export\s*\*\s*from\s*["']([^"']+)["']\s*;?\s*$`)
	reExportListFrom     = regexp.MustCompile(`(?s)^export\s*\{(.*)\}\s*from\s*["']([^"']+)["']\s*;?\s*$`)
	reExportList         = regexp.MustCompile(`(?s)^export\s*\{(.*)\}\s*;?\s*$`)
)

// rewriteDeclarations finds every top-level import/export statement and
// rewrites it to an equivalent CommonJS form: require() calls for imports,
// exports/module.exports assignments for exports. hasExport reports whether
// any export form was seen, which gates the __esModule marker prefix.
func rewriteDeclarations(source string) (string, bool) {
	var b strings.Builder
	hasExport := false
	i := 0
	n := len(source)
	for i < n {
		if !atKeywordBoundary(source, i, "import") && !atKeywordBoundary(source, i, "export") {
			b.WriteByte(source[i])
			i++
			continue
		}
		end := readStatement(source, i)
		stmt := strings.TrimSpace(source[i:end])

		if strings.HasPrefix(stmt, "export") {
			hasExport = true
			b.WriteString(rewriteExportStatement(stmt))
		} else {
			b.WriteString(rewriteImportStatement(stmt))
		}
		i = end
	}
	return b.String(), hasExport
}

func atKeywordBoundary(source string, i int, kw string) bool {
	if i+len(kw) > len(source) {
		return false
	}
	if source[i:i+len(kw)] != kw {
		return false
	}
	if identBoundaryBefore(source, i) {
		return false
	}
	after := i + len(kw)
	if identBoundaryAt(source, after) {
		return false
	}
	return true
}

func rewriteImportStatement(stmt string) string {
	if m := reDefaultNsImport.FindStringSubmatch(stmt); m != nil {
		return "const " + m[2] + " = require(\"" + m[3] + "\"); const " + m[1] + " = __esmDefault(" + m[2] + ");"
	}
	if m := reDefaultNamedImport.FindStringSubmatch(stmt); m != nil {
		return "const " + m[1] + " = __esmDefault(require(\"" + m[3] + "\")); " + destructure(m[2], "require(\""+m[3]+"\")")
	}
	if m := reNamespaceImport.FindStringSubmatch(stmt); m != nil {
		return "const " + m[1] + " = require(\"" + m[2] + "\");"
	}
	if m := reDefaultImport.FindStringSubmatch(stmt); m != nil {
		return "const " + m[1] + " = __esmDefault(require(\"" + m[2] + "\"));"
	}
	if m := reNamedImport.FindStringSubmatch(stmt); m != nil {
		return destructure(m[1], "require(\""+m[2]+"\")")
	}
	if m := reSideEffectImport.FindStringSubmatch(stmt); m != nil {
		return "require(\"" + m[1] + "\");"
	}
	return stmt // unrecognized import form: leave untouched (best-effort)
}

// destructure turns "a, b as c" into "const { a, b: c } = src;" (src is
// inserted as a JavaScript expression, not quoted as a string literal).
func destructure(names, src string) string {
	parts := splitTopLevel(names)
	var decls []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if idx := strings.Index(p, " as "); idx >= 0 {
			orig := strings.TrimSpace(p[:idx])
			alias := strings.TrimSpace(p[idx+4:])
			decls = append(decls, orig+": "+alias)
		} else {
			decls = append(decls, p)
		}
	}
	return "const { " + strings.Join(decls, ", ") + " } = " + src + ";"
}

func splitTopLevel(s string) []string {
	var out []string
	depth := 0
	last := 0
	for i, r := range s {
		switch r {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, s[last:i])
				last = i + 1
			}
		}
	}
	out = append(out, s[last:])
	return out
}

func rewriteExportStatement(stmt string) string {
	if m := reExportDefaultBlock.FindStringSubmatch(stmt); m != nil {
		name := m[3]
		rest := stmt[len(m[0]):]
		if name == "" {
			// anonymous default function/class: wrap so it has a name we
			// can reference for the exports assignment.
			return "exports.default = (" + m[1] + " " + rest + ");"
		}
		return m[1] + " " + name + rest + "\nexports.default = " + name + ";"
	}
	if m := reExportDefaultExpr.FindStringSubmatch(stmt); m != nil {
		return "exports.default = " + m[1] + ";"
	}
	if m := reExportBlock.FindStringSubmatch(stmt); m != nil {
		kw, name := m[1], m[2]
		rest := stmt[len("export "):]
		_ = kw
		return rest + "\nexports." + name + " = " + name + ";"
	}
	if m := reExportDecl.FindStringSubmatch(stmt); m != nil {
		body := stmt[len("export "):]
		declList := body[len(m[1]):]
		names := declaratorNames(declList)
		var exportsList strings.Builder
		for _, name := range names {
			exportsList.WriteString("exports." + name + " = " + name + "; ")
		}
		return body + "\n" + exportsList.String()
	}
	if m := reExportStarAs.FindStringSubmatch(stmt); m != nil {
		return "exports." + m[1] + " = require(\"" + m[2] + "\");"
	}
	if m := reExportStar.FindStringSubmatch(stmt); m != nil {
		return "__esmReexportStar(exports, require(\"" + m[1] + "\"));"
	}
	if m := reExportListFrom.FindStringSubmatch(stmt); m != nil {
		return exportListFrom(m[1], m[2])
	}
	if m := reExportList.FindStringSubmatch(stmt); m != nil {
		return exportList(m[1])
	}
	return stmt // unrecognized export form: leave untouched (best-effort)
}

func exportList(names string) string {
	var b strings.Builder
	for _, p := range splitTopLevel(names) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		local, exported := p, p
		if idx := strings.Index(p, " as "); idx >= 0 {
			local = strings.TrimSpace(p[:idx])
			exported = strings.TrimSpace(p[idx+4:])
		}
		b.WriteString("exports." + exported + " = " + local + "; ")
	}
	return b.String()
}

func exportListFrom(names, from string) string {
	var b strings.Builder
	for _, p := range splitTopLevel(names) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		local, exported := p, p
		if idx := strings.Index(p, " as "); idx >= 0 {
			local = strings.TrimSpace(p[:idx])
			exported = strings.TrimSpace(p[idx+4:])
		}
		b.WriteString("exports." + exported + " = require(\"" + from + "\")." + local + "; ")
	}
	return b.String()
}

// declaratorNames extracts the bound identifier of each top-level
// declarator in "a = 1, b = {}, c" (simple identifiers only; destructuring
// patterns are skipped, so their bindings are not exported).
func declaratorNames(declList string) []string {
	var names []string
	for _, part := range splitTopLevel(declList) {
		part = strings.TrimSpace(part)
		if part == "" || strings.HasPrefix(part, "{") || strings.HasPrefix(part, "[") {
			continue
		}
		name := part
		if idx := strings.Index(part, "="); idx >= 0 {
			name = strings.TrimSpace(part[:idx])
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
