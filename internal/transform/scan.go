package transform

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/rangetable"
)

// identRunes is the merged Unicode range table covering every category
// ECMAScript's IdentifierStart/IdentifierPart grammar admits beyond ASCII
// (so `import émoji from "x"` or a CJK-named export is recognized at its
// true rune boundary, not split mid-character by a byte-only ASCII
// check).
var identRunes = rangetable.Merge(
	unicode.Lu, unicode.Ll, unicode.Lt, unicode.Lm, unicode.Lo, unicode.Nl,
	unicode.Mn, unicode.Mc, unicode.Nd, unicode.Pc,
)

// mask marks every byte index that falls inside a string literal, template
// literal, line comment, or block comment, so the pattern scanners below
// never rewrite text that merely looks like import.meta/dynamic-import
// inside a string (a best-effort guard matching the spec's own admission
// that string/comment-awareness is an approximation without a full AST).
func mask(src string) []bool {
	masked := make([]bool, len(src))
	i := 0
	n := len(src)
	for i < n {
		c := src[i]
		switch {
		case c == '/' && i+1 < n && src[i+1] == '/':
			start := i
			for i < n && src[i] != '\n' {
				i++
			}
			markRange(masked, start, i)
		case c == '/' && i+1 < n && src[i+1] == '*':
			start := i
			i += 2
			for i+1 < n && !(src[i] == '*' && src[i+1] == '/') {
				i++
			}
			i = min(i+2, n)
			markRange(masked, start, i)
		case c == '"' || c == '\'' || c == '`':
			quote := c
			start := i
			i++
			for i < n && src[i] != quote {
				if src[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				i++
			}
			i = min(i+1, n)
			markRange(masked, start, i)
		default:
			i++
		}
	}
	return masked
}

func markRange(masked []bool, start, end int) {
	for i := start; i < end && i < len(masked); i++ {
		masked[i] = true
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isIdentChar(b byte) bool {
	return b == '_' || b == '$' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// isIdentRune reports whether r can appear in a JS identifier.
func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.Is(identRunes, r)
}

// identBoundaryBefore reports whether the character immediately before
// byte offset i in source is part of an identifier, decoding a full rune
// when i sits past a multi-byte UTF-8 sequence instead of inspecting a
// lone continuation byte.
func identBoundaryBefore(source string, i int) bool {
	if i <= 0 {
		return false
	}
	if source[i-1] < utf8.RuneSelf {
		return isIdentChar(source[i-1])
	}
	r, _ := utf8.DecodeLastRuneInString(source[:i])
	return isIdentRune(r)
}

// identBoundaryAt reports whether the character at byte offset i in
// source is part of an identifier.
func identBoundaryAt(source string, i int) bool {
	if i >= len(source) {
		return false
	}
	if source[i] < utf8.RuneSelf {
		return isIdentChar(source[i])
	}
	r, _ := utf8.DecodeRuneInString(source[i:])
	return isIdentRune(r)
}
