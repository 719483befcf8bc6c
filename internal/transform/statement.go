package transform

import "regexp"

// blockDeclStart matches the forms whose statement body is delimited by a
// brace block rather than a trailing semicolon: export function/class
// declarations (with or without "default", "async", or a generator "*").
var blockDeclStart = regexp.MustCompile(`^export\s+(default\s+)?(async\s+)?(function\*?|class)\b`)

// isBlockDeclaration reports whether the statement starting at start reads
// as one of the brace-delimited forms above, so readStatement knows whether
// a depth-0 "}" ends the statement or is just an object/array literal
// closing mid-expression.
func isBlockDeclaration(source string, start int) bool {
	end := start + 200
	if end > len(source) {
		end = len(source)
	}
	return blockDeclStart.MatchString(source[start:end])
}

// readStatement scans source starting at start (which must point at the
// first character of an import/export keyword) and returns the exclusive
// end index of the statement. For brace-delimited declarations (function
// and class bodies) it stops just past the matching closing brace; for
// every other form it stops just past a depth-0 semicolon, or at a depth-0
// newline when no semicolon follows (ASI).
func readStatement(source string, start int) int {
	blockForm := isBlockDeclaration(source, start)
	i := start
	n := len(source)
	depth := 0
	for i < n {
		c := source[i]
		switch c {
		case '/':
			if i+1 < n && source[i+1] == '/' {
				for i < n && source[i] != '\n' {
					i++
				}
				continue
			}
			if i+1 < n && source[i+1] == '*' {
				i += 2
				for i+1 < n && !(source[i] == '*' && source[i+1] == '/') {
					i++
				}
				i = min(i+2, n)
				continue
			}
			i++
		case '"', '\'', '`':
			quote := c
			i++
			for i < n && source[i] != quote {
				if source[i] == '\\' && i+1 < n {
					i += 2
					continue
				}
				i++
			}
			i = min(i+1, n)
		case '(', '[', '{':
			depth++
			i++
		case ')', ']':
			depth--
			i++
		case '}':
			depth--
			i++
			if blockForm && depth == 0 {
				return i
			}
		case ';':
			if depth == 0 {
				return i + 1
			}
			i++
		case '\n':
			if depth == 0 && !blockForm {
				return i
			}
			i++
		default:
			i++
		}
	}
	return n
}
