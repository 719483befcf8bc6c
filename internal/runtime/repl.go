package runtime

import (
	"fmt"
	"regexp"

	"github.com/dop251/goja"
)

// REPL evaluates successive snippets against one shared goja.Runtime,
// persisting bindings across calls. Per spec §9's own design note, this is
// expressed directly as "the REPL owns a mutable environment shared across
// all eval calls, with const/let promoted to mutable bindings" rather than
// JavaScript's generator-trick: goja is embedded from Go, so there is no
// enclosing generator to suspend, and a persistent *goja.Runtime already
// gives the same cross-call binding survival.
type REPL struct {
	rt *Runtime
}

// CreateREPL returns a REPL sharing rt's goja.Runtime and module cache.
func (rt *Runtime) CreateREPL() *REPL {
	return &REPL{rt: rt}
}

var declKeyword = regexp.MustCompile(`\b(const|let)\b`)

// Eval hoists const/let to var (so bindings persist as properties of the
// shared global-like scope across calls), then evaluates source first as a
// parenthesized expression and, on a syntax failure, as a statement list.
// The return value is the last expression's value.
func (repl *REPL) Eval(source string) (goja.Value, error) {
	hoisted := declKeyword.ReplaceAllString(source, "var")

	if v, err := repl.rt.vm.RunString("(" + hoisted + ")"); err == nil {
		return v, nil
	}
	v, err := repl.rt.vm.RunString(hoisted)
	if err != nil {
		return nil, fmt.Errorf("repl eval: %w", err)
	}
	return v, nil
}
