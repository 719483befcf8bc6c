package runtime

import (
	"strings"

	"github.com/dop251/goja"
)

// installConsole installs a console global forwarding to opts.OnConsole,
// falling back to stdout/stderr sinks when unset.
func (r *Runtime) installConsole(opts Options) {
	r.vm.Set("console", r.consoleValue())
	r.consoleOpts = opts
}

func (r *Runtime) consoleValue() goja.Value {
	if r.consoleObj != nil {
		return r.consoleObj
	}
	vm := r.vm
	obj := vm.NewObject()
	logFn := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			line := strings.Join(parts, " ")
			if r.consoleOpts.OnConsole != nil {
				args := make([]any, len(call.Arguments))
				for i, a := range call.Arguments {
					args[i] = a.Export()
				}
				r.consoleOpts.OnConsole(level, args...)
				return goja.Undefined()
			}
			if level == "error" || level == "warn" {
				if r.consoleOpts.OnStderr != nil {
					r.consoleOpts.OnStderr(line + "\n")
				}
			} else if r.consoleOpts.OnStdout != nil {
				r.consoleOpts.OnStdout(line + "\n")
			}
			return goja.Undefined()
		}
	}
	obj.Set("log", logFn("log"))
	obj.Set("info", logFn("info"))
	obj.Set("warn", logFn("warn"))
	obj.Set("error", logFn("error"))
	obj.Set("debug", logFn("debug"))
	r.consoleObj = obj
	return obj
}
