package runtime

import (
	"path"
	"strings"

	"github.com/dop251/goja"
	nodeurl "github.com/dop251/goja_nodejs/url"

	"github.com/esmkit/esmkit/internal/logx"
)

// interceptedNames are always routed to a builtin shim even when an
// installed package of the same name exists in node_modules, per spec
// §4.3: native-binary-bearing build tools and similarly host-sensitive
// packages never run their real implementation inside the runtime.
var interceptedNames = map[string]bool{
	"esbuild":  true,
	"prettier": true,
	"sharp":    true,
	"fsevents": true,
}

// builtinAliases maps subpath forms to their canonical builtin name.
var builtinAliases = map[string]string{
	"path/posix":      "path",
	"path/win32":      "path",
	"util/types":      "util",
	"timers/promises": "timers",
	"fs/promises":     "fs",
}

func canonicalBuiltinName(name string) string {
	if alias, ok := builtinAliases[name]; ok {
		return alias
	}
	return name
}

// isBuiltin reports whether name names a registered builtin module or an
// intercepted package name, used as the loader.BuiltinLookup.
func (r *Runtime) isBuiltin(name string) bool {
	name = canonicalBuiltinName(name)
	if interceptedNames[name] {
		return true
	}
	switch name {
	case "fs", "process", "module":
		return true
	}
	_, ok := builtinFactories[name]
	return ok
}

// builtin returns the module value for a resolved builtin name.
func (r *Runtime) builtin(name string) (goja.Value, bool) {
	name = canonicalBuiltinName(name)
	if interceptedNames[name] {
		return r.interceptedStub(name), true
	}
	switch name {
	case "fs":
		return r.fsShim(), true
	case "process":
		return r.vm.ToValue(r.process), true
	case "module":
		return r.moduleShim(), true
	}
	factory, ok := builtinFactories[name]
	if !ok {
		return nil, false
	}
	return factory(r), true
}

// builtinFactories lists every stateless (not cwd/context-bound) builtin;
// fs/process/module are handled directly in builtin() since they close
// over runtime state.
var builtinFactories = map[string]func(r *Runtime) goja.Value{
	"path":   builtinPath,
	"util":   builtinUtil,
	"events": builtinEvents,
	"assert": builtinAssert,
	"os":     builtinOS,
	"buffer": builtinBuffer,
	"url":    builtinURL,
	"stream": builtinStream,
	"crypto": builtinCrypto,
	"timers": builtinTimers,
}

func (r *Runtime) interceptedStub(name string) goja.Value {
	obj := r.vm.NewObject()
	obj.Set("__intercepted__", true)
	throw := func(goja.FunctionCall) goja.Value {
		panic(r.vm.NewTypeError("%s is not available in this runtime (native module)", name))
	}
	for _, method := range []string{"build", "transform", "format", "default"} {
		obj.Set(method, throw)
	}
	return obj
}

func builtinPath(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("sep", "/")
	obj.Set("delimiter", ":")
	obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return vm.ToValue(path.Join(parts...))
	})
	obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return vm.ToValue(path.Clean("/" + path.Join(parts...)))
	})
	obj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Dir(call.Argument(0).String()))
	})
	obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		b := path.Base(call.Argument(0).String())
		if len(call.Arguments) > 1 {
			b = strings.TrimSuffix(b, call.Argument(1).String())
		}
		return vm.ToValue(b)
	})
	obj.Set("extname", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Ext(call.Argument(0).String()))
	})
	obj.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.HasPrefix(call.Argument(0).String(), "/"))
	})
	obj.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(path.Clean(call.Argument(0).String()))
	})
	return obj
}

func builtinUtil(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(call.Argument(0).String())
	})
	obj.Set("format", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, a := range call.Arguments {
			parts[i] = a.String()
		}
		return vm.ToValue(strings.Join(parts, " "))
	})
	obj.Set("promisify", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0) // best-effort: caller's fn is returned unchanged
	})
	types := vm.NewObject()
	obj.Set("types", types)
	return obj
}

func builtinEvents(r *Runtime) goja.Value {
	vm := r.vm
	src := `(function(){
		function EventEmitter(){ this._events = {}; }
		EventEmitter.prototype.on = function(name, fn){ (this._events[name] = this._events[name] || []).push(fn); return this; };
		EventEmitter.prototype.once = function(name, fn){ var self=this; function wrap(){ self.off(name, wrap); fn.apply(self, arguments); } this.on(name, wrap); return this; };
		EventEmitter.prototype.off = function(name, fn){ var l = this._events[name]; if (!l) return this; this._events[name] = l.filter(function(f){ return f !== fn; }); return this; };
		EventEmitter.prototype.emit = function(name){ var l = this._events[name]; if (!l) return false; var args = Array.prototype.slice.call(arguments, 1); l.slice().forEach(function(fn){ fn.apply(null, args); }); return true; };
		return { EventEmitter: EventEmitter, default: EventEmitter };
	})()`
	v, err := vm.RunString(src)
	if err != nil {
		logx.L.Errorf("[runtime] builtin events: %v", err)
		return vm.NewObject()
	}
	return v
}

func builtinAssert(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	fail := func(msg string) {
		panic(vm.NewGoError(errAssertion(msg)))
	}
	obj.Set("ok", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			fail("assertion failed")
		}
		return goja.Undefined()
	})
	obj.Set("equal", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).Equals(call.Argument(1)) {
			fail("values not equal")
		}
		return goja.Undefined()
	})
	return obj
}

type errAssertion string

func (e errAssertion) Error() string { return string(e) }

func builtinOS(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("platform", func(goja.FunctionCall) goja.Value { return vm.ToValue("linux") })
	obj.Set("EOL", "\n")
	obj.Set("tmpdir", func(goja.FunctionCall) goja.Value { return vm.ToValue("/tmp") })
	obj.Set("homedir", func(goja.FunctionCall) goja.Value { return vm.ToValue("/root") })
	return obj
}

func builtinBuffer(r *Runtime) goja.Value {
	return r.vm.NewObject() // empty placeholder: no Buffer implementation is installed in this runtime
}

func builtinURL(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("fileURLToPath", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(strings.TrimPrefix(call.Argument(0).String(), "file://"))
	})
	obj.Set("pathToFileURL", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue("file://" + call.Argument(0).String())
	})
	_ = nodeurl.Require // goja_nodejs's url module is imported but not registered; fileURLToPath/pathToFileURL above are the whole url surface
	return obj
}

func builtinStream(r *Runtime) goja.Value {
	return r.vm.NewObject()
}

func builtinCrypto(r *Runtime) goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("randomUUID", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(randomUUID())
	})
	return obj
}

func builtinTimers(r *Runtime) goja.Value {
	return r.vm.NewObject() // setTimeout/setInterval are already globals, installed in polyfills.go
}
