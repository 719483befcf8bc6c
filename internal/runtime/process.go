package runtime

import (
	"path"

	"github.com/dop251/goja"
)

// installProcess builds the process mirror of spec §4.5: cwd, env, argv
// placeholder, stdout/stderr sinks, and exit(code) raising ErrExit.
func (r *Runtime) installProcess(opts Options) {
	vm := r.vm
	p := vm.NewObject()
	p.Set("cwd", func(goja.FunctionCall) goja.Value { return vm.ToValue(r.cwd) })
	p.Set("argv", vm.ToValue([]string{"esmkit", "/index.js"}))
	p.Set("platform", vm.ToValue("linux"))
	p.Set("version", vm.ToValue("v20.0.0-esmkit"))

	env := vm.NewObject()
	for k, v := range opts.Env {
		env.Set(k, v)
	}
	p.Set("env", env)

	stdout := vm.NewObject()
	stdout.Set("write", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		if opts.OnStdout != nil {
			opts.OnStdout(s)
		}
		return vm.ToValue(true)
	})
	p.Set("stdout", stdout)

	stderr := vm.NewObject()
	stderr.Set("write", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		if opts.OnStderr != nil {
			opts.OnStderr(s)
		}
		return vm.ToValue(true)
	})
	p.Set("stderr", stderr)

	p.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := 0
		if len(call.Arguments) > 0 {
			code = int(call.Argument(0).ToInteger())
		}
		panic(vm.NewGoError(&ErrExit{Code: code}))
	})

	listeners := map[string][]goja.Callable{}
	p.Set("on", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if fn, ok := goja.AssertFunction(call.Argument(1)); ok {
			listeners[name] = append(listeners[name], fn)
		}
		return vm.ToValue(p)
	})

	r.process = p
	vm.Set("process", p)
	vm.Set("global", vm.GlobalObject())
	vm.Set("globalThis", vm.GlobalObject())
}

// fsShim returns an fs-module value closed over the runtime's VFS and cwd,
// per spec §4.3's "the fs shim closed over the runtime's cwd".
func (r *Runtime) fsShim() goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	resolvePath := func(p string) string {
		if len(p) > 0 && p[0] == '/' {
			return p
		}
		return r.cwd + "/" + p
	}
	obj.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		p := resolvePath(call.Argument(0).String())
		enc := ""
		if len(call.Arguments) > 1 {
			enc = call.Argument(1).String()
		}
		data, err := r.fs.ReadFileSync(p, enc)
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(data)
	})
	obj.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		p := resolvePath(call.Argument(0).String())
		if err := r.fs.WriteFileSync(p, call.Argument(1).String()); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	obj.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(r.fs.ExistsSync(resolvePath(call.Argument(0).String())))
	})
	obj.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		recursive := false
		if len(call.Arguments) > 1 {
			if opts, ok := call.Argument(1).(*goja.Object); ok {
				recursive = opts.Get("recursive").ToBoolean()
			}
		}
		if err := r.fs.MkdirSync(resolvePath(call.Argument(0).String()), recursive); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})
	obj.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		names, err := r.fs.ReaddirSync(resolvePath(call.Argument(0).String()))
		if err != nil {
			panic(vm.NewGoError(err))
		}
		return vm.ToValue(names)
	})
	return obj
}

// moduleShim returns the "module" builtin, exposing createRequire per
// spec §4.3.
func (r *Runtime) moduleShim() goja.Value {
	vm := r.vm
	obj := vm.NewObject()
	obj.Set("createRequire", func(call goja.FunctionCall) goja.Value {
		root := stripFileScheme(call.Argument(0).String())
		if path.Ext(root) != "" {
			root = path.Dir(root)
		}
		fn := func(inner goja.FunctionCall) goja.Value {
			v, err := r.requireFromDir(root, inner.Argument(0).String())
			if err != nil {
				panic(vm.NewGoError(err))
			}
			return v
		}
		return vm.ToValue(fn)
	})
	return obj
}

func stripFileScheme(s string) string {
	const prefix = "file://"
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}
