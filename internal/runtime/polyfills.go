package runtime

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/dop251/goja"
)

// installPolyfills installs the host polyfills of spec §4.5, idempotently
// (a global already defined by goja_nodejs or the embedding host is left
// alone).
func (r *Runtime) installPolyfills() {
	vm := r.vm
	absent := func(v goja.Value) bool { return v == nil || goja.IsUndefined(v) }
	if absent(vm.Get("setTimeout")) {
		r.installTimers()
	}
	if errorCtor, ok := vm.Get("Error").(*goja.Object); ok && absent(errorCtor.Get("captureStackTrace")) {
		r.installErrorStackPolyfill()
	}
	if absent(vm.Get("TextDecoder")) {
		r.installTextDecoder()
	}

	if vm.Get("setImmediate") == nil || goja.IsUndefined(vm.Get("setImmediate")) {
		vm.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
			fn, ok := goja.AssertFunction(call.Argument(0))
			if !ok {
				return goja.Undefined()
			}
			fn(goja.Undefined())
			return vm.ToValue(timerHandle{})
		})
		vm.Set("clearImmediate", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	}
}

// timerHandle is the value returned by the setImmediate fallback.
// setTimeout/setInterval instead return the objects built by installTimers's
// wrapHandle, which expose ref/unref/hasRef/refresh plus valueOf/toString
// yielding the numeric id; no Symbol.toPrimitive method is defined.
type timerHandle struct {
	id int64
}

func (r *Runtime) installTimers() {
	vm := r.vm
	var nextID int64
	active := map[int64]bool{}

	wrapHandle := func(id int64) *goja.Object {
		obj := vm.NewObject()
		obj.Set("ref", func(goja.FunctionCall) goja.Value { return obj })
		obj.Set("unref", func(goja.FunctionCall) goja.Value { return obj })
		obj.Set("hasRef", func(goja.FunctionCall) goja.Value { return vm.ToValue(active[id]) })
		obj.Set("refresh", func(goja.FunctionCall) goja.Value { return obj })
		// valueOf/toString stand in for Symbol.toPrimitive: code that uses a
		// timer handle in a numeric or string context still gets the
		// underlying id rather than crashing on an unsupported conversion.
		obj.Set("valueOf", func(goja.FunctionCall) goja.Value { return vm.ToValue(id) })
		obj.Set("toString", func(goja.FunctionCall) goja.Value { return vm.ToValue(fmt.Sprintf("%d", id)) })
		return obj
	}

	makeTimer := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		nextID++
		id := nextID
		active[id] = true
		if ok {
			args := make([]goja.Value, 0)
			if len(call.Arguments) > 2 {
				args = call.Arguments[2:]
			}
			fn(goja.Undefined(), args...)
		}
		return vm.ToValue(wrapHandle(id))
	}
	vm.Set("setTimeout", makeTimer)
	vm.Set("setInterval", makeTimer)

	clear := func(call goja.FunctionCall) goja.Value {
		id := unwrapHandle(call.Argument(0))
		delete(active, id)
		return goja.Undefined()
	}
	vm.Set("clearTimeout", clear)
	vm.Set("clearInterval", clear)
}

func unwrapHandle(v goja.Value) int64 {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return v.ToInteger()
}

// installErrorStackPolyfill installs Error.captureStackTrace and
// Error.prepareStackTrace and sets Error.stackTraceLimit to 10.
// captureStackTrace sets the target's stack to an empty string;
// prepareStackTrace formats the message plus each given frame's toString().
// No stack string is parsed and no CallSite objects are built.
func (r *Runtime) installErrorStackPolyfill() {
	vm := r.vm
	errorCtor, ok := vm.Get("Error").(*goja.Object)
	if !ok {
		return
	}
	errorCtor.Set("stackTraceLimit", 10)
	errorCtor.Set("captureStackTrace", func(call goja.FunctionCall) goja.Value {
		target, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return goja.Undefined()
		}
		target.Set("stack", "")
		return goja.Undefined()
	})
	errorCtor.Set("prepareStackTrace", func(call goja.FunctionCall) goja.Value {
		errVal := call.Argument(0)
		frames := call.Argument(1)
		message := ""
		if obj, ok := errVal.(*goja.Object); ok {
			message = obj.Get("message").String()
		}
		return vm.ToValue(message + "\n" + callSitesToString(frames))
	})
}

func callSitesToString(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return ""
	}
	out := ""
	length := int(obj.Get("length").ToInteger())
	for i := 0; i < length; i++ {
		cs, ok := obj.Get(fmt.Sprintf("%d", i)).(*goja.Object)
		if !ok {
			continue
		}
		if toString, ok := goja.AssertFunction(cs.Get("toString")); ok {
			if s, err := toString(cs); err == nil {
				out += "    at " + s.String() + "\n"
			}
		}
	}
	return out
}

// installTextDecoder installs a TextDecoder wrapper that routes
// base64/base64url/hex through manual converters and delegates other
// encodings to the host (goja's own string handling).
func (r *Runtime) installTextDecoder() {
	vm := r.vm
	ctor := func(call goja.ConstructorCall) *goja.Object {
		encoding := "utf-8"
		if len(call.Arguments) > 0 {
			encoding = call.Argument(0).String()
		}
		obj := call.This
		obj.Set("encoding", encoding)
		obj.Set("decode", func(inner goja.FunctionCall) goja.Value {
			raw := inner.Argument(0).Export()
			b, _ := raw.([]byte)
			switch encoding {
			case "base64":
				decoded, err := base64.StdEncoding.DecodeString(string(b))
				if err != nil {
					return vm.ToValue("")
				}
				return vm.ToValue(string(decoded))
			case "base64url":
				decoded, err := base64.URLEncoding.DecodeString(string(b))
				if err != nil {
					return vm.ToValue("")
				}
				return vm.ToValue(string(decoded))
			case "hex":
				decoded, err := hex.DecodeString(string(b))
				if err != nil {
					return vm.ToValue("")
				}
				return vm.ToValue(string(decoded))
			default:
				return vm.ToValue(string(b))
			}
		})
		return nil
	}
	vm.Set("TextDecoder", ctor)
}
