package sandbox

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dop251/goja"
	"golang.org/x/net/html"

	"github.com/use-agent/purify/cookiejar"
	"github.com/use-agent/purify/httpclient"
)

// env installs the strict capability whitelist from §4.5 into a goja VM:
// window/document/location/navigator/history stubs, fetch/XHR routed
// through the HTTP Client and Cookie Jar, in-memory storage, timers, and
// inert stubs for observers Worker/WebSocket refuse to construct.
//
// Grounded on ghostfetch's solver.go setupGlobals, generalized from a
// single-purpose challenge-cookie interceptor into the full whitelist.
type env struct {
	ctx    context.Context
	vm     *goja.Runtime
	dom    *document
	http   *httpclient.Client
	jar    *cookiejar.Jar
	url    *url.URL
	timers *timerQueue

	localStorage   map[string]string
	sessionStorage map[string]string
}

func (r *Runtime) newEnv(ctx context.Context, pageURL string, dom *document, vm *goja.Runtime) *env {
	parsed, _ := url.Parse(pageURL)
	return &env{
		ctx:            ctx,
		vm:             vm,
		dom:            dom,
		http:           r.http,
		jar:            r.jar,
		url:            parsed,
		timers:         &timerQueue{},
		localStorage:   make(map[string]string),
		sessionStorage: make(map[string]string),
	}
}

func (e *env) install() {
	vm := e.vm

	vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			panic(vm.NewTypeError("invalid base64"))
		}
		return vm.ToValue(string(decoded))
	})
	vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})

	e.installTimers()
	e.installConsole()
	e.installStorage()
	e.installDocument()
	e.installWindowAndNavigator()
	e.installNetwork()
	e.installURLHelpers()
	e.installInertStubs()
}

func (e *env) installTimers() {
	vm := e.vm
	// runTimer bounds one queued callback by perScriptTimeout.
	runTimer := func(fn goja.Callable, args ...goja.Value) {
		t := time.AfterFunc(perScriptTimeout, func() { vm.Interrupt("timer timeout") })
		defer t.Stop()
		_, _ = fn(goja.Undefined(), args...)
	}
	vm.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		e.timers.push(func() { runTimer(fn) })
		return vm.ToValue(0)
	})
	vm.Set("clearTimeout", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	// setInterval is a no-op per §4.5.
	vm.Set("setInterval", func(call goja.FunctionCall) goja.Value { return vm.ToValue(0) })
	vm.Set("clearInterval", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	// requestAnimationFrame ~= setTimeout(cb, 16).
	vm.Set("requestAnimationFrame", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return vm.ToValue(0)
		}
		e.timers.push(func() { runTimer(fn, vm.ToValue(float64(time.Now().UnixMilli()))) })
		return vm.ToValue(0)
	})
}

func (e *env) installConsole() {
	vm := e.vm
	console := vm.NewObject()
	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	console.Set("log", noop)
	console.Set("warn", noop)
	console.Set("error", noop)
	console.Set("debug", noop)
	vm.Set("console", console)
}

func (e *env) installStorage() {
	vm := e.vm
	vm.Set("localStorage", e.storageObject(e.localStorage))
	vm.Set("sessionStorage", e.storageObject(e.sessionStorage))
}

func (e *env) storageObject(backing map[string]string) *goja.Object {
	vm := e.vm
	obj := vm.NewObject()
	obj.Set("getItem", func(call goja.FunctionCall) goja.Value {
		v, ok := backing[call.Argument(0).String()]
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	obj.Set("setItem", func(call goja.FunctionCall) goja.Value {
		backing[call.Argument(0).String()] = call.Argument(1).String()
		return goja.Undefined()
	})
	obj.Set("removeItem", func(call goja.FunctionCall) goja.Value {
		delete(backing, call.Argument(0).String())
		return goja.Undefined()
	})
	obj.Set("clear", func(call goja.FunctionCall) goja.Value {
		for k := range backing {
			delete(backing, k)
		}
		return goja.Undefined()
	})
	return obj
}

// installDocument wires document.cookie (via the Cookie Jar),
// getElementById/createElement/querySelector stubs, and title/body.
func (e *env) installDocument() {
	vm := e.vm
	doc := vm.NewObject()

	doc.Set("getElementById", func(call goja.FunctionCall) goja.Value {
		n := e.dom.byID(call.Argument(0).String())
		if n == nil {
			return goja.Null()
		}
		return e.wrapElement(n)
	})
	doc.Set("querySelector", func(call goja.FunctionCall) goja.Value { return goja.Null() })
	doc.Set("querySelectorAll", func(call goja.FunctionCall) goja.Value { return vm.NewArray() })
	doc.Set("getElementsByTagName", func(call goja.FunctionCall) goja.Value { return vm.NewArray() })
	doc.Set("createElement", func(call goja.FunctionCall) goja.Value {
		return e.wrapDetachedElement(call.Argument(0).String())
	})
	doc.Set("addEventListener", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	if b := e.dom.body(); b != nil {
		doc.Set("body", e.wrapElement(b))
	}

	vm.Set("document", doc)
	vm.Set("__setCookie", func(call goja.FunctionCall) goja.Value {
		e.setCookie(call.Argument(0).String())
		return goja.Undefined()
	})
	// document.cookie needs a getter/setter property, defined from script
	// since goja's Set API can't express accessor properties directly.
	_, _ = vm.RunString(`
		Object.defineProperty(document, "cookie", {
			get: function() { return __getCookie(); },
			set: function(v) { __setCookie(v); },
			configurable: true
		});
	`)
	vm.Set("__getCookie", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(e.getCookie())
	})
}

func (e *env) getCookie() string {
	if e.jar == nil || e.url == nil {
		return ""
	}
	return e.jar.CookieHeader(e.url)
}

func (e *env) setCookie(raw string) {
	if e.jar == nil || e.url == nil {
		return
	}
	resp := &http.Response{Header: http.Header{"Set-Cookie": {raw}}}
	e.jar.Ingest(e.url, resp)
}

// wrapElement exposes a live *html.Node through the element capability
// surface: getAttribute/setAttribute/innerHTML reach directly into the DOM
// so mutations survive into the post-script serialization.
func (e *env) wrapElement(n *html.Node) goja.Value {
	vm := e.vm
	obj := vm.NewObject()
	obj.Set("tagName", strings.ToUpper(n.Data))
	obj.Set("getAttribute", func(call goja.FunctionCall) goja.Value {
		v, ok := getAttr(n, call.Argument(0).String())
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(v)
	})
	obj.Set("setAttribute", func(call goja.FunctionCall) goja.Value {
		setAttr(n, call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	obj.Set("appendChild", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	})
	obj.Set("__getInnerHTML", func(goja.FunctionCall) goja.Value { return vm.ToValue(textContent(n)) })
	obj.Set("__setInnerHTML", func(call goja.FunctionCall) goja.Value {
		setInnerHTML(n, call.Argument(0).String())
		return goja.Undefined()
	})
	vm.Set("__defineTarget", obj)
	_, _ = vm.RunString(`
		Object.defineProperty(__defineTarget, "innerHTML", {
			get: function() { return this.__getInnerHTML(); },
			set: function(v) { this.__setInnerHTML(v); },
			configurable: true
		});
	`)
	return obj
}

// wrapDetachedElement backs document.createElement: the node is created
// but not attached to the tree, matching real DOM semantics until an
// appendChild call (not fully modeled here — scripts that build detached
// fragments and never insert them are common in challenge scripts and
// don't need tree attachment to have already run their side effects).
func (e *env) wrapDetachedElement(tag string) goja.Value {
	n := &html.Node{Type: html.ElementNode, Data: strings.ToLower(tag)}
	return e.wrapElement(n)
}

func (e *env) installWindowAndNavigator() {
	vm := e.vm
	window := vm.NewObject()
	loc := vm.NewObject()
	if e.url != nil {
		loc.Set("href", e.url.String())
		loc.Set("hostname", e.url.Hostname())
		loc.Set("pathname", e.url.Path)
		loc.Set("protocol", e.url.Scheme+":")
		loc.Set("host", e.url.Host)
		loc.Set("search", "?"+e.url.RawQuery)
		loc.Set("hash", e.url.Fragment)
	}
	window.Set("location", loc)
	window.Set("addEventListener", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	window.Set("innerWidth", vm.ToValue(1920))
	window.Set("innerHeight", vm.ToValue(1080))
	vm.Set("window", window)
	vm.Set("location", loc)

	navigator := vm.NewObject()
	navigator.Set("userAgent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
	navigator.Set("language", "en-US")
	navigator.Set("languages", vm.NewArray("en-US", "en"))
	navigator.Set("platform", "Win32")
	navigator.Set("webdriver", false)
	vm.Set("navigator", navigator)

	history := vm.NewObject()
	history.Set("pushState", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	history.Set("replaceState", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	history.Set("back", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("history", history)

	screen := vm.NewObject()
	screen.Set("width", 1920)
	screen.Set("height", 1080)
	vm.Set("screen", screen)

	perf := vm.NewObject()
	perf.Set("now", func(call goja.FunctionCall) goja.Value { return vm.ToValue(float64(0)) })
	vm.Set("performance", perf)
}

// installNetwork routes fetch/XMLHttpRequest through the HTTP Client and
// Cookie Jar so sandboxed scripts participate in session state, per §4.5.
func (e *env) installNetwork() {
	vm := e.vm

	vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		target := call.Argument(0).String()
		promiseCtor, _ := vm.RunString(`(function(executor){ return new Promise(executor); })`)
		ctorFn, _ := goja.AssertFunction(promiseCtor)

		executor := vm.ToValue(func(resolve, reject goja.Value) {
			resolveFn, _ := goja.AssertFunction(resolve)
			rejectFn, _ := goja.AssertFunction(reject)
			if e.http == nil {
				_, _ = rejectFn(goja.Undefined(), vm.ToValue("fetch unavailable"))
				return
			}
			res, err := e.http.Fetch(e.ctx, e.resolveURL(target), httpclient.Options{Timeout: perScriptTimeout})
			if err != nil {
				_, _ = rejectFn(goja.Undefined(), vm.ToValue(err.Error()))
				return
			}
			respObj := vm.NewObject()
			respObj.Set("ok", res.Status >= 200 && res.Status < 300)
			respObj.Set("status", res.Status)
			respObj.Set("text", func(goja.FunctionCall) goja.Value {
				return vm.ToValue(res.BodyText)
			})
			respObj.Set("json", func(goja.FunctionCall) goja.Value {
				return vm.ToValue(res.BodyText)
			})
			_, _ = resolveFn(goja.Undefined(), respObj)
		})
		v, err := ctorFn(goja.Undefined(), executor)
		if err != nil {
			return goja.Undefined()
		}
		return v
	})

	vm.Set("XMLHttpRequest", func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		var method, target string
		obj.Set("open", func(c goja.FunctionCall) goja.Value {
			method = c.Argument(0).String()
			target = c.Argument(1).String()
			return goja.Undefined()
		})
		obj.Set("setRequestHeader", func(c goja.FunctionCall) goja.Value { return goja.Undefined() })
		obj.Set("send", func(c goja.FunctionCall) goja.Value {
			if e.http == nil || strings.ToUpper(method) != "GET" {
				obj.Set("status", 0)
				return goja.Undefined()
			}
			res, err := e.http.Fetch(e.ctx, e.resolveURL(target), httpclient.Options{Timeout: perScriptTimeout})
			if err != nil {
				obj.Set("status", 0)
				return goja.Undefined()
			}
			obj.Set("status", res.Status)
			obj.Set("responseText", res.BodyText)
			if onload, ok := goja.AssertFunction(obj.Get("onload")); ok {
				_, _ = onload(goja.Undefined())
			}
			return goja.Undefined()
		})
		return nil
	})
}

func (e *env) resolveURL(target string) string {
	if e.url == nil {
		return target
	}
	rel, err := e.url.Parse(target)
	if err != nil {
		return target
	}
	return rel.String()
}

func (e *env) installURLHelpers() {
	vm := e.vm
	vm.Set("URL", func(call goja.ConstructorCall) *goja.Object {
		raw := call.Argument(0).String()
		parsed, err := url.Parse(raw)
		obj := call.This
		if err == nil {
			obj.Set("href", parsed.String())
			obj.Set("hostname", parsed.Hostname())
			obj.Set("pathname", parsed.Path)
			obj.Set("protocol", parsed.Scheme+":")
			obj.Set("search", "?"+parsed.RawQuery)
		}
		return nil
	})
	vm.Set("URLSearchParams", func(call goja.ConstructorCall) *goja.Object {
		raw := strings.TrimPrefix(call.Argument(0).String(), "?")
		values, _ := url.ParseQuery(raw)
		obj := call.This
		obj.Set("get", func(c goja.FunctionCall) goja.Value {
			v := values.Get(c.Argument(0).String())
			if v == "" {
				return goja.Null()
			}
			return vm.ToValue(v)
		})
		return nil
	})
}

// installInertStubs wires observers as no-ops and makes Worker/WebSocket
// throw on construction, per §4.5's whitelist boundary.
func (e *env) installInertStubs() {
	vm := e.vm
	stubObserver := func(call goja.ConstructorCall) *goja.Object {
		obj := call.This
		noop := func(goja.FunctionCall) goja.Value { return goja.Undefined() }
		obj.Set("observe", noop)
		obj.Set("unobserve", noop)
		obj.Set("disconnect", noop)
		return nil
	}
	vm.Set("MutationObserver", stubObserver)
	vm.Set("IntersectionObserver", stubObserver)
	vm.Set("ResizeObserver", stubObserver)

	throwing := func(name string) func(goja.ConstructorCall) *goja.Object {
		return func(call goja.ConstructorCall) *goja.Object {
			panic(e.vm.NewTypeError(name + " is not available in the sandbox"))
		}
	}
	vm.Set("Worker", throwing("Worker"))
	vm.Set("WebSocket", throwing("WebSocket"))
}

func (e *env) drainTimers(budget time.Duration) {
	e.timers.drain(budget)
}
