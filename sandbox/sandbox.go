// Package sandbox implements the Sandbox Runtime (SPEC_FULL.md §4.5): it
// parses HTML into a DOM, evaluates page scripts against a strict
// capability whitelist, and serializes the DOM back to HTML.
//
// Grounded on neothelobster-ghostfetch's solver.go (goja VM setup,
// document.cookie getter/setter interception via Object.defineProperty,
// atob/btoa/setTimeout/console stubs, watchdog-goroutine interrupt
// pattern) generalized from a single-purpose challenge solver into a
// general-purpose capability-object whitelist per §9's explicit
// "capability object, not ambient globals" design note.
package sandbox

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/use-agent/purify/cookiejar"
	"github.com/use-agent/purify/httpclient"
)

// perScriptTimeout bounds a single <script> evaluation.
const perScriptTimeout = 5 * time.Second

// maxAsyncWait bounds the post-script queued-task drain.
const maxAsyncWait = time.Second

// needsFullBrowserPatterns short-circuit the sandbox entirely per §6.
var needsFullBrowserPatterns = []string{
	"cloudflare", "challenge-platform", "cf-chl-bypass", "__cf_chl",
	"recaptcha", "hcaptcha", "turnstile",
}

// analyticsSkipPatterns are external script src substrings the sandbox
// never fetches or executes, per §6.
var analyticsSkipPatterns = []string{
	"google-analytics", "googletagmanager", "gtag", "facebook.net",
	"twitter.com/widgets", "connect.facebook", "platform.twitter",
	"hotjar", "segment.io", "segment.com", "mixpanel", "sentry.io",
	"newrelic", "doubleclick", "adsense", "adsbygoogle",
	"cloudflare-challenge", "recaptcha", "hcaptcha",
}

// Script is one <script> tag extracted from the source HTML.
type Script struct {
	Src     string // empty for inline scripts
	Body    string
	Module  bool
}

// Result is the sandbox's output.
type Result struct {
	HTML             string
	NeedsFullBrowser bool
	ScriptErrors     []string
	ScriptsRun       int
	ScriptsSkipped   int
}

// Runtime evaluates page scripts against a capability whitelist. A Runtime
// is safe to reuse across requests: each Run call gets its own goja VM and
// in-memory storage, while document.cookie reads and writes go to the
// Runtime's shared Cookie Jar (when one is configured).
type Runtime struct {
	http *httpclient.Client
	jar  *cookiejar.Jar
}

// New creates a Runtime. http and jar may be nil, in which case fetch/XHR
// and cookie access from sandboxed scripts are no-ops.
func New(http *httpclient.Client, jar *cookiejar.Jar) *Runtime {
	return &Runtime{http: http, jar: jar}
}

// Run parses rawHTML, pre-classifies it against NEEDS_FULL_BROWSER
// patterns, and — absent a match — evaluates its scripts in an isolated
// VM before serializing the mutated DOM back to HTML.
func (r *Runtime) Run(ctx context.Context, pageURL, rawHTML string) Result {
	lower := strings.ToLower(rawHTML)
	for _, pat := range needsFullBrowserPatterns {
		if strings.Contains(lower, pat) {
			return Result{HTML: rawHTML, NeedsFullBrowser: true}
		}
	}

	dom := newDocument(rawHTML)
	vm := goja.New()
	env := r.newEnv(ctx, pageURL, dom, vm)
	env.install()

	result := Result{}
	for _, s := range dom.Scripts() {
		if s.Module {
			result.ScriptsSkipped++
			continue
		}
		body := s.Body
		if s.Src != "" {
			if skipExternal(s.Src) {
				result.ScriptsSkipped++
				continue
			}
			fetched, err := r.fetchScript(ctx, pageURL, s.Src)
			if err != nil {
				result.ScriptErrors = append(result.ScriptErrors, fmt.Sprintf("%s: %v", s.Src, err))
				continue
			}
			body = fetched
		}
		if err := runWithTimeout(vm, body, perScriptTimeout); err != nil {
			result.ScriptErrors = append(result.ScriptErrors, err.Error())
			continue
		}
		result.ScriptsRun++
	}

	env.drainTimers(maxAsyncWait)

	result.HTML = dom.Serialize()
	return result
}

func skipExternal(src string) bool {
	lower := strings.ToLower(src)
	for _, pat := range analyticsSkipPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func (r *Runtime) fetchScript(ctx context.Context, pageURL, src string) (string, error) {
	if r.http == nil {
		return "", fmt.Errorf("sandbox: no http client configured for external script fetch")
	}
	resolved := src
	if base, err := url.Parse(pageURL); err == nil {
		if rel, err2 := base.Parse(src); err2 == nil {
			resolved = rel.String()
		}
	}
	res, err := r.http.Fetch(ctx, resolved, httpclient.Options{Timeout: perScriptTimeout})
	if err != nil {
		return "", err
	}
	return res.BodyText, nil
}

// runWithTimeout executes src in vm, interrupting it after d if it hasn't
// returned, mirroring ghostfetch's watchdog-goroutine pattern.
func runWithTimeout(vm *goja.Runtime, src string, d time.Duration) (err error) {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() { vm.Interrupt("script timeout") })
	defer timer.Stop()
	defer close(done)

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sandbox: script panic: %v", rec)
		}
	}()

	_, runErr := vm.RunString(src)
	if runErr != nil {
		if interrupted, ok := runErr.(*goja.InterruptedError); ok {
			return fmt.Errorf("sandbox: script timed out: %v", interrupted.Value())
		}
		return fmt.Errorf("sandbox: script error: %w", runErr)
	}
	return nil
}

// timerQueue holds pending setTimeout callbacks for the post-script drain
// phase; installTimers caps each callback at perScriptTimeout (5s), per §5.
type timerQueue struct {
	mu      sync.Mutex
	pending []func()
}

func (q *timerQueue) push(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, fn)
}

func (q *timerQueue) drain(budget time.Duration) {
	deadline := time.Now().Add(budget)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 || time.Now().After(deadline) {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()
		fn()
	}
}
