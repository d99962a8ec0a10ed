package sandbox

import (
	"context"
	"strings"
	"testing"
)

func TestRun_NeedsFullBrowserShortCircuitsOnChallengeMarker(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><div class="cf-chl-bypass">Just a moment</div></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if !res.NeedsFullBrowser {
		t.Fatal("expected NeedsFullBrowser = true for cf-chl-bypass marker")
	}
	if res.ScriptsRun != 0 {
		t.Errorf("ScriptsRun = %d, want 0 when short-circuited", res.ScriptsRun)
	}
}

func TestRun_ExecutesInlineCookieScriptWithoutJar(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body>
		<script>document.cookie = "session=abc123; Path=/";</script>
	</body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if res.NeedsFullBrowser {
		t.Fatal("unexpected NeedsFullBrowser = true")
	}
	if res.ScriptsRun != 1 {
		t.Fatalf("ScriptsRun = %d, want 1 (errors: %v)", res.ScriptsRun, res.ScriptErrors)
	}
}

func TestRun_ModuleScriptsAreSkipped(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><script type="module">window.__shouldNeverRun = true;</script></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if res.ScriptsRun != 0 || res.ScriptsSkipped != 1 {
		t.Errorf("got ScriptsRun=%d ScriptsSkipped=%d, want 0/1", res.ScriptsRun, res.ScriptsSkipped)
	}
}

func TestRun_ExternalAnalyticsScriptIsSkipped(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><script src="https://www.google-analytics.com/analytics.js"></script></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if res.ScriptsSkipped != 1 {
		t.Errorf("ScriptsSkipped = %d, want 1", res.ScriptsSkipped)
	}
}

func TestRun_ScriptErrorDoesNotPropagate(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><script>throw new Error("boom");</script></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if len(res.ScriptErrors) != 1 {
		t.Fatalf("ScriptErrors = %v, want exactly one collected error", res.ScriptErrors)
	}
	if res.HTML == "" || !strings.Contains(res.HTML, "<body>") {
		t.Error("sandbox must still return the serialized DOM after a script error")
	}
}

func TestRun_SerializesDOMAfterAttributeMutation(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><div id="target"></div><script>
		document.getElementById("target").setAttribute("data-done", "1");
	</script></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if !strings.Contains(res.HTML, `data-done="1"`) {
		t.Errorf("expected mutated attribute in serialized HTML, got: %s", res.HTML)
	}
}

func TestRun_WorkerConstructionThrowsAndIsCaughtAsScriptError(t *testing.T) {
	rt := New(nil, nil)
	html := `<html><body><script>new Worker("x.js");</script></body></html>`

	res := rt.Run(context.Background(), "https://example.com/", html)

	if len(res.ScriptErrors) != 1 {
		t.Fatalf("expected Worker construction to fail as a script error, got %v", res.ScriptErrors)
	}
}
