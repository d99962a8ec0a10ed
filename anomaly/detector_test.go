package anomaly

import "testing"

func TestDetect_CloudflareChallenge(t *testing.T) {
	html := `<html><body><div id="cf-wrapper">Just a moment... <div class="cf-browser-verification"></div></div></body></html>`
	res := Detect(Input{HTML: html, URL: "https://example.com"})

	if !res.IsAnomaly {
		t.Fatalf("expected anomaly, got none (confidence %.2f)", res.Confidence)
	}
	if res.AnomalyType != TypeChallengePage {
		t.Errorf("type = %s, want %s", res.AnomalyType, TypeChallengePage)
	}
	if res.SuggestedAction != ActionWait10s {
		t.Errorf("action = %s, want %s", res.SuggestedAction, ActionWait10s)
	}
	if res.WaitTimeMs != 10000 {
		t.Errorf("waitTimeMs = %d, want 10000", res.WaitTimeMs)
	}
}

func TestDetect_Captcha(t *testing.T) {
	html := `<html><body><div class="g-recaptcha" data-sitekey="x"></div></body></html>`
	res := Detect(Input{HTML: html})

	if !res.IsAnomaly || res.AnomalyType != TypeCaptcha {
		t.Fatalf("got %+v, want captcha anomaly", res)
	}
	if res.SuggestedAction != ActionNeedsSession {
		t.Errorf("action = %s, want %s", res.SuggestedAction, ActionNeedsSession)
	}
}

func TestDetect_RateLimited(t *testing.T) {
	html := `<html><body><h1>429</h1><p>Too many requests, please slow down.</p></body></html>`
	res := Detect(Input{HTML: html})

	if !res.IsAnomaly || res.AnomalyType != TypeRateLimited {
		t.Fatalf("got %+v, want rate_limited anomaly", res)
	}
	if res.WaitTimeMs != 60000 {
		t.Errorf("waitTimeMs = %d, want 60000", res.WaitTimeMs)
	}
}

func TestDetect_ErrorPage(t *testing.T) {
	html := `<html><body><h1>404 Not Found</h1><p>The page you requested could not be found on this server.</p></body></html>`
	res := Detect(Input{HTML: html})

	if !res.IsAnomaly || res.AnomalyType != TypeErrorPage {
		t.Fatalf("got %+v, want error_page anomaly", res)
	}
	if res.SuggestedAction != ActionSkip {
		t.Errorf("action = %s, want %s", res.SuggestedAction, ActionSkip)
	}
}

func TestDetect_EmptyContent(t *testing.T) {
	html := `<html><body><div id="root"></div></body></html>`
	res := Detect(Input{HTML: html})

	if !res.IsAnomaly {
		t.Fatalf("expected anomaly for structurally empty page, got none")
	}
	if res.AnomalyType != TypeEmptyContent {
		t.Errorf("type = %s, want %s", res.AnomalyType, TypeEmptyContent)
	}
	if res.SuggestedAction != ActionRetry {
		t.Errorf("action = %s, want %s", res.SuggestedAction, ActionRetry)
	}
}

func TestDetect_NormalPageIsNotAnomalous(t *testing.T) {
	html := `<html><body><article>
		<h1>A perfectly normal article</h1>
		<p>This paragraph has plenty of real content in it, enough to clear the
		short-body threshold comfortably so the detector doesn't flag it.</p>
		<ul><li>one</li><li>two</li></ul>
	</article></body></html>`
	res := Detect(Input{HTML: html})

	if res.IsAnomaly {
		t.Errorf("got anomaly %+v for a normal page", res)
	}
}

func TestDetect_ConfidenceNeverExceedsOne(t *testing.T) {
	html := `<html><body>just a moment checking your browser recaptcha too many requests 404 not found</body></html>`
	res := Detect(Input{HTML: html, ExpectedTopic: "something entirely unrelated"})
	if res.Confidence > 1.0 {
		t.Errorf("confidence = %.2f, must be clamped to 1.0", res.Confidence)
	}
}

func TestDetect_TopicMismatchAddsSignal(t *testing.T) {
	html := `<html><body><article><h1>Cooking pasta</h1><p>A long recipe about pasta with plenty of words to pass the length check comfortably without tripping the short-body heuristic at all.</p></article></body></html>`

	withoutTopic := Detect(Input{HTML: html})
	withMismatchedTopic := Detect(Input{HTML: html, ExpectedTopic: "quantum computing hardware"})

	if withMismatchedTopic.Confidence <= withoutTopic.Confidence {
		t.Errorf("topic mismatch should raise confidence: %.2f vs %.2f", withMismatchedTopic.Confidence, withoutTopic.Confidence)
	}
}
