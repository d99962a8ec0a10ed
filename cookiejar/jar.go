// Package cookiejar implements the Cookie Jar: per-origin cookie storage
// consuming Set-Cookie headers and emitting Cookie headers for outbound
// requests. Invalid cookies are silently dropped, per SPEC_FULL.md §4.2.
//
// Grounded on neothelobster-ghostfetch's cookies.go PersistentJar, minus
// its JSON-file persistence (the Knowledge Store owns persistence in this
// system; the Cookie Jar is in-memory only).
package cookiejar

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Jar wraps net/http/cookiejar.Jar with the single-writer-per-host
// discipline required by SPEC_FULL.md §5.
type Jar struct {
	mu   sync.Mutex
	jar  *cookiejar.Jar
}

// New creates an empty Jar. PublicSuffixList is wired so cookie scoping
// respects registrable domains, exactly as ghostfetch's PersistentJar does.
func New() (*Jar, error) {
	j, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &Jar{jar: j}, nil
}

// Ingest consumes the Set-Cookie headers of resp for its request URL.
// Cookies net/http/cookiejar itself rejects (malformed, wrong domain) are
// silently dropped since cookiejar.SetCookies already filters them.
func (j *Jar) Ingest(u *url.URL, resp *http.Response) {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

// CookieHeader returns the Cookie header value to send for u, or "" if the
// jar holds nothing for that origin.
func (j *Jar) CookieHeader(u *url.URL) string {
	j.mu.Lock()
	cookies := j.jar.Cookies(u)
	j.mu.Unlock()

	if len(cookies) == 0 {
		return ""
	}
	req := &http.Request{Header: make(http.Header)}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req.Header.Get("Cookie")
}

// Cookies returns the raw cookie list for u, for callers (like the Sandbox
// Runtime's mock document.cookie) that need individual name/value pairs.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}
