// Package httpclient implements the HTTP Client Wrapper (SPEC_FULL.md §4.3):
// fetch + manual redirects + cookies + timeout, over a Chrome-fingerprinted
// TLS transport.
//
// Grounded on purify's engine/http_engine.go (chromeH1Spec built once in
// init(), ALPN locked to http/1.1) merged with scraper/httpfetch.go
// (proxy override, SOCKS5 dial support). The two were near-duplicate
// dialers in the teacher; this is their single absorbed home.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/proxy"

	"github.com/use-agent/purify/cookiejar"
)

const (
	chromeUA    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodySize = 10 << 20 // 10 MB
	defaultMaxRedirects = 5
)

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only, computed once at init time and reused for every
// connection (so Go's http.Transport never sees an h2 negotiation it
// can't handle on a utls connection).
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Options configures a single fetch call.
type Options struct {
	Headers         map[string]string
	UserAgent       string
	FollowRedirects bool
	MaxRedirects    int
	Timeout         time.Duration
	Proxy           string
}

// Result is the uniform output of Fetch, matching SPEC_FULL.md §4.3.
type Result struct {
	Status   int
	Headers  http.Header
	FinalURL string
	BodyText string
	Cookies  []*http.Cookie
}

// Client performs HTTP requests with a Chrome TLS fingerprint, capturing
// cookies at every redirect hop by following redirects manually instead of
// delegating to http.Client's CheckRedirect.
type Client struct {
	jar          *cookiejar.Jar
	defaultProxy string
}

// New creates a Client. jar may be nil, in which case no cookies are sent
// or captured.
func New(jar *cookiejar.Jar, defaultProxy string) *Client {
	return &Client{jar: jar, defaultProxy: defaultProxy}
}

// Fetch retrieves url following SPEC_FULL.md §4.3's semantics: a single
// timeout bounds the whole operation, redirects are followed manually (up
// to a bounded budget) so cookies are captured per hop.
func (c *Client) Fetch(ctx context.Context, targetURL string, opts Options) (*Result, error) {
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = defaultMaxRedirects
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	client := c.newHTTPClient(opts)
	defer client.CloseIdleConnections()

	current := targetURL
	var lastResp *http.Response
	var lastBody []byte

	for hop := 0; ; hop++ {
		if hop > opts.MaxRedirects {
			return nil, fmt.Errorf("httpclient: redirect budget (%d) exceeded", opts.MaxRedirects)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: build request: %w", err)
		}
		c.applyHeaders(req, opts)

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("httpclient: request failed: %w", err)
		}

		if c.jar != nil {
			c.jar.Ingest(req.URL, resp)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("httpclient: read body: %w", err)
		}

		lastResp, lastBody = resp, body

		if !opts.FollowRedirects || !isRedirect(resp.StatusCode) {
			break
		}
		loc := resp.Header.Get("Location")
		if loc == "" {
			break
		}
		next, err := req.URL.Parse(loc)
		if err != nil {
			break
		}
		current = next.String()
	}

	var cookies []*http.Cookie
	if c.jar != nil {
		if u, err := url.Parse(current); err == nil {
			cookies = c.jar.Cookies(u)
		}
	}

	return &Result{
		Status:   lastResp.StatusCode,
		Headers:  lastResp.Header,
		FinalURL: current,
		BodyText: string(lastBody),
		Cookies:  cookies,
	}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func (c *Client) applyHeaders(req *http.Request, opts Options) {
	ua := opts.UserAgent
	if ua == "" {
		ua = chromeUA
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Cache-Control", "no-cache")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if c.jar != nil {
		if cookieHeader := c.jar.CookieHeader(req.URL); cookieHeader != "" {
			req.Header.Set("Cookie", cookieHeader)
		}
	}
}

func (c *Client) newHTTPClient(opts Options) *http.Client {
	proxy := opts.Proxy
	if proxy == "" {
		proxy = c.defaultProxy
	}

	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialTLSChrome(ctx, network, addr, proxy)
		},
		ForceAttemptHTTP2: false,
	}
	if proxy != "" {
		if proxyURL, err := url.Parse(proxy); err == nil && (proxyURL.Scheme == "http" || proxyURL.Scheme == "https") {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{
		Transport: transport,
		// Redirects are followed manually by Fetch; never let the stdlib
		// client do it so every hop's cookies get captured.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// dialTLSChrome establishes a TLS connection with a Chrome fingerprint,
// optionally through a SOCKS5 proxy. HTTP(S) proxies are set on the
// transport instead (see newHTTPClient).
func dialTLSChrome(ctx context.Context, network, addr, proxy string) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}

	var rawConn net.Conn
	var err error

	if proxy != "" {
		if proxyURL, perr := url.Parse(proxy); perr == nil &&
			(proxyURL.Scheme == "socks5" || proxyURL.Scheme == "socks5h") {
			socks, serr := proxy.FromURL(proxyURL, dialer)
			if serr != nil {
				return nil, fmt.Errorf("httpclient: socks5 proxy: %w", serr)
			}
			rawConn, err = socks.Dial("tcp", addr)
			if err != nil {
				return nil, fmt.Errorf("httpclient: socks5 dial: %w", err)
			}
		}
	}
	if rawConn == nil {
		rawConn, err = dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
	}

	host, _, _ := net.SplitHostPort(addr)
	tlsConn := tls.UClient(rawConn, &tls.Config{ServerName: host}, tls.HelloCustom)
	if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("httpclient: apply tls spec: %w", err)
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		rawConn.Close()
		return nil, err
	}
	return tlsConn, nil
}
