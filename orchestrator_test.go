package compose

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := &Config{}
	cfg.Defaults()
	cfg.Client = http.DefaultClient
	return cfg
}

func renderToString(t *testing.T, doc *Document, cfg *Config) (*Render, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr, _ := PrepareRender(context.Background(), doc, cfg, req, nil)
	rec := httptest.NewRecorder()
	rr.Stream(rec)
	return rr, rec.Body.String()
}

// E1 — simple sync pair.
func TestE1SimpleSyncPair(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) }))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("world")) }))
	defer b.Close()

	src := `<fragment src="` + a.URL + `"/><fragment src="` + b.URL + `"/>`
	doc, err := Parse([]byte(src), ParseOptions{})
	if err != nil {
		t.Fatal(err)
	}

	cfg := testConfig(t)
	rr, body := renderToString(t, doc, cfg)

	if rr.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Status)
	}
	want := `<html><head></head><body><script data-pipe>p.start(0)</script>hello<script data-pipe>p.end(0)</script><script data-pipe>p.start(1)</script>world<script data-pipe>p.end(1)</script></body></html>`
	if body != want {
		t.Fatalf("got:\n%s\nwant:\n%s", body, want)
	}
}

// E2 — async.
func TestE2Async(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("hello")) }))
	defer srv.Close()

	src := `<fragment async src="` + srv.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	_, body := renderToString(t, doc, cfg)

	if !strings.Contains(body, "p.placeholder(0)") {
		t.Fatalf("expected placeholder, got: %s", body)
	}
	bodyEnd := strings.Index(body, "</body>")
	if bodyEnd == -1 {
		t.Fatalf("missing </body>: %s", body)
	}
	if !strings.Contains(body[:bodyEnd], "hello") {
		t.Fatalf("expected async body appended before </body>, got: %s", body)
	}
	placeholderIdx := strings.Index(body, "p.placeholder(0)")
	helloIdx := strings.Index(body, "hello")
	if helloIdx < placeholderIdx {
		t.Fatalf("expected placeholder before drained body")
	}
}

// E3 — primary redirect.
func TestE3PrimaryRedirect(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "https://redirect")
		w.WriteHeader(300)
	}))
	defer primary.Close()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("x")) }))
	defer other.Close()

	src := `<fragment src="` + other.URL + `"/><fragment primary src="` + primary.URL + `"/><fragment src="` + other.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	rr, _ := renderToString(t, doc, cfg)

	if rr.Status != 300 {
		t.Fatalf("expected outer status 300, got %d", rr.Status)
	}
	if rr.Header.Get("Location") != "https://redirect" {
		t.Fatalf("expected Location propagated, got %q", rr.Header.Get("Location"))
	}
}

// E4 — primary timeout.
func TestE4PrimaryTimeout(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(101 * time.Millisecond)
		w.Write([]byte("too slow"))
	}))
	defer primary.Close()

	src := `<fragment primary timeout="100" src="` + primary.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	rr, body := renderToString(t, doc, cfg)

	if rr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Status)
	}
	if body != "" {
		t.Fatalf("expected no body shell, got: %s", body)
	}
}

// E5 — fallback success.
func TestE5FallbackSuccess(t *testing.T) {
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("Fallback")) }))
	defer fallback.Close()
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer primary.Close()

	src := `<fragment src="` + primary.URL + `" fallback-src="` + fallback.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	rr, body := renderToString(t, doc, cfg)

	if rr.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Status)
	}
	if !strings.Contains(body, "Fallback") {
		t.Fatalf("expected fallback body in output, got: %s", body)
	}
}

// E6 — maxAssetLinks=3 script ordering.
func TestE6MultiScriptOrdering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<link1>; rel="fragment-script", <link2>; rel="fragment-script", <link3>; rel="fragment-script"`)
		w.Write([]byte("BODY"))
	}))
	defer srv.Close()

	src := `<fragment src="` + srv.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	cfg.MaxAssetLinks = 3
	_, body := renderToString(t, doc, cfg)

	if !strings.Contains(body, "p.start(0, \"link1\"") {
		t.Fatalf("expected nested start for link1 at index 0, got: %s", body)
	}
	if !strings.Contains(body, "p.start(2, \"link3\"") {
		t.Fatalf("expected nested start for link3 at index 2, got: %s", body)
	}
	if !strings.Contains(body, `"range":[0,2]`) {
		t.Fatalf("expected range [0,2] in start args, got: %s", body)
	}
	startIdx := strings.Index(body, "p.start(2")
	endIdx := strings.Index(body, "p.end(2")
	bodyIdx := strings.Index(body, "BODY")
	if !(startIdx < bodyIdx && bodyIdx < endIdx) {
		t.Fatalf("expected innermost start(2) before BODY before end(2), got: %s", body)
	}
	end0Idx := strings.Index(body, "p.end(0)")
	if end0Idx < endIdx {
		t.Fatalf("expected end(2) before end(0) (reverse order), got: %s", body)
	}
}

// E8 — slot composition.
func TestE8SlotComposition(t *testing.T) {
	base := `<head><script type="slot" name="head"></script></head><body></body>`
	child := `<meta slot="head" charset="utf-8">`
	doc, _ := Parse([]byte(base), ParseOptions{Child: []byte(child)})
	cfg := testConfig(t)
	_, body := renderToString(t, doc, cfg)

	headEnd := strings.Index(body, "</head>")
	if !strings.Contains(body[:headEnd], "charset") {
		t.Fatalf("expected meta in head, got: %s", body)
	}
	if strings.Contains(body[headEnd:], "charset") {
		t.Fatalf("expected meta omitted from body, got: %s", body)
	}
}

func TestNonPrimaryFailureSwallowed(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer bad.Close()

	src := `<fragment src="` + bad.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	rr, body := renderToString(t, doc, cfg)

	if rr.Status != http.StatusOK {
		t.Fatalf("expected outer 200 despite non-primary failure, got %d", rr.Status)
	}
	if !strings.Contains(body, "p.start(0)") || !strings.Contains(body, "p.end(0)") {
		t.Fatalf("expected collapsed region with hooks still present, got: %s", body)
	}
}

// E6b — maxAssetLinks=3 with only 2 scripts: range must span exactly the
// emitted start/end pairs, with no trailing unopened index (spec §4.6, §8
// property 1).
func TestPartialScriptCountRangeMatchesEmittedHooks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<link1>; rel="fragment-script", <link2>; rel="fragment-script"`)
		w.Write([]byte("BODY"))
	}))
	defer srv.Close()

	src := `<fragment src="` + srv.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	cfg.MaxAssetLinks = 3
	_, body := renderToString(t, doc, cfg)

	if !strings.Contains(body, `"range":[0,1]`) {
		t.Fatalf("expected range [0,1] for 2 scripts, got: %s", body)
	}
	if !strings.Contains(body, "p.start(1, \"link2\"") {
		t.Fatalf("expected start(1) for the second script, got: %s", body)
	}
	if !strings.Contains(body, "p.end(1)") || strings.Contains(body, "p.end(2)") {
		t.Fatalf("expected end(1) but no end(2), got: %s", body)
	}
}

// A fragment following one with fewer scripts than maxAssetLinks must not
// see a gap in its own lo index.
func TestPartialScriptCountLeavesNoIndexGap(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Link", `<link1>; rel="fragment-script", <link2>; rel="fragment-script"`)
		w.Write([]byte("A"))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("B")) }))
	defer b.Close()

	src := `<fragment src="` + a.URL + `"/><fragment src="` + b.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	cfg.MaxAssetLinks = 3
	_, body := renderToString(t, doc, cfg)

	if !strings.Contains(body, "p.start(2)") {
		t.Fatalf("expected second fragment to start at index 2 (no gap), got: %s", body)
	}
}

// Link preload header for the AMD loader must appear even when no fragment
// is primary (spec §4.5).
func TestAmdLoaderLinkHeaderWithoutPrimary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("x")) }))
	defer srv.Close()

	src := `<fragment src="` + srv.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	cfg.AmdLoaderUrl = "https://cdn.example/loader.js"
	rr, _ := renderToString(t, doc, cfg)

	if !strings.Contains(rr.Header.Get("Link"), "loader.js") {
		t.Fatalf("expected AMD loader Link header without a primary fragment, got: %q", rr.Header.Get("Link"))
	}
}

// Content-Type must be set even on the primary-failure 500 path, which
// streams no body for net/http to sniff a type from (spec §6).
func TestContentTypeSetOnPrimaryFailure(t *testing.T) {
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(101 * time.Millisecond)
	}))
	defer primary.Close()

	src := `<fragment primary timeout="100" src="` + primary.URL + `"/>`
	doc, _ := Parse([]byte(src), ParseOptions{})
	cfg := testConfig(t)
	rr, _ := renderToString(t, doc, cfg)

	if rr.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Status)
	}
	if rr.Header.Get("Content-Type") != "text/html" {
		t.Fatalf("expected Content-Type: text/html on failure path, got %q", rr.Header.Get("Content-Type"))
	}
}

func TestWritePreambleWithoutLoaderOrPipeDefinition(t *testing.T) {
	var buf bytes.Buffer
	writePreamble(&buf, nil, "", "", "p")
	if !strings.Contains(buf.String(), "<html><head>") {
		t.Fatalf("unexpected preamble: %s", buf.String())
	}
}
