package compose

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestFetchFragmentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	d := &Descriptor{Src: srv.URL, TimeoutMs: 1000}
	res := fetchFragment(context.Background(), srv.Client(), d, nil)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello" {
		t.Errorf("got body %q", body)
	}
}

func TestFetchFragmentGzipDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte("hello gzip"))
		gz.Close()
	}))
	defer srv.Close()

	d := &Descriptor{Src: srv.URL, TimeoutMs: 1000}
	res := fetchFragment(context.Background(), srv.Client(), d, nil)
	if res.Err != nil {
		t.Fatalf("unexpected error: %v", res.Err)
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "hello gzip" {
		t.Errorf("got body %q", body)
	}
}

func TestFetchFragmentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.Write([]byte("too slow"))
	}))
	defer srv.Close()

	d := &Descriptor{Src: srv.URL, TimeoutMs: 5}
	res := fetchFragment(context.Background(), srv.Client(), d, nil)
	if res.Err == nil {
		t.Fatalf("expected timeout error")
	}
	if res.Err.Kind != KindFragmentTimeout {
		t.Errorf("expected KindFragmentTimeout, got %v", res.Err.Kind)
	}
}

func TestFetchFragmentFallsBackOn500(t *testing.T) {
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Fallback"))
	}))
	defer fallback.Close()

	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer primary.Close()

	d := &Descriptor{Src: primary.URL, FallbackSrc: fallback.URL, TimeoutMs: 1000}
	res := fetchFragment(context.Background(), primary.Client(), d, nil)
	if res.Err != nil {
		t.Fatalf("unexpected error after fallback: %v", res.Err)
	}
	if !res.UsedFallback {
		t.Errorf("expected UsedFallback true")
	}
	body, _ := io.ReadAll(res.Body)
	if string(body) != "Fallback" {
		t.Errorf("got body %q", body)
	}
}

func TestFetchFragmentNoFallbackPropagatesError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := &Descriptor{Src: srv.URL, TimeoutMs: 1000}
	res := fetchFragment(context.Background(), srv.Client(), d, nil)
	if res.Err == nil {
		t.Fatalf("expected error with no fallback configured")
	}
	if res.Err.Kind != KindFragmentHTTPError {
		t.Errorf("expected KindFragmentHTTPError, got %v", res.Err.Kind)
	}
}

func TestForwardHeadersAllowlist(t *testing.T) {
	incoming := httptest.NewRequest(http.MethodGet, "/", nil)
	incoming.Header.Set("Referer", "https://example.com")
	incoming.Header.Set("X-Custom", "yes")
	incoming.Header.Set("X-Forwarded-For", "1.2.3.4")
	incoming.Header.Set("Cookie", "session=abc")
	incoming.Header.Set("Authorization", "Bearer xyz")

	out := httptest.NewRequest(http.MethodGet, "/", nil)
	forwardHeaders(out, incoming, false)

	if out.Header.Get("Referer") == "" {
		t.Errorf("expected Referer forwarded")
	}
	if out.Header.Get("X-Custom") == "" {
		t.Errorf("expected X-Custom forwarded")
	}
	if out.Header.Get("X-Forwarded-For") != "" {
		t.Errorf("expected X-Forwarded-For blocked")
	}
	if out.Header.Get("Cookie") != "" {
		t.Errorf("expected Cookie dropped for non-public fragment")
	}
	if out.Header.Get("Authorization") != "" {
		t.Errorf("expected Authorization dropped for non-public fragment")
	}
}

func TestForwardHeadersPublicAllowsCookieAndAuth(t *testing.T) {
	incoming := httptest.NewRequest(http.MethodGet, "/", nil)
	incoming.Header.Set("Cookie", "session=abc")

	out := httptest.NewRequest(http.MethodGet, "/", nil)
	forwardHeaders(out, incoming, true)

	if out.Header.Get("Cookie") != "session=abc" {
		t.Errorf("expected Cookie forwarded for public fragment")
	}
}

func TestDecodeBodyIdentity(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{},
		Body:   io.NopCloser(bytes.NewBufferString("plain")),
	}
	rc, err := decodeBody(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != "plain" {
		t.Errorf("got %q", b)
	}
}
