package compose

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// forwardedHeaderBlocklist names request headers that are never forwarded to
// a fragment upstream even though they match the `x-*` allow rule (spec §6
// "header forwarding").
var forwardedHeaderBlocklist = map[string]bool{
	"x-forwarded-for":   true,
	"x-forwarded-proto": true,
	"x-forwarded-host":  true,
	"x-real-ip":         true,
}

// fragmentResult is what [fetchFragment] returns: either a usable response
// (possibly from a fallback) or a classified failure.
type fragmentResult struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	UsedFallback bool
	Err        *fragmentError
}

// fetchFragment issues one HTTP request for a fragment descriptor, applying
// its timeout, the header-forwarding allowlist, transparent content-encoding
// decode, and a single fallback retry on failure (spec §4.3).
func fetchFragment(ctx context.Context, client *http.Client, d *Descriptor, incoming *http.Request) *fragmentResult {
	res := doFetch(ctx, client, d.Src, d.TimeoutMs, d.Public, incoming)
	if res.Err == nil {
		return res
	}
	if d.FallbackSrc == "" {
		return res
	}
	fb := doFetch(ctx, client, d.FallbackSrc, d.TimeoutMs, d.Public, incoming)
	if fb.Err == nil {
		fb.UsedFallback = true
	}
	return fb
}

func doFetch(ctx context.Context, client *http.Client, src string, timeoutMs int, public bool, incoming *http.Request) *fragmentResult {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	// The deadline covers the wait for the response headers only: the body
	// is read by the caller after doFetch returns, so it must stay readable.
	ctx, cancel := context.WithCancel(ctx)
	timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, cancel)
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return &fragmentResult{Err: newFragmentError(KindFragmentFetchError, err)}
	}
	req.Header.Set("Accept-Encoding", "gzip, br, zstd")
	forwardHeaders(req, incoming, public)

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return &fragmentResult{Err: newFragmentError(KindFragmentTimeout, ctx.Err())}
		}
		return &fragmentResult{Err: newFragmentError(KindFragmentFetchError, err)}
	}

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return &fragmentResult{
			StatusCode: resp.StatusCode,
			Err:        newFragmentError(KindFragmentHTTPError, httpStatusError(resp.StatusCode, body)),
		}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return &fragmentResult{
			StatusCode: resp.StatusCode,
			Err:        newFragmentError(KindFragmentHTTPError, httpStatusError(resp.StatusCode, nil)),
		}
	}

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return &fragmentResult{Err: newFragmentError(KindDecodeError, err)}
	}

	return &fragmentResult{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}
}

// forwardHeaders copies the allowed subset of the incoming request's headers
// onto the outgoing fragment request (spec §6): referer, accept-language,
// user-agent, and x-* (minus a blocklist) are always forwarded; cookie and
// authorization only if the fragment is public.
func forwardHeaders(req *http.Request, incoming *http.Request, public bool) {
	if incoming == nil {
		return
	}
	for name, vals := range incoming.Header {
		lower := strings.ToLower(name)
		switch {
		case lower == "referer", lower == "accept-language", lower == "user-agent":
		case strings.HasPrefix(lower, "x-") && !forwardedHeaderBlocklist[lower]:
		case public && (lower == "cookie" || lower == "authorization"):
		default:
			continue
		}
		for _, v := range vals {
			req.Header.Add(name, v)
		}
	}
}

// decodeBody transparently decodes a fragment response body per its
// Content-Encoding. gzip is always supported; zstd and brotli are decoded
// opportunistically using the same negotiated encodings advertised in the
// request (spec §4.3 "gzip decode", SPEC_FULL DOMAIN STACK).
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch enc {
	case "", "identity":
		return resp.Body, nil
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &readCloserPair{Reader: zr, closer: resp.Body}, nil
	case "br":
		return &readCloserPair{Reader: brotli.NewReader(resp.Body), closer: resp.Body}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, err
		}
		return &readCloserPair{Reader: zr.IOReadCloser(), closer: resp.Body}, nil
	default:
		return resp.Body, nil
	}
}

// readCloserPair closes both the decompressor and the underlying network
// body, since gzip/brotli/zstd readers don't always own the latter.
type readCloserPair struct {
	io.Reader
	closer io.Closer
}

func (r *readCloserPair) Close() error {
	if c, ok := r.Reader.(io.Closer); ok {
		c.Close()
	}
	return r.closer.Close()
}

type httpStatusErr struct {
	Status int
	Body   []byte
}

func (e *httpStatusErr) Error() string {
	var b bytes.Buffer
	b.WriteString("fragment upstream returned status ")
	b.WriteString(http.StatusText(e.Status))
	return b.String()
}

func httpStatusError(status int, body []byte) error {
	return &httpStatusErr{Status: status, Body: body}
}
