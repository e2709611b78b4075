package compose

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/opentracing/opentracing-go"
)

// fragmentFuture is resolved exactly once by the goroutine that fetches its
// descriptor; the document walk blocks on wait() at the point in document
// order where it needs that fragment's headers. wait() memoizes its result
// so it can be called more than once (the primary fragment's headers are
// consulted both before the shell is committed and again when its own
// instruction is reached in document order).
type fragmentFuture struct {
	ch   chan *fragmentResult
	once sync.Once
	res  *fragmentResult
}

func newFragmentFuture() *fragmentFuture { return &fragmentFuture{ch: make(chan *fragmentResult, 1)} }

func (f *fragmentFuture) resolve(r *fragmentResult) { f.ch <- r }

func (f *fragmentFuture) wait() *fragmentResult {
	f.once.Do(func() { f.res = <-f.ch })
	return f.res
}

// renderState carries everything the document walk needs, threaded through
// instead of captured by closures so tests can construct it directly.
type renderState struct {
	cfg     *Config
	r       *http.Request
	planner *pipePlanner
	futures map[*Descriptor]*fragmentFuture

	drain      chan drainItem
	drainCount int
}

type drainItem struct {
	d           *Descriptor
	stylesheets []AssetEntry
	scripts     []AssetEntry
	body        []byte
	err         *fragmentError
}

// collectDescriptors walks a Document in head-then-body order, the order
// pipe indices are assigned in (spec §4.6 "parser order").
func collectDescriptors(doc *Document) []*Descriptor {
	var out []*Descriptor
	for _, list := range [][]Instruction{doc.Head, doc.Body} {
		for _, inst := range list {
			switch v := inst.(type) {
			case *FragmentInstr:
				out = append(out, v.Descriptor)
			case *AsyncPlaceholder:
				out = append(out, v.Descriptor)
			}
		}
	}
	return out
}

// applyContextOverride merges a per-request attribute override onto a
// descriptor built by the parser (spec §3: "templateAttrs ⊕
// contextOverrides[id]", overrides take precedence). Overrides are matched
// by the fragment's explicit id attribute.
func applyContextOverride(d *Descriptor, override map[string]string) {
	if override == nil {
		return
	}
	if v, ok := override["src"]; ok {
		d.Src = v
	}
	if v, ok := override["fallback-src"]; ok {
		d.FallbackSrc = v
	}
	if v, ok := override["primary"]; ok {
		d.Primary = v != "" && v != "false"
	}
	if v, ok := override["async"]; ok {
		d.Async = v != "" && v != "false"
	}
	if v, ok := override["public"]; ok {
		d.Public = v != "" && v != "false"
	}
	if v, ok := override["timeout"]; ok {
		if ms, err := strconv.Atoi(v); err == nil {
			d.TimeoutMs = ms
		}
	}
	if d.Attrs == nil {
		d.Attrs = map[string]string{}
	}
	for k, v := range override {
		d.Attrs[k] = v
	}
}

// findPrimary returns the first descriptor with Primary=true in the given
// document-order list (spec §4.4 "first parser-position primary").
func findPrimary(descriptors []*Descriptor) *Descriptor {
	for _, d := range descriptors {
		if d.Primary {
			return d
		}
	}
	return nil
}

// Render is a prepared, request-scoped rendering of a [Document]. Call
// [PrepareRender] to obtain one: it launches every fragment fetch eagerly
// and resolves the primary fragment (if any), so Status and Header are
// already final by the time it returns — safe to write as the real HTTP
// response's status line and headers before [Render.Stream] produces a
// single byte of body.
type Render struct {
	cfg     *Config
	r       *http.Request
	doc     *Document
	st      *renderState
	span    opentracing.Span
	failed  bool

	Status int
	Header http.Header
}

// PrepareRender launches every fragment fetch in doc and blocks only on the
// primary fragment's headers (if any), per spec §4.4 "Primary propagation".
func PrepareRender(ctx context.Context, doc *Document, cfg *Config, r *http.Request, overrides map[string]map[string]string) (*Render, context.Context) {
	span, ctx := startServerSpan(ctx, cfg.Tracer, r)

	descriptors := collectDescriptors(doc)
	for _, d := range descriptors {
		if d.ID != "" {
			applyContextOverride(d, overrides[d.ID])
		}
	}

	st := &renderState{
		cfg:     cfg,
		r:       r,
		planner: newPipePlanner(cfg.MaxAssetLinks),
		futures: map[*Descriptor]*fragmentFuture{},
		drain:   make(chan drainItem, len(descriptors)),
	}

	for _, d := range descriptors {
		fut := newFragmentFuture()
		st.futures[d] = fut
		go func(d *Descriptor, fut *fragmentFuture) {
			fspan := startFragmentSpan(ctx, cfg.Tracer, d)
			res := fetchFragment(ctx, cfg.Client, d, r)
			finishFragmentSpan(fspan, res.Err)
			fut.resolve(res)
		}(d, fut)
	}

	primary := findPrimary(descriptors)
	rr := &Render{cfg: cfg, r: r, doc: doc, st: st, span: span, Status: http.StatusOK, Header: http.Header{}}

	var primaryStylesheets, primaryScripts []AssetEntry
	if primary != nil {
		res := st.futures[primary].wait()
		if res.Err != nil {
			rr.failed = true
			rr.Status = http.StatusInternalServerError
			// Set even though Stream writes no body for this path: net/http's
			// content sniffing only ever runs against bytes that are actually
			// written, so the shell-less failure response needs it set here
			// explicitly (spec §6 "Content-Type: text/html").
			rr.Header.Set("Content-Type", "text/html")
			finishServerSpan(span, rr.Status, res.Err)
			return rr, ctx
		}
		rr.Status = res.StatusCode
		rr.Header = curateHeaders(primary, res.Header, cfg)
		primaryStylesheets, primaryScripts = assetsForFragment(res.Header, requestHost(r), cfg.MaxAssetLinks)
	}

	// The AMD-loader preload link is sent whenever an external loader is
	// configured and the runtime is not inlined via PipeDefinition (spec
	// §4.5 "Headers on the outer response"), whether or not there is a
	// primary; the primary fragment's own asset links, if any, are appended.
	if cfg.PipeDefinition == "" {
		if link := buildLinkHeader(cfg.AmdLoaderUrl, !sameOrigin(cfg.AmdLoaderUrl, requestHost(r)), primaryStylesheets, primaryScripts, cfg.MaxAssetLinks); link != "" {
			rr.Header.Set("Link", link)
		}
	}
	rr.Header.Set("Content-Type", "text/html")
	rr.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	rr.Header.Set("Pragma", "no-cache")

	return rr, ctx
}

// Stream writes the shell, interleaved sync-fragment bodies, and the
// drained async regions directly to w, flushing after each region when w
// implements http.Flusher (spec §4.5, §2 "client receives ... as bytes
// arrive").
func (rr *Render) Stream(w io.Writer) {
	if rr.failed {
		// spec §4.4: "If the primary fails terminally, the outer response
		// is 500 with no body shell."
		return
	}

	writePreamble(w, renderInstructionsTo(rr.doc.Head, rr.st), rr.cfg.AmdLoaderUrl, rr.cfg.PipeDefinition, rr.cfg.PipeInstanceName)
	flush(w)

	io.WriteString(w, "<body>")
	for _, inst := range rr.doc.Body {
		renderInstruction(w, inst, rr.st)
		flush(w)
	}

	flushDrain(w, rr.st)
	io.WriteString(w, "</body></html>")

	finishServerSpan(rr.span, rr.Status, nil)
}

type flusher interface{ Flush() }

func flush(w io.Writer) {
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
}

func requestHost(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Host
}

// curateHeaders extracts the propagated subset of a primary fragment's
// response headers (spec §4.4 "a curated subset of its headers (location,
// set-cookie)").
func curateHeaders(d *Descriptor, h http.Header, cfg *Config) http.Header {
	out := http.Header{}
	if v := h.Get("Location"); v != "" {
		out.Set("Location", v)
	}
	if vs := h.Values("Set-Cookie"); len(vs) > 0 {
		for _, v := range vs {
			out.Add("Set-Cookie", v)
		}
	}
	if d.Public && cfg.FilterResponseHeaders != nil {
		out = cfg.FilterResponseHeaders(d.Attrs, out)
	}
	return out
}

// renderInstructionsTo renders a list (used for head content, which must be
// fully materialized before <head> closes) to a throwaway buffer-backed
// writer and returns the bytes.
func renderInstructionsTo(list []Instruction, st *renderState) []byte {
	pr, pw := io.Pipe()
	done := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(pr)
		done <- b
	}()
	for _, inst := range list {
		renderInstruction(pw, inst, st)
	}
	pw.Close()
	return <-done
}

func renderInstruction(w io.Writer, inst Instruction, st *renderState) {
	switch v := inst.(type) {
	case *Literal:
		w.Write(v.Bytes)
	case *FragmentInstr:
		renderSyncFragment(w, v.Descriptor, st)
	case *AsyncPlaceholder:
		renderAsyncPlaceholder(w, v.Descriptor, st)
	case *CustomTagInstr:
		renderCustomTag(w, v, st)
	}
}

// renderSyncFragment awaits a fragment's headers, writes its bracketing
// pipe hooks, and pipes its body through inline (spec §4.4 "Sync vs
// async").
func renderSyncFragment(w io.Writer, d *Descriptor, st *renderState) {
	res := st.futures[d].wait()
	if res.Err != nil {
		collapseFragment(w, st, d)
		return
	}

	stylesheets, scripts := assetsForFragment(res.Header, requestHost(st.r), st.cfg.MaxAssetLinks)
	lo, hi := st.planner.reserve(len(scripts) - 1)
	d.Lo, d.Hi = lo, hi

	writeStartTags(w, st.cfg.PipeInstanceName, d, scripts, st.cfg.PipeAttributes)
	writeLoadCSS(w, st.cfg.PipeInstanceName, stylesheets)
	io.Copy(w, res.Body)
	res.Body.Close()
	writeEndTags(w, st.cfg.PipeInstanceName, d, len(scripts))
}

// collapseFragment emits an empty, hook-bracketed region for a failed
// fragment so the client pipe runtime still completes its bookkeeping
// (spec §7 "region collapse").
func collapseFragment(w io.Writer, st *renderState, d *Descriptor) {
	lo, hi := st.planner.reserve(0)
	d.Lo, d.Hi = lo, hi
	writeStartTags(w, st.cfg.PipeInstanceName, d, nil, st.cfg.PipeAttributes)
	writeEndTags(w, st.cfg.PipeInstanceName, d, 0)
}

// renderAsyncPlaceholder writes the inline marker and any loadCSS calls,
// then hands the fragment off to the drain queue (spec §4.4 "Sync vs
// async").
func renderAsyncPlaceholder(w io.Writer, d *Descriptor, st *renderState) {
	res := st.futures[d].wait()
	if res.Err != nil {
		lo, hi := st.planner.reserve(0)
		d.Lo, d.Hi = lo, hi
		writePlaceholder(w, st.cfg.PipeInstanceName, d)
		st.drainCount++
		st.drain <- drainItem{d: d, err: res.Err}
		return
	}

	stylesheets, scripts := assetsForFragment(res.Header, requestHost(st.r), st.cfg.MaxAssetLinks)
	lo, hi := st.planner.reserve(len(scripts) - 1)
	d.Lo, d.Hi = lo, hi

	writePlaceholder(w, st.cfg.PipeInstanceName, d)
	writeLoadCSS(w, st.cfg.PipeInstanceName, stylesheets)

	st.drainCount++
	go func() {
		body, _ := io.ReadAll(res.Body)
		res.Body.Close()
		st.drain <- drainItem{d: d, stylesheets: stylesheets, scripts: scripts, body: body}
	}()
}

// flushDrain writes every drained fragment's start/body/end in the order
// its body finished downloading (spec §4.5 step 3, §9 "fetch-completion
// order").
func flushDrain(w io.Writer, st *renderState) {
	for i := 0; i < st.drainCount; i++ {
		item := <-st.drain
		if item.err != nil {
			writeStartTags(w, st.cfg.PipeInstanceName, item.d, nil, st.cfg.PipeAttributes)
			writeEndTags(w, st.cfg.PipeInstanceName, item.d, 0)
			flush(w)
			continue
		}
		writeStartTags(w, st.cfg.PipeInstanceName, item.d, item.scripts, st.cfg.PipeAttributes)
		w.Write(item.body)
		writeEndTags(w, st.cfg.PipeInstanceName, item.d, len(item.scripts))
		flush(w)
	}
}

// renderCustomTag delegates to the host's tag handler and consumes its
// stream, treating any dynamically produced fragment as an async fragment
// appended to the drain queue (spec §4.4 "Custom tags").
func renderCustomTag(w io.Writer, ct *CustomTagInstr, st *renderState) {
	if st.cfg.HandleTag == nil {
		return
	}
	stream := st.cfg.HandleTag(st.r.Context(), ct.Name, ct.Attrs)
	if stream == nil {
		return
	}
	for ev := range stream.Events {
		switch ev.Kind {
		case TagBody:
			w.Write(ev.Body)
		case TagFragment:
			d := ev.Descriptor
			lo, hi := st.planner.reserve(0)
			d.Lo, d.Hi = lo, hi
			writePlaceholder(w, st.cfg.PipeInstanceName, d)
			st.drainCount++
			go func(d *Descriptor) {
				res := fetchFragment(st.r.Context(), st.cfg.Client, d, st.r)
				if res.Err != nil {
					st.drain <- drainItem{d: d, err: res.Err}
					return
				}
				body, _ := io.ReadAll(res.Body)
				res.Body.Close()
				stylesheets, scripts := assetsForFragment(res.Header, requestHost(st.r), st.cfg.MaxAssetLinks)
				st.drain <- drainItem{d: d, stylesheets: stylesheets, scripts: scripts, body: body}
			}(d)
		}
	}
	if stream.Err != nil {
		_ = stream.Err()
	}
}
