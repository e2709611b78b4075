// Package templatetag is a reference [compose.TagHandler]: it renders a
// custom tag by executing a named html/template with the tag's attributes,
// using the same function-map idiom as xtemplate's funcs.go (sprig plus a
// handful of markdown/sanitize/humanize/trust helpers), and lets the
// template defer additional fragments via ".DeferFragment".
package templatetag

import (
	"context"
	"fmt"
	"html/template"
	"io/fs"

	"github.com/Masterminds/sprig/v3"
	"github.com/infogulch/compose"
)

// Handler renders custom tags by name against a set of preparsed
// html/template definitions.
type Handler struct {
	tmpl *template.Template
}

// NewHandler parses every file matching pattern under root as a named
// template (its base filename is the tag name it answers for, with or
// without extension) using the merged sprig + templatetag func map (teacher
// idiom: xtemplate's templates.go ParseFS + FuncMap composition).
func NewHandler(root fs.FS, pattern string) (*Handler, error) {
	funcs := template.FuncMap{}
	for k, v := range sprig.HtmlFuncMap() {
		funcs[k] = v
	}
	for k, v := range baseFuncs {
		funcs[k] = v
	}
	t, err := template.New("templatetag").Funcs(funcs).ParseFS(root, pattern)
	if err != nil {
		return nil, fmt.Errorf("templatetag: parsing templates: %w", err)
	}
	return &Handler{tmpl: t}, nil
}

// Handle implements compose.TagHandler. It looks up a template named after
// the tag and streams its output as TagBody events, one per write the
// template makes, interleaved with one TagFragment event per call the
// template makes to ".DeferFragment".
func (h *Handler) Handle(ctx context.Context, name string, attrs map[string]string) *compose.TagStream {
	tmpl := h.tmpl.Lookup(name)
	if tmpl == nil {
		tmpl = h.tmpl.Lookup(name + ".html")
	}
	events := make(chan compose.TagEvent)
	errCh := make(chan error, 1)

	if tmpl == nil {
		close(events)
		errCh <- fmt.Errorf("templatetag: no template registered for tag %q", name)
		return &compose.TagStream{Events: events, Err: func() error { return <-errCh }}
	}

	tctx := &TagContext{Attrs: attrs, ctx: ctx, events: events}

	go func() {
		defer close(events)
		err := tmpl.Execute(&channelWriter{events: events}, tctx)
		errCh <- err
	}()

	return &compose.TagStream{Events: events, Err: func() error { return <-errCh }}
}

// channelWriter forwards each Write as a TagBody event, preserving the
// relative order of the template's literal output against any
// ".DeferFragment" calls made along the way.
type channelWriter struct {
	events chan<- compose.TagEvent
}

func (w *channelWriter) Write(p []byte) (int, error) {
	cp := append([]byte(nil), p...)
	w.events <- compose.TagEvent{Kind: compose.TagBody, Body: cp}
	return len(p), nil
}

// TagContext is "." inside a custom tag's template: its raw attributes plus
// the DeferFragment escape hatch for producing additional async fragments
// (teacher idiom: xtemplate's baseContext, trimmed to what a tag template
// needs).
type TagContext struct {
	Attrs map[string]string

	ctx    context.Context
	events chan<- compose.TagEvent
}

// Attr returns one attribute, or "" if unset.
func (c *TagContext) Attr(name string) string { return c.Attrs[name] }

// DeferFragment schedules src as an additional async fragment at this point
// in the tag's output, rendered the same way a parsed `<fragment async>`
// would be (spec's custom-tag delegation contract). It always returns "" so
// it can be used as a no-output template action.
func (c *TagContext) DeferFragment(src string, opts ...FragmentOption) (string, error) {
	d := &compose.Descriptor{Src: src, Async: true, TimeoutMs: 3000}
	for _, o := range opts {
		o(d)
	}
	c.events <- compose.TagEvent{Kind: compose.TagFragment, Descriptor: d}
	return "", nil
}

// FragmentOption adjusts a descriptor built by DeferFragment.
type FragmentOption func(*compose.Descriptor)

func WithFragmentID(id string) FragmentOption {
	return func(d *compose.Descriptor) { d.ID = id }
}

func WithFragmentFallback(src string) FragmentOption {
	return func(d *compose.Descriptor) { d.FallbackSrc = src }
}

func WithFragmentPublic() FragmentOption {
	return func(d *compose.Descriptor) { d.Public = true }
}

func WithFragmentTimeoutMs(ms int) FragmentOption {
	return func(d *compose.Descriptor) { d.TimeoutMs = ms }
}
