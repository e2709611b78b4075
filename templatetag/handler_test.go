package templatetag

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/infogulch/compose"
)

func TestHandleRendersBody(t *testing.T) {
	root := fstest.MapFS{
		"greeting.html": {Data: []byte(`Hello, {{.Attr "name"}}!`)},
	}
	h, err := NewHandler(root, "*.html")
	if err != nil {
		t.Fatal(err)
	}

	stream := h.Handle(context.Background(), "greeting", map[string]string{"name": "World"})
	var out []byte
	for ev := range stream.Events {
		if ev.Kind == compose.TagBody {
			out = append(out, ev.Body...)
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatal(err)
	}
	if string(out) != "Hello, World!" {
		t.Fatalf("got %q", out)
	}
}

func TestHandleDeferFragment(t *testing.T) {
	root := fstest.MapFS{
		"widget.html": {Data: []byte(`before{{.DeferFragment "http://upstream/widget"}}after`)},
	}
	h, err := NewHandler(root, "*.html")
	if err != nil {
		t.Fatal(err)
	}

	stream := h.Handle(context.Background(), "widget", nil)
	var body []byte
	var fragments []*compose.Descriptor
	for ev := range stream.Events {
		switch ev.Kind {
		case compose.TagBody:
			body = append(body, ev.Body...)
		case compose.TagFragment:
			fragments = append(fragments, ev.Descriptor)
		}
	}
	if err := stream.Err(); err != nil {
		t.Fatal(err)
	}
	if string(body) != "beforeafter" {
		t.Fatalf("got body %q", body)
	}
	if len(fragments) != 1 || fragments[0].Src != "http://upstream/widget" {
		t.Fatalf("unexpected fragments: %+v", fragments)
	}
}

func TestHandleUnknownTag(t *testing.T) {
	h, err := NewHandler(fstest.MapFS{"x.html": {Data: []byte("x")}}, "*.html")
	if err != nil {
		t.Fatal(err)
	}
	stream := h.Handle(context.Background(), "missing", nil)
	for range stream.Events {
	}
	if stream.Err() == nil {
		t.Fatal("expected error for unknown tag")
	}
}
