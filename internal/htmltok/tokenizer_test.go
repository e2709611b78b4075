package htmltok

import (
	"io"
	"testing"
)

func TestTokenizerBasic(t *testing.T) {
	src := `<fragment src="https://a/1" primary></fragment>hello<br/>`
	tz := New([]byte(src))

	var kinds []Kind
	for {
		tok, err := tz.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		kinds = append(kinds, tok.Kind)
		if tok.Kind == OpenTag && tok.Name == "fragment" {
			if tok.Attr["src"] != "https://a/1" {
				t.Errorf("expected src attr, got %q", tok.Attr["src"])
			}
			if _, ok := tok.Attr["primary"]; !ok {
				t.Errorf("expected primary attr present")
			}
		}
	}

	want := []Kind{OpenTag, CloseTag, Text, SelfClosing}
	if len(kinds) != len(want) {
		t.Fatalf("got %d tokens %v, want %d", len(kinds), kinds, len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("token %d: got %v, want %v", i, kinds[i], want[i])
		}
	}
}

func TestTokenizerMalformedDegradesToText(t *testing.T) {
	src := `<div`
	tz := New([]byte(src))
	tok, err := tz.Next()
	if err != nil && err != io.EOF {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Kind != Text || tok.Data != src {
		t.Errorf("expected truncated tag passed through as Text %q, got kind %v data %q", src, tok.Kind, tok.Data)
	}
}
