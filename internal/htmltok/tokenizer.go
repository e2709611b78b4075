// Package htmltok tokenizes an HTML byte stream into a small set of events
// tuned for fragment-aware rewriting (spec §4.1, component "HTML tokenizer").
// It is a thin wrapper over golang.org/x/net/html's low-level Tokenizer,
// which is built for exactly this kind of streaming rewrite rather than full
// tree construction.
package htmltok

import (
	"io"

	"golang.org/x/net/html"
)

// Kind identifies the category of a Token.
type Kind int

const (
	Text Kind = iota
	OpenTag
	CloseTag
	SelfClosing
	Comment
	Doctype
)

// Token is one event emitted by the Tokenizer.
type Token struct {
	Kind Kind
	Name string // tag name for OpenTag/CloseTag/SelfClosing
	Attr map[string]string
	// AttrOrder preserves the source order of attribute names, since Attr is
	// a map; useful only for round-tripping unrecognized tags.
	AttrOrder []string
	Data string // raw source for Text/Comment/Doctype; empty for tags
}

// Tokenizer tokenizes HTML bytes into a stream of [Token] values.
type Tokenizer struct {
	z *html.Tokenizer
}

// New returns a Tokenizer reading from src.
func New(src []byte) *Tokenizer {
	return &Tokenizer{z: html.NewTokenizer(newByteReader(src))}
}

// Next returns the next token, or io.EOF when the input is exhausted.
// Malformed HTML never causes an error; the tokenizer degrades to emitting
// the offending bytes as Text (spec §4.1 "Parser itself is infallible").
func (t *Tokenizer) Next() (Token, error) {
	tt := t.z.Next()
	switch tt {
	case html.ErrorToken:
		if err := t.z.Err(); err == io.EOF {
			// A tag cut off by the end of input is passed through as Text;
			// the following call then reports io.EOF.
			if raw := t.z.Raw(); len(raw) > 0 {
				return Token{Kind: Text, Data: string(raw)}, nil
			}
			return Token{}, io.EOF
		}
		// Any other tokenizer error (malformed byte sequence, etc.) degrades
		// to literal passthrough of whatever raw bytes were consumed.
		return Token{Kind: Text, Data: string(t.z.Raw())}, nil
	case html.TextToken:
		return Token{Kind: Text, Data: string(t.z.Raw())}, nil
	case html.CommentToken:
		return Token{Kind: Comment, Data: string(t.z.Raw())}, nil
	case html.DoctypeToken:
		return Token{Kind: Doctype, Data: string(t.z.Raw())}, nil
	case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
		name, hasAttr := t.z.TagName()
		tok := Token{Name: string(name)}
		switch tt {
		case html.StartTagToken:
			tok.Kind = OpenTag
		case html.EndTagToken:
			tok.Kind = CloseTag
		case html.SelfClosingTagToken:
			tok.Kind = SelfClosing
		}
		if hasAttr {
			tok.Attr = map[string]string{}
			for {
				key, val, more := t.z.TagAttr()
				k := string(key)
				tok.Attr[k] = string(val)
				tok.AttrOrder = append(tok.AttrOrder, k)
				if !more {
					break
				}
			}
		}
		return tok, nil
	default:
		return Token{Kind: Text, Data: string(t.z.Raw())}, nil
	}
}

// byteReader adapts a []byte to io.Reader without an extra copy.
type byteReader struct {
	b []byte
	i int
}

func newByteReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
