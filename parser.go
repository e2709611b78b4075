package compose

import (
	"bytes"
	stdhtml "html"
	"io"
	"strconv"
	"strings"

	"github.com/infogulch/compose/internal/htmltok"
)

// ParseOptions configures a single [Parse] call (spec §4.1, §6).
type ParseOptions struct {
	// HandledTags names tags the host's custom tag handler owns. Any open or
	// self-closing tag whose name appears here is emitted as a
	// [CustomTagInstr] instead of being treated as opaque literal markup.
	HandledTags map[string]bool

	// Child is the optional child template. Its top-level nodes are
	// distributed into the base template's named slots (spec §3 "Slot map").
	Child []byte
}

// slotNode is one top-level node of the child template, captured verbatim.
type slotNode struct {
	name  string
	bytes []byte
}

// Parse builds an ordered [Document] from base template bytes, resolving
// slot composition against an optional child template and synthesizing any
// missing `<html>`/`<head>`/`<body>` shell elements (spec §4.1). Parse never
// fails on malformed HTML; it degrades to literal passthrough instead.
func Parse(base []byte, opts ParseOptions) (*Document, error) {
	// Several unslotted child nodes all fill the default slot; only a
	// second default slot in base (see emitSlot) raises the warning.
	slots, _ := scanSlots(opts.Child)

	p := &parser{
		tz:      htmltok.New(base),
		handled: opts.HandledTags,
		slots:   slots,
	}
	p.current = &p.body
	p.run()
	p.flushLiteral()

	doc := &Document{Head: p.head, Body: p.body}
	if p.warnings {
		doc.Warnings = append(doc.Warnings, "duplicate default slot: only the first is rendered")
	}
	return doc, nil
}

// Warnings returned alongside a Document are surfaced by the host logger,
// not the client; duplicate default slots are the only case today (spec §3
// invariant "duplicates produce a warning but only the first is honored").
type parser struct {
	tz      *htmltok.Tokenizer
	handled map[string]bool
	slots   map[string][]slotNode

	head, body []Instruction
	current    *[]Instruction

	literal bytes.Buffer

	// fragmentStack tracks open (non-self-closing) <fragment>/<script
	// type="fragment"> elements so nested content can be discarded while
	// nested fragment tags are still recognized and flattened to siblings.
	fragmentStack []string

	// seenDefaultSlot guards the "at most one default slot" invariant.
	seenDefaultSlot bool
	warnings        bool
}

func (p *parser) run() {
	inHead := false
	for {
		tok, err := p.tz.Next()
		if err == io.EOF {
			return
		}

		switch tok.Kind {
		case htmltok.OpenTag, htmltok.SelfClosing:
			switch {
			case tok.Name == "html" && tok.Kind == htmltok.OpenTag:
				// swallowed: the assembler synthesizes <html> itself (spec
				// §3 "exactly one <html> ... appear in output")
			case tok.Name == "head" && tok.Kind == htmltok.OpenTag:
				p.flushLiteral()
				inHead = true
				p.current = &p.head
			case tok.Name == "body" && tok.Kind == htmltok.OpenTag:
				p.flushLiteral()
				inHead = false
				p.current = &p.body
			case isFragmentTag(tok):
				p.flushLiteral()
				p.emitFragment(tok)
			case isSlotTag(tok):
				p.flushLiteral()
				p.emitSlot(tok)
			case p.handled[tok.Name]:
				p.flushLiteral()
				p.emitCustomTag(tok)
			case len(p.fragmentStack) > 0:
				// discarded: non-fragment content inside a fragment subtree
			default:
				p.literal.Write(renderOpenTag(tok))
			}

		case htmltok.CloseTag:
			switch {
			case tok.Name == "html" || tok.Name == "head" || tok.Name == "body":
				p.flushLiteral()
			case len(p.fragmentStack) > 0 && tok.Name == p.fragmentStack[len(p.fragmentStack)-1]:
				p.fragmentStack = p.fragmentStack[:len(p.fragmentStack)-1]
			case len(p.fragmentStack) > 0:
				// stray close inside a fragment subtree: discarded
			default:
				p.literal.WriteString("</" + tok.Name + ">")
			}

		case htmltok.Text:
			if len(p.fragmentStack) == 0 {
				p.literal.WriteString(tok.Data)
			}

		case htmltok.Comment:
			if len(p.fragmentStack) == 0 {
				p.literal.Write([]byte(tok.Data))
			}

		case htmltok.Doctype:
			// swallowed: the synthesized shell always opens with <html>
			// directly (spec §3), so a source DOCTYPE has nowhere left in
			// the output order to sit ahead of it
		}
		_ = inHead
	}
}

func (p *parser) flushLiteral() {
	if p.literal.Len() == 0 {
		return
	}
	*p.current = append(*p.current, &Literal{Bytes: append([]byte(nil), p.literal.Bytes()...)})
	p.literal.Reset()
}

// isFragmentTag reports whether tok is a `<fragment>` element or a
// `<script type="fragment">` element (spec §4.1, §9 "Fragment tag
// attributes").
func isFragmentTag(tok htmltok.Token) bool {
	if tok.Name == "fragment" {
		return true
	}
	return tok.Name == "script" && tok.Attr["type"] == "fragment"
}

func isSlotTag(tok htmltok.Token) bool {
	if tok.Name == "slot" {
		return true
	}
	return tok.Name == "script" && tok.Attr["type"] == "slot"
}

// emitFragment builds a Descriptor from a fragment tag's attributes and
// appends the Fragment/AsyncPlaceholder instruction, flattening if nested
// inside another fragment's subtree (spec §4.1 "Nested fragments").
func (p *parser) emitFragment(tok htmltok.Token) {
	d := &Descriptor{
		ID:          tok.Attr["id"],
		Src:         tok.Attr["src"],
		FallbackSrc: tok.Attr["fallback-src"],
		Attrs:       tok.Attr,
	}
	if _, ok := tok.Attr["primary"]; ok {
		d.Primary = true
	}
	if _, ok := tok.Attr["async"]; ok {
		d.Async = true
	}
	if _, ok := tok.Attr["public"]; ok {
		d.Public = true
	}
	d.TimeoutMs = 3000
	if v := tok.Attr["timeout"]; v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			d.TimeoutMs = ms
		}
	}

	var inst Instruction
	if d.Async {
		inst = &AsyncPlaceholder{Descriptor: d}
	} else {
		inst = &FragmentInstr{Descriptor: d}
	}

	// `<script type="fragment">` is always positioned into <head> regardless
	// of its source position (spec §4.1).
	if tok.Name == "script" {
		p.head = append(p.head, inst)
	} else {
		*p.current = append(*p.current, inst)
	}

	if tok.Kind == htmltok.OpenTag {
		p.fragmentStack = append(p.fragmentStack, tok.Name)
	}
}

// emitSlot substitutes the matched child-template nodes for a `<slot>` (or
// `<script type="slot">`) element, falling back to the slot's own children
// when nothing matches (spec §3 "Slot map").
func (p *parser) emitSlot(tok htmltok.Token) {
	name := tok.Attr["name"]
	if name == "" {
		name = "default"
	}
	isDupeDefault := false
	if name == "default" {
		if p.seenDefaultSlot {
			p.warnings = true
			isDupeDefault = true
		}
		p.seenDefaultSlot = true
	}

	nodes, matched := p.slots[name]
	if isDupeDefault {
		// Only the first default slot is honored (spec §3 invariant); later
		// ones always fall back to their own children.
		matched = false
	}
	fallback := p.captureElementBody(tok)

	if matched && len(nodes) > 0 {
		for _, n := range nodes {
			*p.current = append(*p.current, &Literal{Bytes: n.bytes})
		}
		return
	}
	if len(fallback) > 0 {
		*p.current = append(*p.current, &Literal{Bytes: fallback})
	}
}

// captureElementBody consumes tokens up to and including the matching close
// tag for an already-seen open tag, returning a best-effort serialization of
// its inner content. Self-closing tags have no body.
func (p *parser) captureElementBody(open htmltok.Token) []byte {
	if open.Kind == htmltok.SelfClosing {
		return nil
	}
	var buf bytes.Buffer
	depth := 1
	for {
		tok, err := p.tz.Next()
		if err == io.EOF {
			break
		}
		switch tok.Kind {
		case htmltok.OpenTag:
			if tok.Name == open.Name {
				depth++
			}
			buf.Write(renderOpenTag(tok))
		case htmltok.SelfClosing:
			buf.Write(renderOpenTag(tok))
		case htmltok.CloseTag:
			if tok.Name == open.Name {
				depth--
				if depth == 0 {
					return buf.Bytes()
				}
			}
			buf.WriteString("</" + tok.Name + ">")
		case htmltok.Text:
			buf.WriteString(tok.Data)
		case htmltok.Comment, htmltok.Doctype:
			buf.Write([]byte(tok.Data))
		}
	}
	return buf.Bytes()
}

func (p *parser) emitCustomTag(tok htmltok.Token) {
	*p.current = append(*p.current, &CustomTagInstr{Name: tok.Name, Attrs: tok.Attr})
	if tok.Kind == htmltok.OpenTag {
		// Custom tags don't participate in fragment flattening; consume and
		// discard their body so nested markup isn't re-parsed as literal.
		p.captureElementBody(tok)
	}
}

// scanSlots groups the child template's top-level nodes by their `slot`
// attribute (default = unnamed or `name="default"`), per spec §3.
func scanSlots(child []byte) (map[string][]slotNode, bool) {
	slots := map[string][]slotNode{}
	if len(child) == 0 {
		return slots, false
	}

	tz := htmltok.New(child)
	dupe := false
	for {
		tok, err := tz.Next()
		if err == io.EOF {
			break
		}
		switch tok.Kind {
		case htmltok.OpenTag, htmltok.SelfClosing:
			name := tok.Attr["slot"]
			if name == "" {
				name = "default"
			}
			var raw bytes.Buffer
			raw.Write(renderOpenTag(tok))
			if tok.Kind == htmltok.OpenTag {
				raw.Write(captureRaw(tz, tok.Name))
			}
			if name == "default" && len(slots["default"]) > 0 {
				dupe = true
			}
			slots[name] = append(slots[name], slotNode{name: name, bytes: raw.Bytes()})
		case htmltok.Text:
			if strings.TrimSpace(tok.Data) == "" {
				continue
			}
			slots["default"] = append(slots["default"], slotNode{name: "default", bytes: []byte(tok.Data)})
		}
	}
	return slots, dupe
}

// captureRaw re-serializes tokens up to and including the matching close tag
// for name, used when pre-rendering child-template top-level nodes.
func captureRaw(tz *htmltok.Tokenizer, name string) []byte {
	var buf bytes.Buffer
	depth := 1
	for {
		tok, err := tz.Next()
		if err == io.EOF {
			break
		}
		switch tok.Kind {
		case htmltok.OpenTag:
			if tok.Name == name {
				depth++
			}
			buf.Write(renderOpenTag(tok))
		case htmltok.SelfClosing:
			buf.Write(renderOpenTag(tok))
		case htmltok.CloseTag:
			if tok.Name == name {
				depth--
				if depth == 0 {
					buf.WriteString("</" + tok.Name + ">")
					return buf.Bytes()
				}
			}
			buf.WriteString("</" + tok.Name + ">")
		case htmltok.Text:
			buf.WriteString(tok.Data)
		case htmltok.Comment, htmltok.Doctype:
			buf.Write([]byte(tok.Data))
		}
	}
	return buf.Bytes()
}

// renderOpenTag re-serializes a token's tag form, preserving source
// attribute order.
func renderOpenTag(tok htmltok.Token) []byte {
	var b bytes.Buffer
	b.WriteByte('<')
	b.WriteString(tok.Name)
	for _, k := range tok.AttrOrder {
		b.WriteByte(' ')
		b.WriteString(k)
		if v := tok.Attr[k]; v != "" {
			b.WriteString(`="`)
			b.WriteString(stdhtml.EscapeString(v))
			b.WriteByte('"')
		}
	}
	if tok.Kind == htmltok.SelfClosing {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.Bytes()
}
