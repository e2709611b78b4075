package compose

import (
	"net/url"
	"strconv"
)

// Descriptor is a fragment descriptor, produced by the parser and mutated
// once by the orchestrator when context overrides apply (spec §3).
type Descriptor struct {
	// ID is the `id` attribute, or "" if none was given; in that case pipe
	// hooks and trace spans use the fragment's Lo index instead.
	ID string

	Src         string
	FallbackSrc string

	Primary bool
	Async   bool
	Public  bool

	TimeoutMs int

	// Attrs holds every attribute observed on the fragment tag, including
	// ones not otherwise promoted to a typed field above. Passed to
	// Config.PipeAttributes to build the pipe hook's attribute object.
	Attrs map[string]string

	// Lo and Hi are the contiguous pipe-index span this fragment occupies.
	// Lo equals the fragment's own index; Hi = Lo + max(0, assetScriptCount-1).
	// Assigned by the pipe-asset planner at render time, once the fragment's
	// response headers are known (spec §4.6).
	Lo, Hi int
}

// effectiveID returns the descriptor's explicit id, or its Lo index as a
// string if none was given (spec §4.5 "id is the descriptor's explicit id
// if given, else the fragment's lo index").
func (d *Descriptor) effectiveID() string {
	if d.ID != "" {
		return d.ID
	}
	return strconv.Itoa(d.Lo)
}

// AssetEntry is a single entry parsed out of a Link (or X-AMZ-Meta-Link)
// response header (spec §3, §4.2).
type AssetEntry struct {
	Href        string
	Rel         string // "stylesheet" or "fragment-script"
	CrossOrigin bool
}

// Instruction is one element of the ordered instruction list produced by
// [Parse]. It is one of *Literal, *FragmentInstr, *AsyncPlaceholder, or
// *CustomTagInstr.
type Instruction interface {
	isInstruction()
}

// Literal is a run of bytes passed through verbatim.
type Literal struct {
	Bytes []byte
}

func (*Literal) isInstruction() {}

// FragmentInstr is a placeholder to be rendered by the orchestrator. Sync
// fragments are rendered inline, in document order; see [AsyncPlaceholder]
// for the async counterpart.
type FragmentInstr struct {
	Descriptor *Descriptor
}

func (*FragmentInstr) isInstruction() {}

// AsyncPlaceholder is emitted inline for an async fragment; its body is
// rendered later, in the drain region (spec §4.4, §4.5).
type AsyncPlaceholder struct {
	Descriptor *Descriptor
}

func (*AsyncPlaceholder) isInstruction() {}

// CustomTagInstr delegates rendering to the host's tag handler (spec §6,
// §4.4 "Custom tags").
type CustomTagInstr struct {
	Name  string
	Attrs map[string]string
}

func (*CustomTagInstr) isInstruction() {}

// Document is the output of [Parse]: an ordered instruction list plus the
// document-shell state needed to synthesize missing `<html>`/`<head>`/
// `<body>` elements (spec §4.1).
type Document struct {
	Head []Instruction
	Body []Instruction

	// NextIndex is not set by [Parse] and is not read by the renderer: pipe
	// indices, including those of dynamic fragments emitted by a custom
	// tag's stream, are all assigned at render time (spec §4.4, §4.6).
	NextIndex int

	// Warnings holds host-visible (never client-visible) parse warnings,
	// such as a duplicate default slot (spec §3 invariant "duplicates
	// produce a warning but only the first is honored").
	Warnings []string
}

// sameOrigin reports whether href's host equals the given incoming request
// Host; the scheme is not compared. Relative and unparseable hrefs count as
// same-origin (spec §4.2, §9 "same-origin detection").
func sameOrigin(href, requestHost string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return true
	}
	if u.Host == "" {
		// relative URL: always same-origin
		return true
	}
	return u.Host == requestHost
}
