package compose

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// pipeID resolves the value written as a start/end call's id argument: the
// descriptor's explicit id (a JSON string) if set, else its lo index as a
// JSON number (spec §4.5 "id is the descriptor's explicit id if given, else
// the fragment's lo index (as an integer)").
func pipeID(d *Descriptor) any {
	if d.ID != "" {
		return d.ID
	}
	return d.Lo
}

// pipeAttrObject builds the third argument to a scripted p.start(i, href,
// arg) call. "id" and "range" always come first, in that order, since the
// golden fixtures assert the literal bytes (spec §9 design note "Dynamic
// attribute objects"); any keys contributed by Config.PipeAttributes are
// appended after, sorted for determinism.
func pipeAttrObject(d *Descriptor, pipeAttributes func(map[string]string) any) json.RawMessage {
	var b strings.Builder
	b.WriteString(`{"id":`)
	idJSON, _ := json.Marshal(pipeID(d))
	b.Write(idJSON)
	b.WriteString(`,"range":[`)
	b.WriteString(strconv.Itoa(d.Lo))
	b.WriteByte(',')
	b.WriteString(strconv.Itoa(d.Hi))
	b.WriteString(`]`)

	if pipeAttributes != nil {
		if extra, ok := pipeAttributes(d.Attrs).(map[string]any); ok && len(extra) > 0 {
			keys := make([]string, 0, len(extra))
			for k := range extra {
				if k == "id" || k == "range" {
					continue
				}
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				b.WriteByte(',')
				kJSON, _ := json.Marshal(k)
				vJSON, _ := json.Marshal(extra[k])
				b.Write(kJSON)
				b.WriteByte(':')
				b.Write(vJSON)
			}
		}
	}
	b.WriteByte('}')
	return json.RawMessage(b.String())
}

// writeStartTags writes the (possibly nested) p.start calls opening a
// fragment's region, for scriptAssets.length nested levels (spec §4.5
// "Pipe-hook format").
func writeStartTags(w io.Writer, instanceName string, d *Descriptor, scriptAssets []AssetEntry, pipeAttributes func(map[string]string) any) {
	if len(scriptAssets) == 0 {
		fmt.Fprintf(w, `<script data-pipe>%s.start(%d)</script>`, instanceName, d.Lo)
		return
	}
	for i, a := range scriptAssets {
		idx := d.Lo + i
		argJSON := pipeAttrObject(d, pipeAttributes)
		fmt.Fprintf(w, `<script data-pipe>%s.start(%d, %s, %s)</script>`, instanceName, idx, strconv.Quote(a.Href), argJSON)
	}
}

// writeEndTags closes a fragment's region: for N nested starts, N ends in
// reverse index order (spec §4.5).
func writeEndTags(w io.Writer, instanceName string, d *Descriptor, scriptCount int) {
	if scriptCount == 0 {
		fmt.Fprintf(w, `<script data-pipe>%s.end(%d)</script>`, instanceName, d.Lo)
		return
	}
	for i := scriptCount - 1; i >= 0; i-- {
		idx := d.Lo + i
		fmt.Fprintf(w, `<script data-pipe>%s.end(%d)</script>`, instanceName, idx)
	}
}

// writeLoadCSS writes one p.loadCSS(href) call per stylesheet asset (spec
// §4.5 "plus p.loadCSS(href) per stylesheet").
func writeLoadCSS(w io.Writer, instanceName string, stylesheets []AssetEntry) {
	for _, a := range stylesheets {
		fmt.Fprintf(w, `<script data-pipe>%s.loadCSS(%s)</script>`, instanceName, strconv.Quote(a.Href))
	}
}

// writePlaceholder writes the inline marker for an async fragment (spec
// §4.5).
func writePlaceholder(w io.Writer, instanceName string, d *Descriptor) {
	fmt.Fprintf(w, `<script data-pipe>%s.placeholder(%d)</script>`, instanceName, d.Lo)
}

// buildLinkHeader constructs the outer response's Link preload header: the
// AMD loader (if configured), followed by the primary fragment's
// stylesheets and fragment-scripts, capped by maxAssetLinks (spec §4.5
// "Headers on the outer response"). It returns "" when amdLoaderURL is
// empty; [PrepareRender] does not call it at all when the pipe runtime is
// inlined (Config.PipeDefinition set).
func buildLinkHeader(amdLoaderURL string, amdCrossOrigin bool, primaryStylesheets, primaryScripts []AssetEntry, maxAssetLinks int) string {
	if amdLoaderURL == "" {
		return ""
	}
	var parts []string
	amd := fmt.Sprintf(`<%s>; rel="preload"; as="script"; nopush`, amdLoaderURL)
	if amdCrossOrigin {
		amd += `; crossorigin`
	}
	parts = append(parts, amd)

	if maxAssetLinks <= 0 {
		maxAssetLinks = 1
	}
	for i, a := range primaryStylesheets {
		if i >= maxAssetLinks {
			break
		}
		parts = append(parts, linkPreloadEntry(a, "style"))
	}
	for i, a := range primaryScripts {
		if i >= maxAssetLinks {
			break
		}
		parts = append(parts, linkPreloadEntry(a, "script"))
	}
	return strings.Join(parts, ", ")
}

func linkPreloadEntry(a AssetEntry, as string) string {
	s := fmt.Sprintf(`<%s>; rel="preload"; as="%s"; nopush`, a.Href, as)
	if a.CrossOrigin {
		s += `; crossorigin`
	}
	return s
}

// writePreamble writes <html><head>, head-destined content, and either the
// inline pipe runtime <script> (when pipeDefinition is set) or the AMD
// loader <script> (spec §4.5 step 1). It writes no preload <link> tags; the
// preload entries exist only in the outer response's Link header.
func writePreamble(w io.Writer, headBytes []byte, amdLoaderURL, pipeDefinition, pipeInstanceName string) {
	io.WriteString(w, "<html><head>")
	w.Write(headBytes)
	if amdLoaderURL != "" && pipeDefinition == "" {
		fmt.Fprintf(w, `<script src=%s async></script>`, strconv.Quote(amdLoaderURL))
	}
	if pipeDefinition != "" {
		fmt.Fprintf(w, `<script>var %s=%s</script>`, pipeInstanceName, pipeDefinition)
	}
	io.WriteString(w, "</head>")
}
