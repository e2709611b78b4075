package compose

import (
	"regexp"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
)

// newHTMLMinifier builds the minifier used to compact template bytes before
// [Parse] tokenizes them, when [Config.MinifyHTML] is enabled (teacher
// idiom: xtemplate's instance.go `config.Minify` setup, which minifies each
// template file's raw content before it's parsed).
func newHTMLMinifier() *minify.M {
	m := minify.New()
	m.Add("text/css", &css.Minifier{})
	// <html>/<head>/<body> steer where Parse puts content, so they are kept,
	// as are end tags, so literal markup keeps its shape.
	m.Add("text/html", &html.Minifier{KeepDocumentTags: true, KeepEndTags: true})
	m.AddRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), &js.Minifier{})
	return m
}

// minifyTemplate compacts base (and, if present, child) template bytes. A
// minifier error degrades to the original bytes rather than failing the
// request — minification is a size optimization, never load-bearing for
// correctness (same posture as spec §7 DECODE_ERROR: best-effort, logged,
// never propagated to the client).
func minifyTemplate(m *minify.M, content []byte) []byte {
	out, err := m.Bytes("text/html", content)
	if err != nil {
		return content
	}
	return out
}
