package templatetag

import (
	"bytes"
	"fmt"
	"html/template"
	"reflect"
	"strconv"
	"strings"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"
	"github.com/segmentio/ksuid"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	gmhtml "github.com/yuin/goldmark/renderer/html"
)

// baseFuncs is merged with sprig's FuncMap to build the default template
// execution environment for a custom tag (teacher idiom: xtemplate's
// funcs.go xtemplateFuncs, trimmed to the subset that is standalone — the
// HandlerError-based control-flow funcs (abortWithStatus, return, status)
// depended on xtemplate's own response-abort machinery and have no
// equivalent here).
var baseFuncs = template.FuncMap{
	"sanitizeHtml":     funcSanitizeHtml,
	"markdown":         funcMarkdown,
	"splitFrontMatter": funcSplitFrontMatter,
	"humanize":         funcHumanize,
	"trustHtml":        funcTrustHtml,
	"trustAttr":        funcTrustAttr,
	"trustJS":          funcTrustJS,
	"trustJSStr":       funcTrustJSStr,
	"trustSrcSet":      funcTrustSrcSet,
	"ksuid":            funcKsuid,
	"idx":              funcIdx,
}

var blueMondayPolicies = map[string]*bluemonday.Policy{
	"strict": bluemonday.StrictPolicy(),
	"ugc":    bluemonday.UGCPolicy(),
	"externalugc": bluemonday.UGCPolicy().
		AddTargetBlankToFullyQualifiedLinks(true).
		AllowRelativeURLs(false),
}

func funcSanitizeHtml(policyName string, html string) (template.HTML, error) {
	policy, ok := blueMondayPolicies[policyName]
	if !ok {
		return "", fmt.Errorf("no such sanitize policy: %q", policyName)
	}
	return template.HTML(policy.Sanitize(html)), nil
}

// funcMarkdown renders input as HTML. The result is unescaped so it can be
// dropped directly into a template as HTML.
func funcMarkdown(input string) (template.HTML, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			highlighting.NewHighlighting(highlighting.WithFormatOptions(chromahtml.WithClasses(true))),
		),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
	)
	var buf bytes.Buffer
	if err := md.Convert([]byte(input), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

// parsedMarkdownDoc is the result of funcSplitFrontMatter.
type parsedMarkdownDoc struct {
	Meta string
	Body string
}

// funcSplitFrontMatter separates a leading "---\n...\n---\n" block from the
// rest of input. Meta is returned as the raw text between the delimiters,
// unparsed — callers that need structured front matter should pass Meta
// through their own YAML func.
func funcSplitFrontMatter(input string) (parsedMarkdownDoc, error) {
	const delim = "---"
	if !strings.HasPrefix(input, delim) {
		return parsedMarkdownDoc{Body: input}, nil
	}
	rest := input[len(delim):]
	rest = strings.TrimPrefix(rest, "\n")
	end := strings.Index(rest, "\n"+delim)
	if end == -1 {
		return parsedMarkdownDoc{Body: input}, nil
	}
	meta := rest[:end]
	body := rest[end+1+len(delim):]
	body = strings.TrimPrefix(body, "\n")
	return parsedMarkdownDoc{Meta: meta, Body: body}, nil
}

func funcTrustHtml(s string) template.HTML       { return template.HTML(s) }
func funcTrustAttr(s string) template.HTMLAttr   { return template.HTMLAttr(s) }
func funcTrustJS(s string) template.JS           { return template.JS(s) }
func funcTrustJSStr(s string) template.JSStr     { return template.JSStr(s) }
func funcTrustSrcSet(s string) template.Srcset   { return template.Srcset(s) }

func funcIdx(idx int, arr any) any {
	return reflect.ValueOf(arr).Index(idx).Interface()
}

func funcKsuid() ksuid.KSUID { return ksuid.New() }

// funcHumanize formats data into a human-readable string: a byte count when
// formatType is "size", or a time value when it is "time[:layout]".
func funcHumanize(formatType, data string) (string, error) {
	parts := strings.SplitN(formatType, ":", 2)
	switch parts[0] {
	case "size":
		n, err := strconv.ParseUint(data, 10, 64)
		if err != nil {
			return "", fmt.Errorf("humanize: size cannot be parsed: %w", err)
		}
		return humanize.Bytes(n), nil
	case "time":
		layout := time.RFC1123Z
		if len(parts) > 1 {
			layout = parts[1]
		}
		t, err := time.Parse(layout, data)
		if err != nil {
			return "", fmt.Errorf("humanize: time cannot be parsed: %w", err)
		}
		return humanize.Time(t), nil
	}
	return "", fmt.Errorf("humanize: unknown format type %q", formatType)
}
