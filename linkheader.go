package compose

import (
	"net/http"
	"strings"
)

// parseLinkHeader parses a comma-separated RFC 5988 Link header value into
// typed [AssetEntry] values, keeping only recognized rels (spec §4.2).
//
// Grounded on caddyserver/caddy's push middleware Link-header parser
// (caddyhttp/push/link_parser.go), generalized to compute CrossOrigin from
// the incoming request's Host and to recognize "fragment-script" alongside
// "stylesheet".
func parseLinkHeader(header, requestHost string) []AssetEntry {
	var entries []AssetEntry
	if header == "" {
		return entries
	}

	for _, link := range splitLinkEntries(header) {
		li, ri := strings.Index(link, "<"), strings.Index(link, ">")
		if li == -1 || ri == -1 || ri < li {
			continue
		}
		href := strings.TrimSpace(link[li+1 : ri])

		params := map[string]string{}
		for _, param := range strings.Split(strings.TrimSpace(link[ri+1:]), ";") {
			param = strings.TrimSpace(param)
			if param == "" {
				continue
			}
			kv := strings.SplitN(param, "=", 2)
			key := strings.ToLower(strings.TrimSpace(kv[0]))
			if key == "" {
				continue
			}
			val := key
			if len(kv) == 2 {
				val = strings.Trim(strings.TrimSpace(kv[1]), `"`)
			}
			params[key] = val
		}

		rel := params["rel"]
		if rel != "stylesheet" && rel != "fragment-script" {
			continue
		}

		entries = append(entries, AssetEntry{
			Href:        href,
			Rel:         rel,
			CrossOrigin: !sameOrigin(href, requestHost),
		})
	}
	return entries
}

// splitLinkEntries splits a Link header on commas that separate distinct
// link-values, without being fooled by commas inside quoted parameters.
func splitLinkEntries(header string) []string {
	var entries []string
	depth := 0
	inQuote := false
	start := 0
	for i, r := range header {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case '"':
			inQuote = !inQuote
		case ',':
			if depth <= 0 && !inQuote {
				entries = append(entries, header[start:i])
				start = i + 1
			}
		}
	}
	entries = append(entries, header[start:])
	return entries
}

// extractAssetLinkHeader returns the first of "Link" or "X-AMZ-Meta-Link"
// found on the response (case-insensitive, first-found wins per spec §4.2).
func extractAssetLinkHeader(h http.Header) string {
	if v := h.Get("Link"); v != "" {
		return v
	}
	return h.Get("X-AMZ-Meta-Link")
}

// assetsForFragment resolves the effective stylesheet/fragment-script asset
// lists for a fragment response, applying the host's maxAssetLinks cap to
// each rel independently (spec §4.2).
func assetsForFragment(h http.Header, requestHost string, maxAssetLinks int) (stylesheets, scripts []AssetEntry) {
	if maxAssetLinks <= 0 {
		maxAssetLinks = 1
	}
	for _, a := range parseLinkHeader(extractAssetLinkHeader(h), requestHost) {
		switch a.Rel {
		case "stylesheet":
			if len(stylesheets) < maxAssetLinks {
				stylesheets = append(stylesheets, a)
			}
		case "fragment-script":
			if len(scripts) < maxAssetLinks {
				scripts = append(scripts, a)
			}
		}
	}
	return
}
