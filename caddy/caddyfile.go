package compose_caddy

import (
	"strconv"

	"github.com/caddyserver/caddy/v2/caddyconfig/httpcaddyfile"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
)

func init() {
	httpcaddyfile.RegisterHandlerDirective("compose", parseCaddyfile)
}

// parseCaddyfile sets up the handler from Caddyfile tokens, e.g.:
//
//	compose {
//		template_root ./pages
//		layout _layout
//		amd_loader_url /static/pipe.js
//		max_asset_links 2
//		minify_html
//	}
func parseCaddyfile(h httpcaddyfile.Helper) (caddyhttp.MiddlewareHandler, error) {
	m := &ComposeModule{}

	for h.Next() {
		for h.NextBlock(0) {
			switch h.Val() {
			case "template_root":
				if !h.AllArgs(&m.TemplateRoot) {
					return nil, h.ArgErr()
				}
			case "layout":
				if !h.AllArgs(&m.LayoutName) {
					return nil, h.ArgErr()
				}
			case "amd_loader_url":
				if !h.AllArgs(&m.AmdLoaderUrl) {
					return nil, h.ArgErr()
				}
			case "pipe_instance_name":
				if !h.AllArgs(&m.PipeInstanceName) {
					return nil, h.ArgErr()
				}
			case "max_asset_links":
				var s string
				if !h.AllArgs(&s) {
					return nil, h.ArgErr()
				}
				n, err := strconv.Atoi(s)
				if err != nil {
					return nil, h.Errf("max_asset_links must be an integer: %s", err)
				}
				m.MaxAssetLinks = n
			case "minify_html":
				if h.NextArg() {
					b, err := strconv.ParseBool(h.Val())
					if err != nil {
						return nil, h.Errf("minify_html must be a boolean: %s", err)
					}
					m.MinifyHTML = b
				} else {
					m.MinifyHTML = true
				}
			default:
				return nil, h.Errf("unknown config option %q", h.Val())
			}
		}
	}
	return m, nil
}
