// Package compose_caddy wraps a [compose.Server] as a Caddy HTTP handler
// module, the way the teacher (infogulch/xtemplate) wraps its own Instance
// in caddy.go/caddy/module.go.
package compose_caddy

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/caddyserver/caddy/v2"
	"github.com/caddyserver/caddy/v2/modules/caddyhttp"
	"go.uber.org/zap/exp/zapslog"

	"github.com/infogulch/compose"
	"github.com/infogulch/compose/hosttemplate"
)

func init() {
	caddy.RegisterModule(ComposeModule{})
}

// CaddyModule returns the Caddy module information.
func (ComposeModule) CaddyModule() caddy.ModuleInfo {
	return caddy.ModuleInfo{
		ID:  "http.handlers.compose",
		New: func() caddy.Module { return new(ComposeModule) },
	}
}

// ComposeModule is a Caddy HTTP handler that serves composed pages from
// fragment templates rooted at TemplateRoot.
type ComposeModule struct {
	// TemplateRoot is the directory templates are read from (see
	// [hosttemplate.Dir]).
	TemplateRoot string `json:"template_root,omitempty"`

	// LayoutName, if set, names a shared base template every page composes
	// into via slots; see hosttemplate.Dir.LayoutName.
	LayoutName string `json:"layout_name,omitempty"`

	// AmdLoaderUrl is the external pipe-runtime loader URL. See
	// compose.Config.AmdLoaderUrl.
	AmdLoaderUrl string `json:"amd_loader_url,omitempty"`

	// PipeInstanceName is the client-side global name bound to the pipe
	// runtime. Defaults to "p".
	PipeInstanceName string `json:"pipe_instance_name,omitempty"`

	// MaxAssetLinks caps stylesheets and fragment-scripts used per fragment.
	// Defaults to 1.
	MaxAssetLinks int `json:"max_asset_links,omitempty"`

	// MinifyHTML enables an HTML/CSS/JS minification pass over fetched
	// template bytes before they're parsed. See compose.Config.MinifyHTML.
	MinifyHTML bool `json:"minify_html,omitempty"`

	server *compose.Server
}

// Validate ensures m has a valid configuration. Implements caddy.Validator.
func (m *ComposeModule) Validate() error {
	if m.TemplateRoot == "" {
		return fmt.Errorf("compose: template_root is required")
	}
	return nil
}

// Provision builds the underlying [compose.Server]. Implements
// caddy.Provisioner.
func (m *ComposeModule) Provision(ctx caddy.Context) error {
	log := slog.New(zapslog.NewHandler(ctx.Logger().Core(), nil))

	dir := hosttemplate.NewDir(m.TemplateRoot)
	dir.LayoutName = m.LayoutName

	cfg := compose.New()
	cfg.Logger = log
	cfg.FetchTemplate = dir.FetchTemplate
	cfg.AmdLoaderUrl = m.AmdLoaderUrl
	if m.PipeInstanceName != "" {
		cfg.PipeInstanceName = m.PipeInstanceName
	}
	if m.MaxAssetLinks > 0 {
		cfg.MaxAssetLinks = m.MaxAssetLinks
	}
	cfg.MinifyHTML = m.MinifyHTML

	server, err := compose.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("compose: provisioning server: %w", err)
	}
	m.server = server
	return nil
}

// ServeHTTP implements caddyhttp.MiddlewareHandler.
func (m *ComposeModule) ServeHTTP(w http.ResponseWriter, r *http.Request, _ caddyhttp.Handler) error {
	m.server.ServeHTTP(w, r)
	return nil
}

// Interface guards
var (
	_ caddy.Validator             = (*ComposeModule)(nil)
	_ caddy.Provisioner           = (*ComposeModule)(nil)
	_ caddyhttp.MiddlewareHandler = (*ComposeModule)(nil)
)
