package compose

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/opentracing/opentracing-go"
)

// New returns a Config populated with defaults (teacher idiom: see
// xtemplate's Config.Defaults()).
func New() (c *Config) {
	c = &Config{}
	c.Defaults()
	return
}

// Config collects every external collaborator named in spec §6: the things
// this package treats as out of scope and consumes through host-supplied
// hooks.
type Config struct {
	// AmdLoaderUrl, if set, is the external URL the outer response's Link
	// preload header points at and the <script async> tag in the preamble
	// loads. Mutually exclusive in practice with an inlined PipeDefinition
	// (spec §4.5 "headers on the outer response").
	AmdLoaderUrl string `json:"amd_loader_url,omitempty"`

	// PipeDefinition, if set, is inlined verbatim as `var <PipeInstanceName>
	// = <PipeDefinition>` in the preamble instead of loading the runtime
	// from AmdLoaderUrl.
	PipeDefinition string `json:"-"`

	// PipeInstanceName is the bound identifier for the pipe runtime.
	// Defaults to "p".
	PipeInstanceName string `json:"pipe_instance_name,omitempty"`

	// MaxAssetLinks caps the number of stylesheets and fragment-scripts
	// used per fragment (spec §4.2, §4.6). Defaults to 1.
	MaxAssetLinks int `json:"max_asset_links,omitempty"`

	// HandledTags names the custom tags HandleTag owns (spec §4.1).
	HandledTags map[string]bool `json:"-"`

	// HandleTag renders a custom tag instruction. Required if HandledTags
	// is non-empty.
	HandleTag TagHandler `json:"-"`

	// FetchTemplate resolves the base (and optional child) template bytes
	// for a request. A [HostError] it returns is surfaced to the client
	// with its Kind mapped to a status code (spec §4.1 "Errors").
	FetchTemplate func(ctx context.Context, r *http.Request) (base, child []byte, err error) `json:"-"`

	// FetchContext resolves per-request attribute overrides keyed by
	// fragment id, consulted in parallel with FetchTemplate (spec §2
	// "context provider is consulted in parallel with template fetch").
	FetchContext func(ctx context.Context, r *http.Request) (map[string]map[string]string, error) `json:"-"`

	// PipeAttributes maps a fragment's attributes to the object literal
	// serialized into its pipe hooks (spec §6).
	PipeAttributes func(attrs map[string]string) any `json:"-"`

	// FilterResponseHeaders post-processes a public fragment's response
	// headers before they're eligible for primary propagation (spec §6).
	FilterResponseHeaders func(attrs map[string]string, h http.Header) http.Header `json:"-"`

	// Tracer is consulted for both the per-request server span and each
	// fragment's client span (spec §4.7). May be nil.
	Tracer opentracing.Tracer `json:"-"`

	// Client is the HTTP client used for fragment fetches. Defaults to a
	// client that does not follow redirects (see [Config.Defaults]).
	Client *http.Client `json:"-"`

	Logger *slog.Logger `json:"-"`

	// MinifyHTML runs fetched template bytes through an HTML/CSS/JS minifier
	// before [Parse] tokenizes them, trimming whitespace and comments from
	// the literal runs that make it into the response; document and end tags
	// are kept (spec §9 "shell
	// minification"). Off by default.
	MinifyHTML bool `json:"minify_html,omitempty"`
}

// Defaults fills unset fields with their documented defaults (teacher idiom:
// xtemplate's Config.Defaults()).
func (c *Config) Defaults() *Config {
	if c.PipeInstanceName == "" {
		c.PipeInstanceName = "p"
	}
	if c.MaxAssetLinks <= 0 {
		c.MaxAssetLinks = 1
	}
	if c.Client == nil {
		// Fragment upstreams returning a redirect must have their status and
		// Location header observed directly, never silently followed (spec
		// §4.3 "3xx primary triggers redirect-header propagation but no
		// follow").
		c.Client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Option configures a Config in [Main] or [NewServer].
type Option func(*Config)

func WithAmdLoaderUrl(url string) Option {
	return func(c *Config) { c.AmdLoaderUrl = url }
}

func WithPipeDefinition(name, definition string) Option {
	return func(c *Config) {
		c.PipeInstanceName = name
		c.PipeDefinition = definition
	}
}

func WithMaxAssetLinks(n int) Option {
	return func(c *Config) { c.MaxAssetLinks = n }
}

func WithHandledTag(name string, h TagHandler) Option {
	return func(c *Config) {
		if c.HandledTags == nil {
			c.HandledTags = map[string]bool{}
		}
		c.HandledTags[name] = true
		c.HandleTag = h
	}
}

func WithFetchTemplate(f func(ctx context.Context, r *http.Request) (base, child []byte, err error)) Option {
	return func(c *Config) { c.FetchTemplate = f }
}

func WithFetchContext(f func(ctx context.Context, r *http.Request) (map[string]map[string]string, error)) Option {
	return func(c *Config) { c.FetchContext = f }
}

func WithPipeAttributes(f func(attrs map[string]string) any) Option {
	return func(c *Config) { c.PipeAttributes = f }
}

func WithFilterResponseHeaders(f func(attrs map[string]string, h http.Header) http.Header) Option {
	return func(c *Config) { c.FilterResponseHeaders = f }
}

func WithTracer(t opentracing.Tracer) Option {
	return func(c *Config) { c.Tracer = t }
}

func WithClient(client *http.Client) Option {
	return func(c *Config) { c.Client = client }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func WithMinifyHTML(enabled bool) Option {
	return func(c *Config) { c.MinifyHTML = enabled }
}
