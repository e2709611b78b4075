package compose

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

// UserConfig collects repeated `-c key=value` CLI arguments into a static
// attribute map, exposed to a host's [Config.PipeAttributes] as extra
// pipe-hook attributes (teacher idiom: xtemplate's UserConfig flag.Value in
// main.go).
type UserConfig map[string]string

// String implements flag.Value.
func (c UserConfig) String() string {
	var b strings.Builder
	first := true
	for k, v := range c {
		if !first {
			b.WriteByte(' ')
		}
		first = false
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// Set implements flag.Value.
func (c *UserConfig) Set(arg string) error {
	k, v, ok := strings.Cut(arg, "=")
	if !ok {
		return fmt.Errorf("config arg must be in the form `k=v`, got: %q", arg)
	}
	if *c == nil {
		*c = UserConfig{}
	}
	(*c)[k] = v
	return nil
}

type cliFlags struct {
	listenAddr   string
	templateRoot string
	layoutName   string
	amdLoaderUrl string
	userConfig   UserConfig
	logLevel     int
	minifyHTML   bool
}

func parseFlags() (f cliFlags) {
	flag.StringVar(&f.listenAddr, "listen", "0.0.0.0:8080", "Listen address")
	flag.StringVar(&f.templateRoot, "template-root", "templates", "Directory templates are loaded from")
	flag.StringVar(&f.layoutName, "layout", "", "Shared base template name (without extension) composed into via slots; empty disables layouts")
	flag.StringVar(&f.amdLoaderUrl, "amd-loader-url", "", "External URL of the pipe runtime loader")
	flag.Var(&f.userConfig, "c", "Static pipe-attribute overrides, in the form `x=y`, can be specified multiple times")
	flag.IntVar(&f.logLevel, "log", 0, "Log level, DEBUG=-4, INFO=0, WARN=4, ERROR=8")
	flag.BoolVar(&f.minifyHTML, "minify", false, "Minify template HTML/CSS/JS before parsing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "compose is a streaming HTML layout composer.\nUsage of %s:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	return
}

// Main can be called from your func main() if you want your program to act
// like the default compose CLI, or use it as a reference for making your
// own. Provide configs to override the defaults, e.g.
// `compose.Main(compose.WithTracer(myTracer))` (teacher idiom: xtemplate's
// `Main(overrides ...Option)` in main.go).
//
// The built-in template source reads "<path>.html" (and, if -layout is set,
// "<layout>.html" as the base with the page as its child) directly off disk
// with the standard library; a host wanting the afero-backed [hosttemplate]
// package's richer filesystem abstraction should call [NewServer] directly
// instead of Main.
func Main(overrides ...Option) {
	flags := parseFlags()
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.Level(flags.logLevel)}))

	cfg := New()
	cfg.Logger = log
	cfg.AmdLoaderUrl = flags.amdLoaderUrl
	cfg.FetchTemplate = defaultFetchTemplate(flags.templateRoot, flags.layoutName)
	cfg.MinifyHTML = flags.minifyHTML
	if len(flags.userConfig) > 0 {
		uc := flags.userConfig
		cfg.PipeAttributes = func(map[string]string) any {
			out := make(map[string]any, len(uc))
			for k, v := range uc {
				out[k] = v
			}
			return out
		}
	}
	for _, o := range overrides {
		o(cfg)
	}

	server, err := NewServer(cfg)
	if err != nil {
		log.Error("failed to build compose server", slog.Any("error", err))
		os.Exit(2)
	}

	log.Info("serving", slog.String("address", flags.listenAddr), slog.String("template_root", flags.templateRoot))
	if err := http.ListenAndServe(flags.listenAddr, server); err != nil {
		log.Error("server stopped", slog.Any("error", err))
	}
}

// defaultFetchTemplate resolves templates straight off the filesystem rooted
// at root, the minimal dependency-free counterpart to the afero-backed
// [hosttemplate.Dir] a host can opt into instead (spec §9 "Template cache
// boundary" — fetchTemplate is always a host concern, never baked into the
// core).
func defaultFetchTemplate(root, layoutName string) func(ctx context.Context, r *http.Request) (base, child []byte, err error) {
	return func(ctx context.Context, r *http.Request) (base, child []byte, err error) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		if name == "" || strings.HasSuffix(name, "/") {
			name += "index"
		}
		pagePath := path.Join(root, path.Clean(name)+".html")

		page, err := os.ReadFile(pagePath)
		if err != nil {
			return nil, nil, notFoundOrReadError(pagePath, err)
		}
		if layoutName == "" {
			return page, nil, nil
		}

		layoutPath := path.Join(root, layoutName+".html")
		layout, err := os.ReadFile(layoutPath)
		if err != nil {
			return nil, nil, &HostError{
				Kind:        KindTemplateError,
				Presentable: "layout template unavailable",
				Err:         fmt.Errorf("reading %s: %w", layoutPath, err),
			}
		}
		return layout, page, nil
	}
}

func notFoundOrReadError(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &HostError{Kind: KindTemplateNotFound, Presentable: "not found", Err: err}
	}
	return &HostError{Kind: KindTemplateError, Presentable: "template read failed", Err: fmt.Errorf("reading %s: %w", name, err)}
}
