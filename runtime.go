package compose

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/tdewolff/minify/v2"
)

// requestIDKey is an unexported context-key type so compose's request id
// never collides with a host's own context values (teacher idiom: xtemplate
// instance.go's GetRequestId).
type requestIDKey struct{}

// GetRequestID returns the request id compose assigned to ctx, if any.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// Runtime is an immutable, request-serving view of a [Config], built once
// via [NewRuntime]. Use [Server] for hot-reloadable hosting.
type Runtime struct {
	cfg *Config
	log *slog.Logger
	min *minify.M
}

// NewRuntime validates and finalizes a Config into a servable Runtime.
func NewRuntime(cfg *Config) (*Runtime, error) {
	cfg.Defaults()
	if cfg.FetchTemplate == nil {
		return nil, errors.New("compose: Config.FetchTemplate is required")
	}
	rt := &Runtime{cfg: cfg, log: cfg.Logger}
	if cfg.MinifyHTML {
		rt.min = newHTMLMinifier()
	}
	return rt, nil
}

// ServeHTTP implements the full request lifecycle of spec §2: the context
// provider and template fetch run in parallel, the result is parsed into an
// instruction list, and [PrepareRender]/[Render.Stream] produce the
// response.
func (rt *Runtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
	r = r.WithContext(ctx)

	log := rt.log.With(slog.String("request_id", reqID), slog.String("path", r.URL.Path))

	m := httpsnoop.CaptureMetrics(w, func(w http.ResponseWriter) {
		rt.serve(w, r, log)
	})
	log.Info("request complete",
		slog.Group("response", slog.Int("status", m.Code), slog.Duration("duration", m.Duration)))
}

func (rt *Runtime) serve(w http.ResponseWriter, r *http.Request, log *slog.Logger) {
	var base, child []byte
	var overrides map[string]map[string]string
	var tmplErr, ctxErr error

	var wg sync.WaitGroup
	wg.Add(1)
	if rt.cfg.FetchContext != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			overrides, ctxErr = rt.cfg.FetchContext(r.Context(), r)
		}()
	}
	go func() {
		defer wg.Done()
		base, child, tmplErr = rt.cfg.FetchTemplate(r.Context(), r)
	}()
	wg.Wait()

	if tmplErr != nil {
		writeHostError(w, log, tmplErr)
		return
	}
	if ctxErr != nil {
		log.Warn("context provider failed; continuing without overrides", slog.Any("error", ctxErr))
	}

	if rt.min != nil {
		base = minifyTemplate(rt.min, base)
		if child != nil {
			child = minifyTemplate(rt.min, child)
		}
	}

	doc, err := Parse(base, ParseOptions{HandledTags: rt.cfg.HandledTags, Child: child})
	if err != nil {
		writeHostError(w, log, &HostError{Kind: KindTemplateError, Presentable: "template parse failed", Err: err})
		return
	}
	for _, warning := range doc.Warnings {
		log.Warn("template parse warning", slog.String("warning", warning))
	}

	rr, ctx := PrepareRender(r.Context(), doc, rt.cfg, r, overrides)
	r = r.WithContext(ctx)

	for k, vs := range rr.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(rr.Status)
	rr.Stream(w)
}

// writeHostError maps a host collaborator's error to the outer HTTP
// response, using its presentable message when available (spec §7).
func writeHostError(w http.ResponseWriter, log *slog.Logger, err error) {
	var he *HostError
	kind := KindTemplateError
	msg := "internal error"
	if errors.As(err, &he) {
		kind = he.Kind
		msg = he.Presentable
	} else if pe, ok := err.(presentableError); ok {
		msg = pe.Presentable()
	}
	log.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	http.Error(w, msg, kind.Status())
}
