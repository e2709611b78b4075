// Package hosttemplate is a reference [compose.Config.FetchTemplate]
// implementation that resolves base and child templates from a directory,
// keyed by the request path (teacher idiom: xtemplate's afero-backed
// Template.FS/Path handling in config.go and dot_fs.go).
package hosttemplate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/infogulch/compose"
	"github.com/spf13/afero"
)

// Dir resolves templates from an afero filesystem. The request path (minus
// a leading slash, defaulting to "index") is looked up as
// "<path><Extension>" for the page (child) template. If LayoutName is set,
// "<LayoutName><Extension>" is read once per request as the base template
// and the page becomes its child; otherwise the page file is the base and
// there is no child.
type Dir struct {
	FS afero.Fs

	// Extension defaults to ".html".
	Extension string

	// LayoutName, if set, names a shared base template (e.g. "_layout")
	// that every page composes into via slots.
	LayoutName string
}

// NewDir wraps a native directory path in an afero.Fs.
func NewDir(root string) *Dir {
	return &Dir{FS: afero.NewBasePathFs(afero.NewOsFs(), root), Extension: ".html"}
}

// FetchTemplate implements the compose.Config.FetchTemplate signature.
func (d *Dir) FetchTemplate(ctx context.Context, r *http.Request) (base, child []byte, err error) {
	ext := d.Extension
	if ext == "" {
		ext = ".html"
	}

	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index"
	}
	pagePath := path.Clean(name) + ext

	page, err := afero.ReadFile(d.FS, pagePath)
	if err != nil {
		return nil, nil, notFoundOrError(pagePath, err)
	}

	if d.LayoutName == "" {
		return page, nil, nil
	}

	layoutPath := d.LayoutName + ext
	layout, err := afero.ReadFile(d.FS, layoutPath)
	if err != nil {
		return nil, nil, &compose.HostError{
			Kind:        compose.KindTemplateError,
			Presentable: "layout template unavailable",
			Err:         fmt.Errorf("reading %s: %w", layoutPath, err),
		}
	}
	return layout, page, nil
}

func notFoundOrError(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &compose.HostError{
			Kind:        compose.KindTemplateNotFound,
			Presentable: "not found",
			Err:         err,
		}
	}
	return &compose.HostError{
		Kind:        compose.KindTemplateError,
		Presentable: "template read failed",
		Err:         fmt.Errorf("reading %s: %w", name, err),
	}
}
