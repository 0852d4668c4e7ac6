// Package views renders the embedded HTML pages through gin's HTMLRender.
package views

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

// DefaultLayout wraps every page unless the data names another layout
const DefaultLayout = "layout-site"

//go:embed templates
var templateFS embed.FS

// Renderer holds one template set per page, each combined with the layouts
type Renderer struct {
	pages map[string]*template.Template
}

var _ render.HTMLRender = (*Renderer)(nil)

// New parses all embedded pages. Page names are paths relative to the
// templates directory without extension, e.g. "auth/login".
func New() (*Renderer, error) {
	root, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}

	layouts, err := fs.Glob(root, "layout-*.tmpl")
	if err != nil {
		return nil, err
	}

	r := &Renderer{pages: map[string]*template.Template{}}
	err = fs.WalkDir(root, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".tmpl") || strings.HasPrefix(path, "layout-") {
			return err
		}
		name := strings.TrimSuffix(path, ".tmpl")
		files := append([]string{path}, layouts...)
		tmpl, err := template.New(name).ParseFS(root, files...)
		if err != nil {
			return fmt.Errorf("failed to parse view %s: %w", name, err)
		}
		r.pages[name] = tmpl
		return nil
	})
	if err != nil {
		return nil, err
	}

	return r, nil
}

// Instance implements render.HTMLRender
func (r *Renderer) Instance(name string, data any) render.Render {
	layout := DefaultLayout
	var values map[string]any
	switch h := data.(type) {
	case gin.H:
		values = h
	case map[string]any:
		values = h
	}
	if l, ok := values["layout"].(string); ok && l != "" {
		layout = l
	}
	tmpl, ok := r.pages[name]
	if !ok {
		tmpl = template.Must(template.New(name).Parse(fmt.Sprintf("view %q not found", name)))
		layout = name
	}
	return render.HTML{Template: tmpl, Name: layout, Data: data}
}

// Has reports whether a page exists
func (r *Renderer) Has(name string) bool {
	_, ok := r.pages[name]
	return ok
}
